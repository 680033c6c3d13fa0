package statearea

import "sync"

// Ref wraps an Area[T] so long-lived readers (the scheduler, a worker,
// the archive scanner) never operate on a stale mapping: every access
// re-attaches first if the previous generation was retired. This is the
// concrete form of spec.md §4.A's "Readers MUST re-attach when they
// observe STALE between two reads" and §9's "(id, generation) handles
// that resolve to a position on each touch".
type Ref[T any] struct {
	mu   sync.Mutex
	area *Area[T]
}

// NewRef wraps an already-attached Area.
func NewRef[T any](a *Area[T]) *Ref[T] {
	return &Ref[T]{area: a}
}

func (r *Ref[T]) ensureFresh() (*Area[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.area.IsStale() {
		next, err := r.area.Reattach()
		if err != nil {
			return nil, err
		}
		r.area = next
	}
	return r.area, nil
}

// LookupBy resolves pred to a position against the current generation.
func (r *Ref[T]) LookupBy(pred func(T) bool) (int, error) {
	a, err := r.ensureFresh()
	if err != nil {
		return -1, err
	}
	return a.LookupBy(pred)
}

// Get reads the record at pos against the current generation. pos must
// have been resolved via LookupBy in the same touch; positions are not
// valid across a generation swap.
func (r *Ref[T]) Get(pos int) (T, error) {
	a, err := r.ensureFresh()
	if err != nil {
		var zero T
		return zero, err
	}
	return a.Get(pos)
}

// Set writes the record at pos against the current generation.
func (r *Ref[T]) Set(pos int, v T) error {
	a, err := r.ensureFresh()
	if err != nil {
		return err
	}
	return a.Set(pos, v)
}

// ForEach visits every live record in the current generation.
func (r *Ref[T]) ForEach(fn func(pos int, v T) bool) error {
	a, err := r.ensureFresh()
	if err != nil {
		return err
	}
	a.ForEach(fn)
	return nil
}

// Count returns the live record count in the current generation.
func (r *Ref[T]) Count() (int, error) {
	a, err := r.ensureFresh()
	if err != nil {
		return 0, err
	}
	return a.Count(), nil
}

// Close releases the underlying mapping.
func (r *Ref[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.area.Close()
}
