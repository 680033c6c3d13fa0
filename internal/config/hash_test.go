package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTuple() Tuple {
	return Tuple{
		Dir:         DirSection{Alias: "sat", Path: "/data/sat", MaxParallel: 2, Retention: 3600},
		Filters:     []string{"*.dat", "*.wmo"},
		Recipient:   RecipientSection{URL: "ftp://host/incoming", Priority: '5'},
		DirConfigID: 42,
	}
}

// TestIdempotence establishes spec.md §8 property 7: applying the same
// DIR_CONFIG twice yields identical JID/DNB/FMD content (same hashes).
func TestIdempotence(t *testing.T) {
	a := sampleTuple()
	b := sampleTuple()
	assert.Equal(t, JobID(a), JobID(b))
	assert.Equal(t, DirID(a.Dir), DirID(b.Dir))
	assert.Equal(t, FileMaskID(a.Filters), FileMaskID(b.Filters))
}

func TestJobIDChangesOnAnyFieldEdit(t *testing.T) {
	base := JobID(sampleTuple())

	withURL := sampleTuple()
	withURL.Recipient.URL = "ftp://otherhost/incoming"
	assert.NotEqual(t, base, JobID(withURL))

	withPriority := sampleTuple()
	withPriority.Recipient.Priority = '9'
	assert.NotEqual(t, base, JobID(withPriority))

	withFilters := sampleTuple()
	withFilters.Filters = []string{"*.wmo", "*.dat"} // order swapped
	assert.NotEqual(t, base, JobID(withFilters))

	withOptions := sampleTuple()
	withOptions.Recipient.LocalOptions = []string{"rename=dot"}
	assert.NotEqual(t, base, JobID(withOptions))
}

func TestDirIDStableAcrossRecipientChanges(t *testing.T) {
	a := sampleTuple()
	b := sampleTuple()
	b.Recipient.URL = "sftp://otherhost/incoming"
	assert.Equal(t, DirID(a.Dir), DirID(b.Dir))
	assert.NotEqual(t, JobID(a), JobID(b))
}

func TestFileMaskIDOrderSensitive(t *testing.T) {
	id1 := FileMaskID([]string{"*.a", "*.b"})
	id2 := FileMaskID([]string{"*.b", "*.a"})
	assert.NotEqual(t, id1, id2)
}

func TestFieldSeparatorAvoidsConcatenationCollision(t *testing.T) {
	id1 := hash32("ab", "c")
	id2 := hash32("a", "bc")
	assert.NotEqual(t, id1, id2)
}
