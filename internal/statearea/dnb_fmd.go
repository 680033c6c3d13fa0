package statearea

import "encoding/binary"

// DirNameEntry maps a dir-id to its canonical path (spec.md §3 "DNB:
// Map dir-id -> canonical path; append-only").
type DirNameEntry struct {
	DirID uint32
	Path  [512]byte
}

func (e DirNameEntry) GetPath() string   { return cString(e.Path[:]) }
func (e *DirNameEntry) SetPath(s string) { clearAndCopy(e.Path[:], s) }

const dirNameEntrySize = 4 + 512

// DirNameCodec implements Codec[DirNameEntry].
type DirNameCodec struct{}

func (DirNameCodec) RecordSize() int { return dirNameEntrySize }

func (DirNameCodec) Encode(v DirNameEntry, dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], v.DirID)
	copy(dst[4:4+512], v.Path[:])
}

func (DirNameCodec) Decode(src []byte) DirNameEntry {
	var v DirNameEntry
	v.DirID = binary.LittleEndian.Uint32(src[0:4])
	copy(v.Path[:], src[4:4+512])
	return v
}

// MaxMaskPatterns bounds the glob patterns stored inline per file-mask-id
// record. SetPatterns keeps only the first MaxMaskPatterns entries of a
// longer DIR_CONFIG filter list; no chained FileMask record is written.
const MaxMaskPatterns = 8

// FileMask maps a file-mask-id to its ordered glob pattern list (spec.md
// §3 "FMD: Map file-mask-id -> ordered list of glob patterns;
// append-only").
type FileMask struct {
	MaskID   uint32
	Count    uint8
	Patterns [MaxMaskPatterns][64]byte
}

// PatternStrings returns the live glob patterns in order.
func (f FileMask) PatternStrings() []string {
	out := make([]string, 0, f.Count)
	for i := 0; i < int(f.Count) && i < MaxMaskPatterns; i++ {
		out = append(out, cString(f.Patterns[i][:]))
	}
	return out
}

// SetPatterns truncates to MaxMaskPatterns and fills the record.
func (f *FileMask) SetPatterns(patterns []string) {
	n := len(patterns)
	if n > MaxMaskPatterns {
		n = MaxMaskPatterns
	}
	f.Count = uint8(n)
	for i := 0; i < n; i++ {
		clearAndCopy(f.Patterns[i][:], patterns[i])
	}
}

const fileMaskRecordSize = 4 + 1 + MaxMaskPatterns*64

// FileMaskCodec implements Codec[FileMask].
type FileMaskCodec struct{}

func (FileMaskCodec) RecordSize() int { return fileMaskRecordSize }

func (FileMaskCodec) Encode(v FileMask, dst []byte) {
	off := 0
	binary.LittleEndian.PutUint32(dst[off:off+4], v.MaskID)
	off += 4
	dst[off] = v.Count
	off++
	for i := range v.Patterns {
		copy(dst[off:off+64], v.Patterns[i][:])
		off += 64
	}
}

func (FileMaskCodec) Decode(src []byte) FileMask {
	var v FileMask
	off := 0
	v.MaskID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.Count = src[off]
	off++
	for i := range v.Patterns {
		copy(v.Patterns[i][:], src[off:off+64])
		off += 64
	}
	return v
}
