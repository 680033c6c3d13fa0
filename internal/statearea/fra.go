package statearea

import "encoding/binary"

// Directory flags (spec.md §3 "flags (disabled, stopped,
// inotify-needs-scan, warn-time-reached)").
const (
	DirDisabled uint32 = 1 << iota
	DirStopped
	DirInotifyNeedsScan
	DirWarnTimeReached
)

// Directory is the FRA entry: one record per configured source
// directory.
type Directory struct {
	Alias            [16]byte
	DirID            uint32
	URL              [256]byte
	Path             [512]byte
	Protocol         uint8
	Parallelism      uint16
	FileCounter      uint32
	ByteCounter      uint64
	Flags            uint32
	RetentionSeconds uint32
	NextCheckTime    int64
	WindowStartMin   uint16
	WindowEndMin     uint16
}

func (d Directory) GetAlias() string { return cString(d.Alias[:]) }
func (d *Directory) SetAlias(s string) { clearAndCopy(d.Alias[:], s) }
func (d Directory) GetURL() string   { return cString(d.URL[:]) }
func (d *Directory) SetURL(s string) { clearAndCopy(d.URL[:], s) }
func (d Directory) GetPath() string   { return cString(d.Path[:]) }
func (d *Directory) SetPath(s string) { clearAndCopy(d.Path[:], s) }

const directoryRecordSize = 16 + 4 + 256 + 512 + 1 + 2 + 4 + 8 + 4 + 4 + 8 + 2 + 2

// DirectoryCodec implements Codec[Directory].
type DirectoryCodec struct{}

func (DirectoryCodec) RecordSize() int { return directoryRecordSize }

func (DirectoryCodec) Encode(v Directory, dst []byte) {
	off := 0
	copy(dst[off:off+16], v.Alias[:])
	off += 16
	binary.LittleEndian.PutUint32(dst[off:off+4], v.DirID)
	off += 4
	copy(dst[off:off+256], v.URL[:])
	off += 256
	copy(dst[off:off+512], v.Path[:])
	off += 512
	dst[off] = v.Protocol
	off++
	binary.LittleEndian.PutUint16(dst[off:off+2], v.Parallelism)
	off += 2
	binary.LittleEndian.PutUint32(dst[off:off+4], v.FileCounter)
	off += 4
	binary.LittleEndian.PutUint64(dst[off:off+8], v.ByteCounter)
	off += 8
	binary.LittleEndian.PutUint32(dst[off:off+4], v.Flags)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:off+4], v.RetentionSeconds)
	off += 4
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(v.NextCheckTime))
	off += 8
	binary.LittleEndian.PutUint16(dst[off:off+2], v.WindowStartMin)
	off += 2
	binary.LittleEndian.PutUint16(dst[off:off+2], v.WindowEndMin)
}

func (DirectoryCodec) Decode(src []byte) Directory {
	var v Directory
	off := 0
	copy(v.Alias[:], src[off:off+16])
	off += 16
	v.DirID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	copy(v.URL[:], src[off:off+256])
	off += 256
	copy(v.Path[:], src[off:off+512])
	off += 512
	v.Protocol = src[off]
	off++
	v.Parallelism = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.FileCounter = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.ByteCounter = binary.LittleEndian.Uint64(src[off : off+8])
	off += 8
	v.Flags = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.RetentionSeconds = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.NextCheckTime = int64(binary.LittleEndian.Uint64(src[off : off+8]))
	off += 8
	v.WindowStartMin = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.WindowEndMin = binary.LittleEndian.Uint16(src[off : off+2])
	return v
}
