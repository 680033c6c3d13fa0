package statearea

import "encoding/binary"

// JobID is the JID entry: an immutable tuple minted by the config loader
// whenever a (directory, filter, recipient, options) tuple's content
// changes (spec.md §3 "Job-ID record"). Job-ids are never reused.
type JobID struct {
	JobID         uint32
	DirID         uint32
	FileMaskID    uint32
	RecipientURL  [256]byte
	Priority      uint8 // '0'-'9', lower numeric = higher priority
	LocalOptions  [128]byte
	SocketOptions [64]byte
	DirConfigID   uint32
}

func (j JobID) GetRecipientURL() string   { return cString(j.RecipientURL[:]) }
func (j *JobID) SetRecipientURL(s string) { clearAndCopy(j.RecipientURL[:], s) }
func (j JobID) GetLocalOptions() string   { return cString(j.LocalOptions[:]) }
func (j *JobID) SetLocalOptions(s string) { clearAndCopy(j.LocalOptions[:], s) }
func (j JobID) GetSocketOptions() string  { return cString(j.SocketOptions[:]) }
func (j *JobID) SetSocketOptions(s string) { clearAndCopy(j.SocketOptions[:], s) }

const jobIDRecordSize = 4 + 4 + 4 + 256 + 1 + 128 + 64 + 4

// JobIDCodec implements Codec[JobID].
type JobIDCodec struct{}

func (JobIDCodec) RecordSize() int { return jobIDRecordSize }

func (JobIDCodec) Encode(v JobID, dst []byte) {
	off := 0
	binary.LittleEndian.PutUint32(dst[off:off+4], v.JobID)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:off+4], v.DirID)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:off+4], v.FileMaskID)
	off += 4
	copy(dst[off:off+256], v.RecipientURL[:])
	off += 256
	dst[off] = v.Priority
	off++
	copy(dst[off:off+128], v.LocalOptions[:])
	off += 128
	copy(dst[off:off+64], v.SocketOptions[:])
	off += 64
	binary.LittleEndian.PutUint32(dst[off:off+4], v.DirConfigID)
}

func (JobIDCodec) Decode(src []byte) JobID {
	var v JobID
	off := 0
	v.JobID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.DirID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.FileMaskID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	copy(v.RecipientURL[:], src[off:off+256])
	off += 256
	v.Priority = src[off]
	off++
	copy(v.LocalOptions[:], src[off:off+128])
	off += 128
	copy(v.SocketOptions[:], src[off:off+64])
	off += 64
	v.DirConfigID = binary.LittleEndian.Uint32(src[off : off+4])
	return v
}
