package statearea

import (
	"bytes"
	"encoding/binary"
)

// MaxJobSlots bounds the number of concurrent job slots tracked per host.
// AFD sizes this per host's max-parallel-transfers; we cap the on-disk
// record at a fixed width and let a host configure fewer slots than this.
const MaxJobSlots = 16

// Host status bits (spec.md §3 "host-status bitset").
const (
	HostDisabled uint32 = 1 << iota
	HostOffline
	HostStopped
	HostErrorAcked
)

// JobSlot is one active-transfer slot inside a Host record (spec.md §3:
// "per-job-slot status: protocol phase, bytes done, file count, unique
// name, job id").
type JobSlot struct {
	Phase      uint8
	BytesDone  uint64
	FilesDone  uint32
	JobID      uint32
	UniqueName [64]byte
}

const jobSlotSize = 1 + 8 + 4 + 4 + 64

func encodeJobSlot(j JobSlot, dst []byte) {
	dst[0] = j.Phase
	binary.LittleEndian.PutUint64(dst[1:9], j.BytesDone)
	binary.LittleEndian.PutUint32(dst[9:13], j.FilesDone)
	binary.LittleEndian.PutUint32(dst[13:17], j.JobID)
	copy(dst[17:17+64], j.UniqueName[:])
}

func decodeJobSlot(src []byte) JobSlot {
	var j JobSlot
	j.Phase = src[0]
	j.BytesDone = binary.LittleEndian.Uint64(src[1:9])
	j.FilesDone = binary.LittleEndian.Uint32(src[9:13])
	j.JobID = binary.LittleEndian.Uint32(src[13:17])
	copy(j.UniqueName[:], src[17:17+64])
	return j
}

// SetUniqueName copies s into the fixed buffer, truncating if needed.
func (j *JobSlot) SetUniqueName(s string) {
	clearAndCopy(j.UniqueName[:], s)
}

// GetUniqueName returns the NUL-trimmed unique name.
func (j JobSlot) GetUniqueName() string {
	return cString(j.UniqueName[:])
}

// Host is the FSA entry: one record per configured host alias.
type Host struct {
	Alias         [16]byte
	RealHostName1 [64]byte
	RealHostName2 [64]byte
	ProtocolBits  uint32
	MaxParallel   uint16
	Allowed       uint16
	ActiveCount   uint16
	ErrorCounter  uint16
	HostStatus    uint32
	DebugMode     uint8
	ToggleActive  uint8 // 0 = RealHostName1 active, 1 = RealHostName2
	Slots         [MaxJobSlots]JobSlot
}

// GetAlias returns the NUL-trimmed alias.
func (h Host) GetAlias() string { return cString(h.Alias[:]) }

// SetAlias sets the alias field.
func (h *Host) SetAlias(s string) { clearAndCopy(h.Alias[:], s) }

// ActiveRealHostName returns whichever of the two real hostnames is
// currently toggled-in.
func (h Host) ActiveRealHostName() string {
	if h.ToggleActive == 0 {
		return cString(h.RealHostName1[:])
	}
	return cString(h.RealHostName2[:])
}

// Toggle swaps the active real hostname, the mechanism spec.md §4.C's
// host-toggle policy uses after max_errors consecutive failures.
func (h *Host) Toggle() {
	if h.ToggleActive == 0 {
		h.ToggleActive = 1
	} else {
		h.ToggleActive = 0
	}
}

// hostRecordSize is the fixed on-disk size of a Host record.
const hostRecordSize = 16 + 64 + 64 + 4 + 2 + 2 + 2 + 2 + 4 + 1 + 1 + MaxJobSlots*jobSlotSize

// HostCodec implements Codec[Host].
type HostCodec struct{}

func (HostCodec) RecordSize() int { return hostRecordSize }

func (HostCodec) Encode(v Host, dst []byte) {
	off := 0
	copy(dst[off:off+16], v.Alias[:])
	off += 16
	copy(dst[off:off+64], v.RealHostName1[:])
	off += 64
	copy(dst[off:off+64], v.RealHostName2[:])
	off += 64
	binary.LittleEndian.PutUint32(dst[off:off+4], v.ProtocolBits)
	off += 4
	binary.LittleEndian.PutUint16(dst[off:off+2], v.MaxParallel)
	off += 2
	binary.LittleEndian.PutUint16(dst[off:off+2], v.Allowed)
	off += 2
	binary.LittleEndian.PutUint16(dst[off:off+2], v.ActiveCount)
	off += 2
	binary.LittleEndian.PutUint16(dst[off:off+2], v.ErrorCounter)
	off += 2
	binary.LittleEndian.PutUint32(dst[off:off+4], v.HostStatus)
	off += 4
	dst[off] = v.DebugMode
	off++
	dst[off] = v.ToggleActive
	off++
	for i := range v.Slots {
		encodeJobSlot(v.Slots[i], dst[off:off+jobSlotSize])
		off += jobSlotSize
	}
}

func (HostCodec) Decode(src []byte) Host {
	var v Host
	off := 0
	copy(v.Alias[:], src[off:off+16])
	off += 16
	copy(v.RealHostName1[:], src[off:off+64])
	off += 64
	copy(v.RealHostName2[:], src[off:off+64])
	off += 64
	v.ProtocolBits = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.MaxParallel = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.Allowed = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.ActiveCount = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.ErrorCounter = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.HostStatus = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.DebugMode = src[off]
	off++
	v.ToggleActive = src[off]
	off++
	for i := range v.Slots {
		v.Slots[i] = decodeJobSlot(src[off : off+jobSlotSize])
		off += jobSlotSize
	}
	return v
}

// cString trims a fixed byte buffer at the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// clearAndCopy zeroes dst then copies s into it, truncating to len(dst).
func clearAndCopy(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
