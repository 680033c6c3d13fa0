package statearea

import "encoding/binary"

// QueueEntry is one pending-transfer descriptor in the message queue
// buffer (spec.md §3 "MDB/QB: Ordered sequence of pending-transfer
// descriptors"). Mutated by the scheduler only.
//
// Live distinguishes a retired slot from a pending one: the scheduler
// marks an entry retired (Live == 0) rather than physically shifting the
// array on every dequeue, and compacts via PublishNew during the next
// housekeeping pass — the typed-array analogue of the source's
// geometric-growth buffer (spec.md §9 "dynamic malloc+realloc geometric
// growth").
type QueueEntry struct {
	MsgNumber    uint64
	JobID        uint32
	DirID        uint32 // set instead of JobID for retrieve-scan entries
	PID          int32  // 0 if not yet dispatched
	SpecialFlags uint16
	Priority     uint8 // '0'-'9', copied from JID at enqueue time
	Live         uint8
	CreationTime int64
	FSAPosition  int32
}

const queueEntrySize = 8 + 4 + 4 + 4 + 2 + 1 + 1 + 8 + 4

// QueueCodec implements Codec[QueueEntry].
type QueueCodec struct{}

func (QueueCodec) RecordSize() int { return queueEntrySize }

func (QueueCodec) Encode(v QueueEntry, dst []byte) {
	off := 0
	binary.LittleEndian.PutUint64(dst[off:off+8], v.MsgNumber)
	off += 8
	binary.LittleEndian.PutUint32(dst[off:off+4], v.JobID)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:off+4], v.DirID)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:off+4], uint32(v.PID))
	off += 4
	binary.LittleEndian.PutUint16(dst[off:off+2], v.SpecialFlags)
	off += 2
	dst[off] = v.Priority
	off++
	dst[off] = v.Live
	off++
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(v.CreationTime))
	off += 8
	binary.LittleEndian.PutUint32(dst[off:off+4], uint32(v.FSAPosition))
}

func (QueueCodec) Decode(src []byte) QueueEntry {
	var v QueueEntry
	off := 0
	v.MsgNumber = binary.LittleEndian.Uint64(src[off : off+8])
	off += 8
	v.JobID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.DirID = binary.LittleEndian.Uint32(src[off : off+4])
	off += 4
	v.PID = int32(binary.LittleEndian.Uint32(src[off : off+4]))
	off += 4
	v.SpecialFlags = binary.LittleEndian.Uint16(src[off : off+2])
	off += 2
	v.Priority = src[off]
	off++
	v.Live = src[off]
	off++
	v.CreationTime = int64(binary.LittleEndian.Uint64(src[off : off+8]))
	off += 8
	v.FSAPosition = int32(binary.LittleEndian.Uint32(src[off : off+4]))
	return v
}
