package ledger

import (
	"encoding/binary"
	"errors"
)

// MaxSlotHashes is the number of recent slot hashes retained.
const MaxSlotHashes = 512

// SlotHashesNewestOffset is the byte offset of the newest hash in the encoded
// buffer: an 8-byte count followed by the newest entry's 8-byte slot.
const SlotHashesNewestOffset = 16

// ErrMalformedSlotHashes is returned when decoding a truncated buffer.
var ErrMalformedSlotHashes = errors.New("malformed slot hashes")

// SlotHash pairs a slot with the hash produced for it.
type SlotHash struct {
	Slot uint64
	Hash [32]byte
}

// SlotHashes is a bounded list of recent slot hashes, newest first.
type SlotHashes []SlotHash

func (s SlotHashes) push(slot uint64, hash [32]byte) SlotHashes {
	next := make(SlotHashes, 0, min(len(s)+1, MaxSlotHashes))
	next = append(next, SlotHash{Slot: slot, Hash: hash})
	for _, entry := range s {
		if len(next) == MaxSlotHashes {
			break
		}
		next = append(next, entry)
	}
	return next
}

// Encode serializes the list as count u64 LE followed by (slot u64 LE, hash) entries.
func (s SlotHashes) Encode() []byte {
	buf := make([]byte, 0, 8+len(s)*40)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	for _, entry := range s {
		buf = binary.LittleEndian.AppendUint64(buf, entry.Slot)
		buf = append(buf, entry.Hash[:]...)
	}
	return buf
}

// DecodeSlotHashes parses the output of Encode.
func DecodeSlotHashes(buf []byte) (SlotHashes, error) {
	if len(buf) < 8 {
		return nil, ErrMalformedSlotHashes
	}
	count := binary.LittleEndian.Uint64(buf[:8])
	if count > MaxSlotHashes || uint64(len(buf)-8) != count*40 {
		return nil, ErrMalformedSlotHashes
	}

	out := make(SlotHashes, count)
	for i := range out {
		entry := buf[8+i*40:]
		out[i].Slot = binary.LittleEndian.Uint64(entry[:8])
		copy(out[i].Hash[:], entry[8:40])
	}
	return out, nil
}
