package history

import (
	"encoding/binary"
	"math"
)

// Fixed little-endian layout. The revision tag leads the blob so a torn
// or foreign write is detected on load and treated as empty history.
const (
	historyRevision uint16 = 1

	recordSize = 8*8 + 1 // 8 float64 fields + profile index byte
	headerSize = 2 + 1 + 1
	blobSize   = headerSize + Capacity*recordSize + 4*8 + 1
)

func (s *Store) encode() []byte {
	buf := make([]byte, blobSize)

	binary.LittleEndian.PutUint16(buf[0:], historyRevision)
	buf[2] = uint8(s.count)
	buf[3] = uint8(s.next)

	off := headerSize
	for i := 0; i < Capacity; i++ {
		r := &s.records[i]
		off = putFloat(buf, off, r.Gains.CoarseKP)
		off = putFloat(buf, off, r.Gains.CoarseKD)
		off = putFloat(buf, off, r.Gains.FineKP)
		off = putFloat(buf, off, r.Gains.FineKD)
		off = putFloat(buf, off, r.Overthrow)
		off = putFloat(buf, off, r.CoarseTimeMs)
		off = putFloat(buf, off, r.FineTimeMs)
		off = putFloat(buf, off, r.TotalTimeMs)
		buf[off] = uint8(r.ProfileIndex)
		off++
	}

	off = putFloat(buf, off, s.suggested.CoarseKP)
	off = putFloat(buf, off, s.suggested.CoarseKD)
	off = putFloat(buf, off, s.suggested.FineKP)
	off = putFloat(buf, off, s.suggested.FineKD)
	if s.hasSuggestions {
		buf[off] = 1
	}

	return buf
}

// decode parses a persisted blob into the store. Returns false on size or
// revision mismatch, leaving the store empty.
func (s *Store) decode(data []byte) bool {
	if len(data) != blobSize {
		return false
	}
	if binary.LittleEndian.Uint16(data[0:]) != historyRevision {
		return false
	}

	count := int(data[2])
	next := int(data[3])
	if count > Capacity || next >= Capacity {
		return false
	}
	s.count = count
	s.next = next

	off := headerSize
	for i := 0; i < Capacity; i++ {
		r := &s.records[i]
		r.Gains.CoarseKP, off = getFloat(data, off)
		r.Gains.CoarseKD, off = getFloat(data, off)
		r.Gains.FineKP, off = getFloat(data, off)
		r.Gains.FineKD, off = getFloat(data, off)
		r.Overthrow, off = getFloat(data, off)
		r.CoarseTimeMs, off = getFloat(data, off)
		r.FineTimeMs, off = getFloat(data, off)
		r.TotalTimeMs, off = getFloat(data, off)
		r.ProfileIndex = int(data[off])
		off++
	}

	s.suggested.CoarseKP, off = getFloat(data, off)
	s.suggested.CoarseKD, off = getFloat(data, off)
	s.suggested.FineKP, off = getFloat(data, off)
	s.suggested.FineKD, off = getFloat(data, off)
	s.hasSuggestions = data[off] == 1

	return true
}

func putFloat(buf []byte, off int, v float64) int {
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	return off + 8
}

func getFloat(data []byte, off int) (float64, int) {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[off:])), off + 8
}
