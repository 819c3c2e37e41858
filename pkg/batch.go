package fastcounter

import "encoding/binary"

// GateTimestamps holds edge times in card clock ticks, indexed rep*Gates+gate.
type GateTimestamps struct {
	Rising  []uint64
	Falling []uint64
}

func (t *GateTimestamps) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rising)
}

// RawBatch is one drain worth of repetitions as read from the card.
// Samples is Repetitions rows of Gates*SegmentSize values. Timestamps is
// set only when Gated.
type RawBatch struct {
	Gated       bool
	Repetitions int
	Gates       int
	SegmentSize int
	Samples     []int32
	Timestamps  *GateTimestamps
}

func (b RawBatch) SequenceSize() int {
	return b.Gates * b.SegmentSize
}

// Repetition returns the samples of repetition i without copying.
func (b RawBatch) Repetition(i int) []int32 {
	n := b.SequenceSize()
	return b.Samples[i*n : (i+1)*n]
}

func decodeSamples(dst []int32, src []byte, width int) {
	switch width {
	case 2:
		for i := range dst {
			dst[i] = int32(int16(binary.LittleEndian.Uint16(src[2*i:])))
		}
	case 4:
		for i := range dst {
			dst[i] = int32(binary.LittleEndian.Uint32(src[4*i:]))
		}
	}
}

func decodeWords(dst []uint64, src []byte) {
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint64(src[8*i:])
	}
}

// GateSums returns, for every repetition and gate, the sum of the samples
// in the gate window, indexed rep*Gates+gate.
func (b RawBatch) GateSums() []int64 {
	sums := make([]int64, b.Repetitions*b.Gates)
	for i := range sums {
		for _, s := range b.Samples[i*b.SegmentSize : (i+1)*b.SegmentSize] {
			sums[i] += int64(s)
		}
	}
	return sums
}
