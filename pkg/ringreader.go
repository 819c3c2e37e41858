package fastcounter

import "fmt"

// RingReader copies whole repetitions out of a DMA ring buffer. The ring is
// never written; the caller credits consumed bytes back to the card.
type RingReader struct {
	mem           []byte
	seqBytes      int64
	repsPerBuffer int
	wordBytes     int
}

// NewRingReader wraps mem, which must be exactly repsPerBuffer sequences of
// sequenceBytes each. wordBytes is 2 or 4 for sample rings and 8 for
// timestamp rings.
func NewRingReader(mem []byte, sequenceBytes int64, repsPerBuffer int, wordBytes int) (*RingReader, error) {
	switch wordBytes {
	case 2, 4, 8:
	default:
		return nil, configErr("word_bytes", "must be 2, 4 or 8, got %d", wordBytes)
	}
	if sequenceBytes <= 0 || sequenceBytes%int64(wordBytes) != 0 {
		return nil, configErr("sequence_bytes", "%d is not a positive multiple of %d", sequenceBytes, wordBytes)
	}
	if repsPerBuffer < 1 {
		return nil, configErr("reps_per_buffer", "must be >= 1, got %d", repsPerBuffer)
	}
	if want := sequenceBytes * int64(repsPerBuffer); int64(len(mem)) != want {
		return nil, configErr("buffer", "ring holds %d bytes, layout needs %d", len(mem), want)
	}
	return &RingReader{
		mem:           mem,
		seqBytes:      sequenceBytes,
		repsPerBuffer: repsPerBuffer,
		wordBytes:     wordBytes,
	}, nil
}

func (r *RingReader) Capacity() int64 {
	return int64(len(r.mem))
}

func (r *RingReader) SequenceBytes() int64 {
	return r.seqBytes
}

func (r *RingReader) RepsPerBuffer() int {
	return r.repsPerBuffer
}

func (r *RingReader) copySpan(userPos int64, reps int) ([]byte, error) {
	capacity := r.Capacity()
	rangeErr := &ErrBufferRange{UserPos: userPos, Reps: reps, RepsPerBuffer: r.repsPerBuffer}
	if userPos < 0 || userPos >= capacity || reps < 1 || reps > r.repsPerBuffer {
		return nil, rangeErr
	}
	// Implied by the bounds above; it is the card's own desync condition.
	repEnd := userPos/r.seqBytes + int64(reps)
	if repEnd <= 0 || repEnd > 2*int64(r.repsPerBuffer) {
		return nil, rangeErr
	}

	span := int64(reps) * r.seqBytes
	out := make([]byte, span)
	if userPos+span <= capacity {
		copy(out, r.mem[userPos:userPos+span])
		return out, nil
	}
	n := copy(out, r.mem[userPos:])
	copy(out[n:], r.mem[:span-int64(n)])
	return out, nil
}

// Read returns reps sequences starting at byte userPos, in acquisition order.
func (r *RingReader) Read(userPos int64, reps int) ([]int32, error) {
	if r.wordBytes == 8 {
		return nil, fmt.Errorf("sample read on a timestamp ring")
	}
	raw, err := r.copySpan(userPos, reps)
	if err != nil {
		return nil, err
	}
	samples := make([]int32, len(raw)/r.wordBytes)
	decodeSamples(samples, raw, r.wordBytes)
	return samples, nil
}

// ReadTimestamps returns the rising and falling edges of reps sequences
// starting at byte userPos. Every edge word is followed by a padding word.
func (r *RingReader) ReadTimestamps(userPos int64, reps int) ([]uint64, []uint64, error) {
	if r.wordBytes != 8 {
		return nil, nil, fmt.Errorf("timestamp read on a %d-byte sample ring", r.wordBytes)
	}
	raw, err := r.copySpan(userPos, reps)
	if err != nil {
		return nil, nil, err
	}
	words := make([]uint64, len(raw)/8)
	decodeWords(words, raw)

	edges := len(words) / 2
	rising := make([]uint64, 0, (edges+1)/2)
	falling := make([]uint64, 0, edges/2)
	for i := 0; i < edges; i++ {
		if i%2 == 0 {
			rising = append(rising, words[2*i])
		} else {
			falling = append(falling, words[2*i])
		}
	}
	return rising, falling, nil
}
