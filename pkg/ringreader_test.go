package fastcounter

import (
	"encoding/binary"
	"errors"
	"testing"
)

// mockRing returns repsPerBuffer sequences of seqSamples int16 samples
// holding their own sample index.
func mockRing(seqSamples, repsPerBuffer int) []byte {
	mem := make([]byte, 2*seqSamples*repsPerBuffer)
	for i := 0; i < seqSamples*repsPerBuffer; i++ {
		binary.LittleEndian.PutUint16(mem[2*i:], uint16(int16(i-1000)))
	}
	return mem
}

func TestRingReaderRead__Linear(t *testing.T) {
	mem := mockRing(8, 4)
	r, err := NewRingReader(mem, 16, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	samples, err := r.Read(16, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s != int32(8+i-1000) {
			t.Errorf("sample %d: expected %d, got %d", i, 8+i-1000, s)
		}
	}
}

func TestRingReaderRead__WrapEqualsRotated(t *testing.T) {
	const seq, rpb = 8, 5
	mem := mockRing(seq, rpb)
	r, _ := NewRingReader(mem, 2*seq, rpb, 2)
	for start := 0; start < rpb; start++ {
		for reps := 1; reps <= rpb; reps++ {
			pos := int64(start * 2 * seq)
			got, err := r.Read(pos, reps)
			if err != nil {
				t.Fatalf("start %d reps %d: unexpected error: %v", start, reps, err)
			}

			rotated := append(append([]byte(nil), mem[pos:]...), mem[:pos]...)
			lin, _ := NewRingReader(rotated, 2*seq, rpb, 2)
			want, err := lin.Read(0, reps)
			if err != nil {
				t.Fatalf("rotated read: %v", err)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("start %d reps %d: sample %d is %d, expected %d", start, reps, i, got[i], want[i])
				}
			}
		}
	}
}

func TestRingReaderRead__DoesNotMutate(t *testing.T) {
	mem := mockRing(8, 3)
	before := append([]byte(nil), mem...)
	r, _ := NewRingReader(mem, 16, 3, 2)
	samples, _ := r.Read(32, 3)
	samples[0] = 42
	for i := range mem {
		if mem[i] != before[i] {
			t.Fatalf("ring modified at byte %d", i)
		}
	}
}

func TestRingReaderRead__Int32(t *testing.T) {
	mem := make([]byte, 4*4*2)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(mem[4*i:], uint32(int32(-70000*i)))
	}
	r, err := NewRingReader(mem, 16, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	samples, err := r.Read(16, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int32{-280000, -350000, -420000, -490000, 0, -70000, -140000, -210000}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], samples[i])
		}
	}
}

func TestRingReaderRead__OutOfRange(t *testing.T) {
	r, _ := NewRingReader(mockRing(8, 4), 16, 4, 2)
	cases := []struct {
		pos  int64
		reps int
	}{
		{-16, 1},
		{64, 1},
		{0, 0},
		{0, -1},
		{0, 5},
		{48, 5},
	}
	for _, c := range cases {
		_, err := r.Read(c.pos, c.reps)
		var rangeErr *ErrBufferRange
		if !errors.As(err, &rangeErr) {
			t.Errorf("pos %d reps %d: expected ErrBufferRange, got %v", c.pos, c.reps, err)
		}
	}
}

func TestNewRingReader__BadLayout(t *testing.T) {
	if _, err := NewRingReader(make([]byte, 100), 16, 4, 2); err == nil {
		t.Errorf("expected error for ring of wrong size")
	}
	if _, err := NewRingReader(make([]byte, 64), 16, 4, 3); err == nil {
		t.Errorf("expected error for word size 3")
	}
	if _, err := NewRingReader(make([]byte, 64), 0, 4, 2); err == nil {
		t.Errorf("expected error for empty sequence")
	}
}

func putGate(mem []byte, at int, rise, fall uint64) {
	binary.LittleEndian.PutUint64(mem[at:], rise)
	binary.LittleEndian.PutUint64(mem[at+8:], 0xdead)
	binary.LittleEndian.PutUint64(mem[at+16:], fall)
	binary.LittleEndian.PutUint64(mem[at+24:], 0xbeef)
}

func TestRingReaderReadTimestamps__Deinterleave(t *testing.T) {
	const gates, rpb = 2, 3
	seqBytes := int64(gates * 32)
	mem := make([]byte, seqBytes*rpb)
	for rep := 0; rep < rpb; rep++ {
		for g := 0; g < gates; g++ {
			n := uint64(rep*gates + g)
			putGate(mem, int(int64(rep)*seqBytes)+g*32, 100*n, 100*n+50)
		}
	}
	r, err := NewRingReader(mem, seqBytes, rpb, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// start at the last repetition so the read wraps
	rising, falling, err := r.ReadTimestamps(2*seqBytes, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantRising := []uint64{400, 500, 0, 100}
	wantFalling := []uint64{450, 550, 50, 150}
	if len(rising) != 4 || len(falling) != 4 {
		t.Fatalf("expected 4 edges each, got %d and %d", len(rising), len(falling))
	}
	for i := range wantRising {
		if rising[i] != wantRising[i] || falling[i] != wantFalling[i] {
			t.Errorf("gate %d: expected %d/%d, got %d/%d", i, wantRising[i], wantFalling[i], rising[i], falling[i])
		}
	}
}

func TestRingReader__WrongKind(t *testing.T) {
	samples, _ := NewRingReader(make([]byte, 64), 16, 4, 2)
	if _, _, err := samples.ReadTimestamps(0, 1); err == nil {
		t.Errorf("timestamp read on a sample ring should fail")
	}
	stamps, _ := NewRingReader(make([]byte, 64), 32, 2, 8)
	if _, err := stamps.Read(0, 1); err == nil {
		t.Errorf("sample read on a timestamp ring should fail")
	}
}
