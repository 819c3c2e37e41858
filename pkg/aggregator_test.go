package fastcounter

import (
	"math"
	"math/rand"
	"testing"
)

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func mockBatch(rng *rand.Rand, reps, seq int) RawBatch {
	b := RawBatch{Repetitions: reps, Gates: 1, SegmentSize: seq, Samples: make([]int32, reps*seq)}
	for i := range b.Samples {
		b.Samples[i] = int32(rng.Intn(65536) - 32768)
	}
	return b
}

func TestMerge__WeightedAverage(t *testing.T) {
	running := AggregatedWaveform{Data: []float64{10}, Num: 2}
	merged, err := Merge(running, []float64{20}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closeTo(merged.Data[0], 40.0/3) || merged.Num != 3 {
		t.Errorf("expected 13.333 over 3, got %v over %d", merged.Data[0], merged.Num)
	}
	if running.Data[0] != 10 || running.Num != 2 {
		t.Errorf("Merge modified its input")
	}
}

func TestMerge__Empty(t *testing.T) {
	merged, err := Merge(AggregatedWaveform{}, []float64{1, 2, 3}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Num != 4 || merged.Data[2] != 3 {
		t.Errorf("merge into empty should copy the batch, got %+v", merged)
	}

	same, err := Merge(merged, []float64{9, 9, 9}, 0)
	if err != nil || same.Num != 4 || same.Data[0] != 1 {
		t.Errorf("merging zero repetitions should be a no-op")
	}

	if _, err := Merge(merged, []float64{1}, 1); err == nil {
		t.Errorf("expected error for mismatched lengths")
	}
}

func TestBatchAverage(t *testing.T) {
	b := RawBatch{Repetitions: 3, Gates: 1, SegmentSize: 2, Samples: []int32{1, -4, 2, -5, 6, 0}}
	avg, n := BatchAverage(b)
	if n != 3 || avg[0] != 3 || avg[1] != -3 {
		t.Errorf("expected [3 -3] over 3, got %v over %d", avg, n)
	}
	if avg, n := BatchAverage(RawBatch{}); avg != nil || n != 0 {
		t.Errorf("empty batch should average to nothing")
	}
}

func TestMerge__RechunkInvariant(t *testing.T) {
	const seq = 32
	rng := rand.New(rand.NewSource(7))
	all := mockBatch(rng, 120, seq)

	allAvg, allN := BatchAverage(all)
	oneShot, _ := Merge(AggregatedWaveform{}, allAvg, allN)

	for _, chunks := range [][]int{{1, 119}, {60, 60}, {7, 13, 50, 50}, {40, 1, 1, 1, 77}} {
		running := AggregatedWaveform{}
		start := 0
		for _, n := range chunks {
			part := RawBatch{Repetitions: n, Gates: 1, SegmentSize: seq, Samples: all.Samples[start*seq : (start+n)*seq]}
			avg, cnt := BatchAverage(part)
			var err error
			running, err = Merge(running, avg, cnt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			start += n
		}
		if running.Num != oneShot.Num {
			t.Fatalf("chunks %v: count %d, expected %d", chunks, running.Num, oneShot.Num)
		}
		for i := range running.Data {
			if !closeTo(running.Data[i], oneShot.Data[i]) {
				t.Errorf("chunks %v: sample %d is %v, expected %v", chunks, i, running.Data[i], oneShot.Data[i])
			}
		}
	}
}

func gatedBatch(reps, gates, seg int, firstRep int) RawBatch {
	b := RawBatch{
		Gated:       true,
		Repetitions: reps,
		Gates:       gates,
		SegmentSize: seg,
		Samples:     make([]int32, reps*gates*seg),
		Timestamps:  &GateTimestamps{},
	}
	for r := 0; r < reps; r++ {
		for g := 0; g < gates; g++ {
			for s := 0; s < seg; s++ {
				b.Samples[(r*gates+g)*seg+s] = int32(g * 10)
			}
			edge := uint64((firstRep+r)*gates + g)
			b.Timestamps.Rising = append(b.Timestamps.Rising, 100*edge)
			b.Timestamps.Falling = append(b.Timestamps.Falling, 100*edge+50)
		}
	}
	return b
}

func TestAggregator__GatedTimestampsConcatenate(t *testing.T) {
	geom := AcquisitionGeometry{Gated: true, TotalGates: 2, SegmentSizeSamples: 4, SequenceSizeSamples: 8}
	agg := NewAggregator(geom, false)
	if err := agg.Add(gatedBatch(2, 2, 4, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := agg.Add(gatedBatch(3, 2, 4, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trace := agg.Snapshot()
	if trace.Info.ElapsedSweeps != 5 {
		t.Errorf("expected 5 sweeps, got %d", trace.Info.ElapsedSweeps)
	}
	if len(trace.Timestamps.Rising) != 10 {
		t.Fatalf("expected 10 rising edges, got %d", len(trace.Timestamps.Rising))
	}
	for i, ts := range trace.Timestamps.Rising {
		if ts != uint64(100*i) || trace.Timestamps.Falling[i] != uint64(100*i+50) {
			t.Errorf("edge %d out of acquisition order: %d/%d", i, ts, trace.Timestamps.Falling[i])
		}
	}
	if row := trace.GateRow(1); len(row) != 4 || row[0] != 10 {
		t.Errorf("gate 1 row should average to 10, got %v", row)
	}
	rising, falling := trace.GateEdges(1)
	if len(rising) != 5 || rising[1] != 300 || falling[4] != 950 {
		t.Errorf("wrong edges for gate 1: %v %v", rising, falling)
	}
}

func TestAggregator__RejectsMismatchedBatch(t *testing.T) {
	geom := AcquisitionGeometry{Gated: true, TotalGates: 2, SegmentSizeSamples: 4, SequenceSizeSamples: 8}
	agg := NewAggregator(geom, false)

	ungated := RawBatch{Repetitions: 1, Gates: 2, SegmentSize: 4, Samples: make([]int32, 8)}
	if err := agg.Add(ungated); err == nil {
		t.Errorf("expected error for ungated batch")
	}
	short := gatedBatch(2, 2, 4, 0)
	short.Timestamps.Falling = short.Timestamps.Falling[:3]
	if err := agg.Add(short); err == nil {
		t.Errorf("expected error for missing timestamps")
	}
	if agg.Count() != 0 {
		t.Errorf("rejected batches must not be merged")
	}
}

func TestAggregator__StackAndReset(t *testing.T) {
	geom := AcquisitionGeometry{TotalGates: 1, SegmentSizeSamples: 2, SequenceSizeSamples: 2}
	agg := NewAggregator(geom, true)
	agg.Add(RawBatch{Repetitions: 2, Gates: 1, SegmentSize: 2, Samples: []int32{1, 2, 3, 4}})
	agg.Add(RawBatch{Repetitions: 1, Gates: 1, SegmentSize: 2, Samples: []int32{5, 6}})

	trace := agg.Snapshot()
	if len(trace.Stack) != 6 || trace.Stack[4] != 5 {
		t.Errorf("expected all raw samples stacked, got %v", trace.Stack)
	}
	if trace.Waveform.Data[0] != 3 || trace.Waveform.Data[1] != 4 {
		t.Errorf("expected average [3 4], got %v", trace.Waveform.Data)
	}

	trace.Waveform.Data[0] = 99
	if agg.Snapshot().Waveform.Data[0] != 3 {
		t.Errorf("snapshot shares memory with the aggregator")
	}

	agg.Reset()
	if agg.Count() != 0 || len(agg.Snapshot().Stack) != 0 {
		t.Errorf("reset should clear everything")
	}
}

func TestTrace__Millivolts(t *testing.T) {
	trace := Trace{Waveform: AggregatedWaveform{Data: []float64{32768, -16384}, Num: 1}}
	mv := trace.ToMillivolts(1000, 16)
	if mv[0] != 500 || mv[1] != -250 {
		t.Errorf("expected [500 -250], got %v", mv)
	}
	if trace.Waveform.Data[0] != 32768 {
		t.Errorf("scaling modified the trace")
	}
}

func TestSplitChannels(t *testing.T) {
	chans := SplitChannels([]float64{1, 10, 2, 20, 3, 30}, 2)
	if len(chans) != 2 || chans[0][2] != 3 || chans[1][1] != 20 {
		t.Errorf("wrong deinterleave: %v", chans)
	}
	if one := SplitChannels([]float64{1, 2}, 1); len(one) != 1 || len(one[0]) != 2 {
		t.Errorf("single channel should be returned as is")
	}
}
