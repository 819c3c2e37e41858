package fastcounter

import (
	"fmt"
	"time"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
)

// AggregatedWaveform is the running average of all repetitions merged so far.
// Gated data is row-major, one row of SegmentSizeSamples per gate.
type AggregatedWaveform struct {
	Data []float64
	Num  int64
}

func (w AggregatedWaveform) Clone() AggregatedWaveform {
	return AggregatedWaveform{Data: append([]float64(nil), w.Data...), Num: w.Num}
}

func accumulate[T constraints.Integer](sum []float64, samples []T) {
	for i, s := range samples {
		sum[i] += float64(s)
	}
}

// BatchAverage averages a batch over its repetitions.
func BatchAverage(b RawBatch) ([]float64, int) {
	if b.Repetitions <= 0 {
		return nil, 0
	}
	avg := make([]float64, b.SequenceSize())
	for i := 0; i < b.Repetitions; i++ {
		accumulate(avg, b.Repetition(i))
	}
	floats.Scale(1/float64(b.Repetitions), avg)
	return avg, b.Repetitions
}

func (w *AggregatedWaveform) merge(avg []float64, count int) error {
	if count <= 0 {
		return nil
	}
	if w.Num == 0 {
		w.Data = append(w.Data[:0], avg...)
		w.Num = int64(count)
		return nil
	}
	if len(avg) != len(w.Data) {
		return fmt.Errorf("batch of %d samples does not match running average of %d", len(avg), len(w.Data))
	}
	// running + (avg-running)*count/(num+count), without forming num*running
	weight := float64(count) / float64(w.Num+int64(count))
	floats.Scale(1-weight, w.Data)
	floats.AddScaled(w.Data, weight, avg)
	w.Num += int64(count)
	return nil
}

// Merge returns running with a batch average of count repetitions folded in.
// running is not modified.
func Merge(running AggregatedWaveform, avg []float64, count int) (AggregatedWaveform, error) {
	out := running.Clone()
	if err := out.merge(avg, count); err != nil {
		return running, err
	}
	return out, nil
}

// TraceInfo describes how much data a trace contains.
type TraceInfo struct {
	ElapsedSweeps int64
	ElapsedTime   time.Duration
}

// Trace is a deep copy of the aggregator state handed to readers.
type Trace struct {
	Geometry   AcquisitionGeometry
	Waveform   AggregatedWaveform
	Timestamps GateTimestamps
	Stack      []int32
	Info       TraceInfo
}

// Aggregator folds RawBatches into an AggregatedWaveform. It does no locking;
// the FlowController serializes access.
type Aggregator struct {
	geom    AcquisitionGeometry
	stackOn bool
	wave    AggregatedWaveform
	ts      GateTimestamps
	stack   []int32
	started time.Time
}

func NewAggregator(geom AcquisitionGeometry, stackOn bool) *Aggregator {
	a := &Aggregator{geom: geom, stackOn: stackOn}
	a.Reset()
	return a
}

// Reset drops all merged data and restarts the elapsed time clock.
func (a *Aggregator) Reset() {
	a.wave = AggregatedWaveform{}
	a.ts = GateTimestamps{}
	a.stack = nil
	a.started = time.Now()
}

func (a *Aggregator) Count() int64 {
	return a.wave.Num
}

func (a *Aggregator) Add(b RawBatch) error {
	if b.Gated != a.geom.Gated {
		return fmt.Errorf("gated=%t batch on a gated=%t acquisition", b.Gated, a.geom.Gated)
	}
	if int64(b.SequenceSize()) != a.geom.SequenceSizeSamples || len(b.Samples) != b.Repetitions*b.SequenceSize() {
		return fmt.Errorf("batch of %d x %d samples does not match sequence of %d", b.Repetitions, b.SequenceSize(), a.geom.SequenceSizeSamples)
	}
	if b.Gated {
		want := b.Repetitions * b.Gates
		if b.Timestamps.Len() != want || len(b.Timestamps.Falling) != want {
			return fmt.Errorf("batch carries %d timestamps for %d gates", b.Timestamps.Len(), want)
		}
	}

	avg, n := BatchAverage(b)
	if err := a.wave.merge(avg, n); err != nil {
		return err
	}
	if b.Gated {
		a.ts.Rising = append(a.ts.Rising, b.Timestamps.Rising...)
		a.ts.Falling = append(a.ts.Falling, b.Timestamps.Falling...)
	}
	if a.stackOn {
		a.stack = append(a.stack, b.Samples...)
	}
	return nil
}

func (a *Aggregator) Snapshot() Trace {
	t := Trace{
		Geometry: a.geom,
		Waveform: a.wave.Clone(),
		Timestamps: GateTimestamps{
			Rising:  append([]uint64(nil), a.ts.Rising...),
			Falling: append([]uint64(nil), a.ts.Falling...),
		},
		Info: TraceInfo{
			ElapsedSweeps: a.wave.Num,
			ElapsedTime:   time.Since(a.started),
		},
	}
	if a.stackOn {
		t.Stack = append([]int32(nil), a.stack...)
	}
	return t
}

// GateRow returns the averaged samples of one gate.
func (t Trace) GateRow(gate int) []float64 {
	seg := int(t.Geometry.SegmentSizeSamples)
	if gate < 0 || gate >= t.Geometry.TotalGates || len(t.Waveform.Data) < (gate+1)*seg {
		return nil
	}
	return t.Waveform.Data[gate*seg : (gate+1)*seg]
}

// GateEdges returns the rising and falling timestamps recorded for one gate
// across all repetitions.
func (t Trace) GateEdges(gate int) ([]uint64, []uint64) {
	gates := t.Geometry.TotalGates
	if !t.Geometry.Gated || gate < 0 || gate >= gates {
		return nil, nil
	}
	var rising, falling []uint64
	for i := gate; i < len(t.Timestamps.Rising); i += gates {
		rising = append(rising, t.Timestamps.Rising[i])
		falling = append(falling, t.Timestamps.Falling[i])
	}
	return rising, falling
}

// ToMillivolts scales the averaged data to mV for an input range of rangeMV
// and a converter of bits resolution.
func (t Trace) ToMillivolts(rangeMV int, bits int) []float64 {
	mv := append([]float64(nil), t.Waveform.Data...)
	floats.Scale(float64(rangeMV)/float64(uint64(1)<<bits), mv)
	return mv
}

// SplitChannels deinterleaves data recorded from several channels.
func SplitChannels(data []float64, channels int) [][]float64 {
	if channels <= 1 {
		return [][]float64{data}
	}
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, 0, len(data)/channels)
	}
	for i, v := range data {
		out[i%channels] = append(out[i%channels], v)
	}
	return out
}
