package fastcounter

import (
	"fmt"
	"math"
)

const (
	DefaultAlignment = 16
	// TimestampWordsPerGate: rising edge, padding, falling edge, padding.
	TimestampWordsPerGate = 4
	TimestampWordBytes    = 8
	maxSamplesPerRecord   = 1 << 40
	cardClockHz           = 250e6
	numBinWidths          = 18
)

// GeometryRequest holds the user-facing sizing parameters.
type GeometryRequest struct {
	BinWidthS          float64
	RecordLengthS      float64
	NumberOfGates      int
	Gated              bool
	DoubleGate         bool
	PreTriggerSamples  int
	PostTriggerSamples int
	Alignment          int // 0 means DefaultAlignment
	Channels           int // 0 means 1
	SampleWidthBytes   int // 0 means 2
}

// AcquisitionGeometry is the sizing of one acquisition. It is computed once
// at configure time and never changes while the acquisition runs.
type AcquisitionGeometry struct {
	BinWidthS                float64
	RecordLengthS            float64
	NumberOfGates            int
	Gated                    bool
	DoubleGate               bool
	PreTriggerSamples        int
	PostTriggerSamples       int
	Alignment                int
	Channels                 int
	SampleWidthBytes         int
	GateLengthSamples        int64
	GateLengthRoundedSamples int64
	SegmentSizeSamples       int64
	SequenceSizeSamples      int64
	TotalGates               int
}

// BufferLayout is how many repetitions the ring holds and the resulting sizes.
type BufferLayout struct {
	RepsPerBuffer        int
	BufferSizeBytes      int64
	TimestampBufferBytes int64
}

func configErr(field string, format string, args ...any) error {
	return &ErrConfiguration{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// samplesFor returns ceil(length/bin). Ratios that are an integer up to
// floating point noise are snapped first, so 4e-6/1e-9 gives 4000 and not 4001.
func samplesFor(length, bin float64) int64 {
	r := length / bin
	if n := math.Round(r); math.Abs(r-n) <= 1e-9*math.Max(1, math.Abs(r)) {
		r = n
	}
	return int64(math.Ceil(r))
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func ComputeGeometry(req GeometryRequest) (AcquisitionGeometry, error) {
	if req.Alignment == 0 {
		req.Alignment = DefaultAlignment
	}
	if req.Channels == 0 {
		req.Channels = 1
	}
	if req.SampleWidthBytes == 0 {
		req.SampleWidthBytes = 2
	}

	switch {
	case !(req.BinWidthS > 0):
		return AcquisitionGeometry{}, configErr("bin_width_s", "must be > 0, got %g", req.BinWidthS)
	case !(req.RecordLengthS > 0):
		return AcquisitionGeometry{}, configErr("record_length_s", "must be > 0, got %g", req.RecordLengthS)
	case req.Alignment < 0:
		return AcquisitionGeometry{}, configErr("gate_end_alignment", "must be >= 0 (0 selects the default), got %d", req.Alignment)
	case req.Channels != 1 && req.Channels != 2:
		return AcquisitionGeometry{}, configErr("num_channels", "must be 1 or 2, got %d", req.Channels)
	case req.SampleWidthBytes != 2 && req.SampleWidthBytes != 4:
		return AcquisitionGeometry{}, configErr("sample_width", "must be 2 or 4 bytes, got %d", req.SampleWidthBytes)
	case req.RecordLengthS/req.BinWidthS > maxSamplesPerRecord:
		return AcquisitionGeometry{}, configErr("record_length_s", "%g s is too long for bins of %g s", req.RecordLengthS, req.BinWidthS)
	}

	g := AcquisitionGeometry{
		BinWidthS:        req.BinWidthS,
		RecordLengthS:    req.RecordLengthS,
		NumberOfGates:    req.NumberOfGates,
		Gated:            req.Gated,
		DoubleGate:       req.DoubleGate,
		Alignment:        req.Alignment,
		Channels:         req.Channels,
		SampleWidthBytes: req.SampleWidthBytes,
		TotalGates:       1,
	}
	align := int64(req.Alignment)
	channels := int64(req.Channels)

	g.GateLengthSamples = samplesFor(req.RecordLengthS, req.BinWidthS)
	g.GateLengthRoundedSamples = ceilDiv(g.GateLengthSamples, align) * align

	if !req.Gated {
		g.SegmentSizeSamples = g.GateLengthRoundedSamples * channels
		g.SequenceSizeSamples = g.SegmentSizeSamples
		return g, nil
	}

	switch {
	case req.NumberOfGates < 1:
		return AcquisitionGeometry{}, configErr("number_of_gates", "must be >= 1 in gated mode, got %d", req.NumberOfGates)
	case req.PreTriggerSamples < 0 || req.PreTriggerSamples%req.Alignment != 0:
		return AcquisitionGeometry{}, configErr("pre_trigger_samples", "must be a non-negative multiple of %d, got %d", req.Alignment, req.PreTriggerSamples)
	case req.PostTriggerSamples < 0 || req.PostTriggerSamples%req.Alignment != 0:
		return AcquisitionGeometry{}, configErr("post_trigger_samples", "must be a non-negative multiple of %d, got %d", req.Alignment, req.PostTriggerSamples)
	}

	g.PreTriggerSamples = req.PreTriggerSamples
	g.PostTriggerSamples = req.PostTriggerSamples
	g.TotalGates = req.NumberOfGates
	if req.DoubleGate {
		g.TotalGates *= 2
	}
	g.SegmentSizeSamples = (g.GateLengthRoundedSamples + int64(req.PreTriggerSamples) + int64(req.PostTriggerSamples)) * channels
	g.SequenceSizeSamples = g.SegmentSizeSamples * int64(g.TotalGates)
	return g, nil
}

func (g AcquisitionGeometry) SegmentBytes() int64 {
	return g.SegmentSizeSamples * int64(g.SampleWidthBytes)
}

func (g AcquisitionGeometry) SequenceBytes() int64 {
	return g.SequenceSizeSamples * int64(g.SampleWidthBytes)
}

// TimestampSequenceBytes is the timestamp ring usage of one repetition, 0 when ungated.
func (g AcquisitionGeometry) TimestampSequenceBytes() int64 {
	if !g.Gated {
		return 0
	}
	return int64(g.TotalGates * TimestampWordsPerGate * TimestampWordBytes)
}

// ActualLengthS is the recorded length after rounding to whole aligned samples.
func (g AcquisitionGeometry) ActualLengthS() float64 {
	if g.Gated {
		return float64(g.SegmentSizeSamples/int64(g.Channels)) * g.BinWidthS
	}
	return float64(g.SequenceSizeSamples/int64(g.Channels)) * g.BinWidthS
}

func ComputeBufferLayout(g AcquisitionGeometry, capacitySamples int64, maxRepsPerBuffer int) (BufferLayout, error) {
	if maxRepsPerBuffer < 1 {
		return BufferLayout{}, configErr("max_reps_per_buf", "must be >= 1, got %d", maxRepsPerBuffer)
	}
	if g.SequenceSizeSamples <= 0 {
		return BufferLayout{}, configErr("sequence_size", "geometry was not computed")
	}
	if capacitySamples < g.SequenceSizeSamples {
		return BufferLayout{}, &ErrInsufficientBuffer{CapacitySamples: capacitySamples, SequenceSamples: g.SequenceSizeSamples}
	}
	reps := capacitySamples / g.SequenceSizeSamples
	if reps > int64(maxRepsPerBuffer) {
		reps = int64(maxRepsPerBuffer)
	}
	return BufferLayout{
		RepsPerBuffer:        int(reps),
		BufferSizeBytes:      reps * g.SequenceBytes(),
		TimestampBufferBytes: reps * g.TimestampSequenceBytes(),
	}, nil
}

// BinWidths lists the bin widths the card clock can produce, finest first.
func BinWidths() []float64 {
	widths := make([]float64, numBinWidths)
	for i := range widths {
		widths[i] = math.Exp2(float64(i)) / cardClockHz
	}
	return widths
}

// IsHardwareBinWidth reports whether bin is one of BinWidths within 1e-9 relative.
func IsHardwareBinWidth(bin float64) bool {
	for _, w := range BinWidths() {
		if math.Abs(bin-w) <= 1e-9*w {
			return true
		}
	}
	return false
}
