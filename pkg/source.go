package fastcounter

import "fmt"

// batchSource reads whole repetitions from the card. The gated and ungated
// implementations are picked once when the FlowController is built.
type batchSource interface {
	available() (int, error)
	read(reps int) (RawBatch, error)
	credit(reps int) error
	bytesPerRep() int64
}

type ungatedSource struct {
	geom   AcquisitionGeometry
	data   RingBuffer
	reader *RingReader
}

type gatedSource struct {
	ungatedSource
	ts       RingBuffer
	tsReader *RingReader
}

func newBatchSource(geom AcquisitionGeometry, layout BufferLayout, hw Hardware) (batchSource, error) {
	if hw.Data == nil || hw.Trigger == nil {
		return nil, configErr("hardware", "data ring and trigger are required")
	}
	reader, err := NewRingReader(hw.Data.Memory(), geom.SequenceBytes(), layout.RepsPerBuffer, geom.SampleWidthBytes)
	if err != nil {
		return nil, err
	}
	src := ungatedSource{geom: geom, data: hw.Data, reader: reader}
	if !geom.Gated {
		return &src, nil
	}

	if hw.Timestamps == nil {
		return nil, configErr("hardware", "gated mode needs a timestamp ring")
	}
	tsReader, err := NewRingReader(hw.Timestamps.Memory(), geom.TimestampSequenceBytes(), layout.RepsPerBuffer, TimestampWordBytes)
	if err != nil {
		return nil, err
	}
	return &gatedSource{ungatedSource: src, ts: hw.Timestamps, tsReader: tsReader}, nil
}

func (s *ungatedSource) available() (int, error) {
	n, err := s.data.AvailableLength()
	if err != nil {
		return 0, &ErrHardware{Op: "data available length", Err: err}
	}
	return int(n / s.geom.SequenceBytes()), nil
}

func (s *ungatedSource) batch(reps int) (RawBatch, error) {
	pos, err := s.data.AvailablePosition()
	if err != nil {
		return RawBatch{}, &ErrHardware{Op: "data available position", Err: err}
	}
	samples, err := s.reader.Read(pos, reps)
	if err != nil {
		return RawBatch{}, err
	}
	return RawBatch{
		Gated:       s.geom.Gated,
		Repetitions: reps,
		Gates:       s.geom.TotalGates,
		SegmentSize: int(s.geom.SegmentSizeSamples),
		Samples:     samples,
	}, nil
}

func (s *ungatedSource) read(reps int) (RawBatch, error) {
	return s.batch(reps)
}

func (s *ungatedSource) credit(reps int) error {
	if err := s.data.MarkConsumed(int64(reps) * s.geom.SequenceBytes()); err != nil {
		return &ErrHardware{Op: "data mark consumed", Err: err}
	}
	return nil
}

func (s *ungatedSource) bytesPerRep() int64 {
	return s.geom.SequenceBytes()
}

func (s *gatedSource) available() (int, error) {
	reps, err := s.ungatedSource.available()
	if err != nil {
		return 0, err
	}
	n, err := s.ts.AvailableLength()
	if err != nil {
		return 0, &ErrHardware{Op: "timestamp available length", Err: err}
	}
	return min(reps, int(n/s.geom.TimestampSequenceBytes())), nil
}

func (s *gatedSource) read(reps int) (RawBatch, error) {
	b, err := s.batch(reps)
	if err != nil {
		return RawBatch{}, err
	}
	pos, err := s.ts.AvailablePosition()
	if err != nil {
		return RawBatch{}, &ErrHardware{Op: "timestamp available position", Err: err}
	}
	rising, falling, err := s.tsReader.ReadTimestamps(pos, reps)
	if err != nil {
		return RawBatch{}, err
	}
	b.Timestamps = &GateTimestamps{Rising: rising, Falling: falling}
	return b, nil
}

func (s *gatedSource) credit(reps int) error {
	if err := s.ungatedSource.credit(reps); err != nil {
		return err
	}
	if err := s.ts.MarkConsumed(int64(reps) * s.geom.TimestampSequenceBytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrRingsOutOfStep, &ErrHardware{Op: "timestamp mark consumed", Err: err})
	}
	return nil
}

func (s *gatedSource) bytesPerRep() int64 {
	return s.geom.SequenceBytes() + s.geom.TimestampSequenceBytes()
}
