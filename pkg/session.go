package fastcounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan is the sizing derived from a configuration before any hardware is touched.
type Plan struct {
	Geometry AcquisitionGeometry
	Layout   BufferLayout
}

func NewPlan(config Configuration) (Plan, error) {
	if err := config.Validate(); err != nil {
		return Plan{}, err
	}
	geom, err := ComputeGeometry(config.GeometryRequest())
	if err != nil {
		return Plan{}, err
	}
	layout, err := ComputeBufferLayout(geom, config.BufferSizeSamples, config.MaxRepsPerBuffer)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Geometry: geom, Layout: layout}, nil
}

// Session is one configured acquisition on one card.
type Session struct {
	ID      uuid.UUID
	config  Configuration
	plan    Plan
	flow    *FlowController
	batches chan RawBatch
}

func NewSession(config Configuration, plan Plan, hw Hardware) (*Session, error) {
	s := &Session{
		ID:     uuid.New(),
		config: config,
		plan:   plan,
	}
	if config.BatchQueueSize > 0 {
		s.batches = make(chan RawBatch, config.BatchQueueSize)
	}

	opts := FlowOptions{
		TargetRepetitions: config.Repetitions,
		Counting:          config.GateCounting,
		PollInterval:      seconds(config.WaitTimeIntervalS),
		StallTimeout:      seconds(config.StallTimeoutS),
	}
	if s.batches != nil {
		opts.Batches = s.batches
	}
	agg := NewAggregator(plan.Geometry, config.DataStackOn)
	flow, err := NewFlowController(plan.Geometry, plan.Layout, hw, agg, opts)
	if err != nil {
		return nil, err
	}
	s.flow = flow

	if configuration.Verbosity > 0 {
		g := plan.Geometry
		logger.Info(fmt.Sprintf("Session %s: %s, segment %d samples, sequence %d samples, %d gates",
			s.ID, config.AcqMode, g.SegmentSizeSamples, g.SequenceSizeSamples, g.TotalGates), "session")
		logger.Info(fmt.Sprintf("Session %s: %d repetitions per buffer (%d bytes), record length %g s",
			s.ID, plan.Layout.RepsPerBuffer, plan.Layout.BufferSizeBytes, g.ActualLengthS()), "session")
		if !IsHardwareBinWidth(g.BinWidthS) {
			logger.Info(fmt.Sprintf("Bin width %g s is not a card clock divider", g.BinWidthS), "session")
		}
	}
	return s, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Run starts a measurement and polls the card until the target is reached,
// ctx is cancelled or an error occurs. The trigger is always left disarmed.
func (s *Session) Run(ctx context.Context) (err error) {
	if err := s.flow.Reset(); err != nil {
		return err
	}
	if err := s.flow.Arm(); err != nil {
		return err
	}
	defer func() {
		if stopErr := s.flow.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Session %s started", s.ID), "session")
	}

	if err := s.flow.WaitForData(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(s.flow.PollInterval())
	defer ticker.Stop()
	for {
		if err := s.flow.Tick(ctx); err != nil {
			switch {
			case errors.Is(err, ErrSessionStopped), errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, ErrTickInProgress):
			default:
				logger.Error(fmt.Sprintf("session %s: %v", s.ID, err))
				return err
			}
		}
		if s.flow.State() == StateStopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) Stop() error {
	return s.flow.Stop()
}

func (s *Session) Pause() error {
	return s.flow.Pause()
}

func (s *Session) Continue() error {
	return s.flow.Continue()
}

func (s *Session) State() State {
	return s.flow.State()
}

func (s *Session) Status() string {
	return s.flow.State().Status()
}

func (s *Session) Trace() Trace {
	return s.flow.Snapshot()
}

// TraceMillivolts is the averaged data scaled to the input range.
func (s *Session) TraceMillivolts() ([]float64, TraceInfo) {
	t := s.flow.Snapshot()
	return t.ToMillivolts(s.config.RangeMV, 8*s.plan.Geometry.SampleWidthBytes), t.Info
}

// Batches streams raw batches when batch_queue_size > 0. It is never closed.
func (s *Session) Batches() <-chan RawBatch {
	return s.batches
}

func (s *Session) Stats() StatsSnapshot {
	return s.flow.Stats()
}

func (s *Session) Plan() Plan {
	return s.plan
}
