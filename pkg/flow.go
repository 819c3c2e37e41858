package fastcounter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStallTimeout = 10 * time.Second
)

type State int

const (
	StateConfigured State = iota
	StateArmed
	StateDraining
	StatePaused
	StateStalled
	StateStopped
	// StateFailed follows a credit that left the rings in an unknown state.
	// Only Stop leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "CONFIGURED"
	case StateArmed:
		return "ARMED"
	case StateDraining:
		return "DRAINING"
	case StatePaused:
		return "PAUSED"
	case StateStalled:
		return "STALLED"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Status is the coarse module status shown to operators.
func (s State) Status() string {
	switch s {
	case StateArmed, StateDraining:
		return "running"
	case StatePaused:
		return "paused"
	case StateStalled, StateFailed:
		return "error"
	default:
		return "idle"
	}
}

type FlowOptions struct {
	// TargetRepetitions stops the acquisition once reached. 0 runs until Stop.
	TargetRepetitions int64
	// UnprocessedLimit defaults to the repetitions per buffer.
	UnprocessedLimit int64
	// GateDivisor converts the trigger count to repetitions in gated mode.
	// 0 takes it from Counting.
	GateDivisor  int64
	Counting     GateCounting
	PollInterval time.Duration
	StallTimeout time.Duration
	// Batches receives every drained RawBatch if set. Sends never block;
	// batches that do not fit are counted as dropped.
	Batches chan<- RawBatch
}

// FlowController drains the card into an Aggregator and holds the trigger
// off while the consumer lags a full buffer behind.
type FlowController struct {
	geom    AcquisitionGeometry
	layout  BufferLayout
	opts    FlowOptions
	divisor int64
	src     batchSource
	trigger TriggerSource
	stats   *Stats

	tickMu sync.Mutex

	// mu guards everything below and is held for one drain and merge at a time.
	mu      sync.Mutex
	state   State
	armed   bool
	agg     *Aggregator
	failure error
}

func NewFlowController(geom AcquisitionGeometry, layout BufferLayout, hw Hardware, agg *Aggregator, opts FlowOptions) (*FlowController, error) {
	src, err := newBatchSource(geom, layout, hw)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, configErr("aggregator", "required")
	}
	if opts.TargetRepetitions < 0 {
		return nil, configErr("repetitions", "must be >= 0, got %d", opts.TargetRepetitions)
	}
	if opts.UnprocessedLimit <= 0 {
		opts.UnprocessedLimit = int64(layout.RepsPerBuffer)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.Counting == "" {
		opts.Counting = PerGate
	}
	divisor := opts.GateDivisor
	if divisor <= 0 {
		divisor = opts.Counting.Divisor(geom)
	}
	if !geom.Gated {
		divisor = 1
	}

	return &FlowController{
		geom:    geom,
		layout:  layout,
		opts:    opts,
		divisor: divisor,
		src:     src,
		trigger: hw.Trigger,
		stats:   NewStats(),
		state:   StateConfigured,
		agg:     agg,
	}, nil
}

// setTrigger only talks to the card when the armed state changes. mu must be held.
func (fc *FlowController) setTrigger(on bool) error {
	if fc.armed == on {
		return nil
	}
	if on {
		if err := fc.trigger.EnableTrigger(); err != nil {
			return &ErrHardware{Op: "enable trigger", Err: err}
		}
	} else {
		if err := fc.trigger.DisableTrigger(); err != nil {
			return &ErrHardware{Op: "disable trigger", Err: err}
		}
	}
	fc.armed = on
	return nil
}

// Arm enables the trigger for a new acquisition.
func (fc *FlowController) Arm() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	switch fc.state {
	case StateStopped:
		return ErrSessionStopped
	case StateFailed:
		return fc.failure
	}
	if err := fc.setTrigger(true); err != nil {
		return err
	}
	fc.state = StateArmed
	return nil
}

// Tick runs one backpressure decision and at most one drain. It must be
// called from a single control loop; overlapping calls get ErrTickInProgress.
func (fc *FlowController) Tick(ctx context.Context) error {
	if !fc.tickMu.TryLock() {
		return ErrTickInProgress
	}
	defer fc.tickMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	fc.mu.Lock()
	state := fc.state
	failure := fc.failure
	consumed := fc.agg.Count()
	fc.mu.Unlock()
	switch state {
	case StateStopped:
		return ErrSessionStopped
	case StateFailed:
		return failure
	case StatePaused:
		return nil
	}

	trig, err := fc.trigger.TriggerCount()
	if err != nil {
		return &ErrHardware{Op: "trigger count", Err: err}
	}
	unprocessed := trig/fc.divisor - consumed
	fc.stats.tick(unprocessed)

	if fc.opts.TargetRepetitions > 0 && consumed >= fc.opts.TargetRepetitions {
		if configuration.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Target of %d repetitions reached", fc.opts.TargetRepetitions), "flow")
		}
		return fc.Stop()
	}

	fc.mu.Lock()
	if fc.state == StateStopped || fc.state == StatePaused || fc.state == StateFailed {
		fc.mu.Unlock()
		return nil
	}
	if trig == 0 || unprocessed <= 0 {
		err = fc.setTrigger(true)
		if err == nil {
			fc.state = StateArmed
		}
		fc.mu.Unlock()
		return err
	}
	if unprocessed < fc.opts.UnprocessedLimit {
		err = fc.setTrigger(true)
	} else {
		wasArmed := fc.armed
		err = fc.setTrigger(false)
		if wasArmed && err == nil {
			fc.stats.disarmed()
			if configuration.Verbosity > 1 {
				logger.Info(fmt.Sprintf("Trigger off, %d repetitions unprocessed (limit %d)", unprocessed, fc.opts.UnprocessedLimit), "flow")
			}
		}
	}
	fc.mu.Unlock()
	if err != nil {
		return err
	}

	return fc.drain()
}

func (fc *FlowController) drain() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.state == StateStopped || fc.state == StatePaused || fc.state == StateFailed {
		return nil
	}

	reps, err := fc.src.available()
	if err != nil {
		return err
	}
	reps = min(reps, fc.layout.RepsPerBuffer)
	if fc.opts.TargetRepetitions > 0 {
		reps = int(min(int64(reps), fc.opts.TargetRepetitions-fc.agg.Count()))
	}
	if reps <= 0 {
		if fc.armed {
			fc.state = StateArmed
		}
		return nil
	}

	fc.state = StateDraining
	start := time.Now()
	batch, err := fc.src.read(reps)
	if err != nil {
		return err
	}
	// Credit before merging: a failed credit leaves the repetitions in the
	// ring for the next drain and nothing in the aggregator.
	if err := fc.src.credit(reps); err != nil {
		if errors.Is(err, ErrRingsOutOfStep) {
			return fc.fail(err)
		}
		return err
	}
	if err := fc.agg.Add(batch); err != nil {
		return err
	}
	fc.stats.drain(int64(reps)*fc.src.bytesPerRep(), time.Since(start))
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Drained %d repetitions, %d merged", reps, fc.agg.Count()), "flow")
	}

	if fc.opts.Batches != nil {
		select {
		case fc.opts.Batches <- batch:
		default:
			fc.stats.droppedBatch()
		}
	}
	return nil
}

// fail moves to StateFailed and tries to disarm. mu must be held.
func (fc *FlowController) fail(err error) error {
	fc.failure = err
	fc.state = StateFailed
	logger.Error(fmt.Sprintf("acquisition failed: %v", err))
	if disarmErr := fc.setTrigger(false); disarmErr != nil {
		return errors.Join(err, disarmErr)
	}
	return err
}

// WaitForData polls the card until at least one repetition is available.
// It gives up after the stall timeout and leaves the controller STALLED;
// a later Tick may recover.
func (fc *FlowController) WaitForData(ctx context.Context) error {
	timeout := time.NewTimer(fc.opts.StallTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(fc.opts.PollInterval)
	defer ticker.Stop()

	for {
		fc.mu.Lock()
		switch fc.state {
		case StateStopped:
			fc.mu.Unlock()
			return ErrSessionStopped
		case StateFailed:
			fc.mu.Unlock()
			return fc.failure
		}
		reps, err := fc.src.available()
		fc.mu.Unlock()
		if err != nil {
			return err
		}
		if reps > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			fc.mu.Lock()
			if fc.state != StateStopped && fc.state != StateFailed {
				fc.state = StateStalled
			}
			fc.mu.Unlock()
			logger.Error(fmt.Sprintf("no data from the card after %v", fc.opts.StallTimeout))
			return &ErrAcquisitionStalled{Waited: fc.opts.StallTimeout}
		case <-ticker.C:
		}
	}
}

// Stop disarms the trigger. It waits for a drain in progress to finish, so
// the aggregator is never left with a partial merge. Stop is idempotent once
// the disarm has succeeded; until then every call retries it.
func (fc *FlowController) Stop() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.state == StateStopped && !fc.armed {
		return nil
	}
	fc.state = StateStopped
	return fc.setTrigger(false)
}

func (fc *FlowController) Pause() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	switch fc.state {
	case StateStopped:
		return ErrSessionStopped
	case StateFailed:
		return fc.failure
	case StatePaused:
		return nil
	}
	if err := fc.setTrigger(false); err != nil {
		return err
	}
	fc.state = StatePaused
	return nil
}

func (fc *FlowController) Continue() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.state != StatePaused {
		return nil
	}
	if err := fc.setTrigger(true); err != nil {
		return err
	}
	fc.state = StateArmed
	return nil
}

// Reset clears the aggregator for a new measurement with the same geometry.
func (fc *FlowController) Reset() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.state == StateFailed {
		return fc.failure
	}
	if err := fc.setTrigger(false); err != nil {
		return err
	}
	fc.agg.Reset()
	fc.state = StateConfigured
	return nil
}

func (fc *FlowController) Snapshot() Trace {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.agg.Snapshot()
}

func (fc *FlowController) State() State {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.state
}

func (fc *FlowController) Armed() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.armed
}

func (fc *FlowController) Consumed() int64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.agg.Count()
}

// Done reports whether the target repetition count has been merged.
func (fc *FlowController) Done() bool {
	if fc.opts.TargetRepetitions == 0 {
		return false
	}
	return fc.Consumed() >= fc.opts.TargetRepetitions
}

func (fc *FlowController) Stats() StatsSnapshot {
	return fc.stats.Snapshot()
}

func (fc *FlowController) Geometry() AcquisitionGeometry {
	return fc.geom
}

func (fc *FlowController) Layout() BufferLayout {
	return fc.layout
}

func (fc *FlowController) PollInterval() time.Duration {
	return fc.opts.PollInterval
}

func (fc *FlowController) UnprocessedLimit() int64 {
	return fc.opts.UnprocessedLimit
}
