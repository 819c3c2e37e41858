package fastcounter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sessionConfiguration() Configuration {
	return Configuration{
		AcqMode:           FIFO_MULTI,
		BinWidthS:         1e-9,
		RecordLengthS:     64e-9,
		Alignment:         16,
		Channels:          1,
		BufferSizeSamples: 1 << 16,
		MaxRepsPerBuffer:  100,
		Repetitions:       20,
		GateCounting:      PerGate,
		WaitTimeIntervalS: 0.001,
		StallTimeoutS:     1,
		RangeMV:           1000,
		BatchQueueSize:    64,
		NumWorkers:        1,
	}
}

func TestNewPlan(t *testing.T) {
	plan, err := NewPlan(sessionConfiguration())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Geometry.SequenceSizeSamples != 64 || plan.Layout.RepsPerBuffer != 100 {
		t.Errorf("wrong plan: %+v", plan)
	}

	config := sessionConfiguration()
	config.BufferSizeSamples = 10
	var bufErr *ErrInsufficientBuffer
	if _, err := NewPlan(config); !errors.As(err, &bufErr) {
		t.Errorf("expected ErrInsufficientBuffer, got %v", err)
	}
}

func TestSessionRun__ReachesTarget(t *testing.T) {
	config := sessionConfiguration()
	plan, err := NewPlan(config)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	card := NewSimCard(plan.Geometry, plan.Layout, config.GateCounting)
	session, err := NewSession(config, plan, card.Hardware())
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go card.Run(ctx, 2000)

	if err := session.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("session did not finish before the deadline")
	}

	trace := session.Trace()
	if trace.Info.ElapsedSweeps != 20 {
		t.Errorf("expected 20 sweeps, got %d", trace.Info.ElapsedSweeps)
	}
	if session.State() != StateStopped || session.Status() != "idle" || card.Armed() {
		t.Errorf("session should end stopped and disarmed, got %v", session.State())
	}
	if len(session.Batches()) == 0 {
		t.Errorf("expected raw batches on the queue")
	}
	mv, info := session.TraceMillivolts()
	if info.ElapsedSweeps != 20 || len(mv) != 64 {
		t.Errorf("wrong millivolt trace: %d samples over %d sweeps", len(mv), info.ElapsedSweeps)
	}
	if !closeTo(mv[3], 3*1000.0/65536) {
		t.Errorf("sample 3 should be %v mV, got %v", 3*1000.0/65536, mv[3])
	}
	if session.ID.String() == "" {
		t.Errorf("session has no id")
	}
}

func TestSessionRun__Stalls(t *testing.T) {
	config := sessionConfiguration()
	config.StallTimeoutS = 0.02
	plan, _ := NewPlan(config)
	card := NewSimCard(plan.Geometry, plan.Layout, config.GateCounting)
	session, err := NewSession(config, plan, card.Hardware())
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	err = session.Run(context.Background())
	var stalled *ErrAcquisitionStalled
	if !errors.As(err, &stalled) {
		t.Fatalf("expected ErrAcquisitionStalled, got %v", err)
	}
	if card.Armed() {
		t.Errorf("trigger left on after a stall")
	}
}

func TestSessionRun__Cancelled(t *testing.T) {
	config := sessionConfiguration()
	config.Repetitions = 0
	plan, _ := NewPlan(config)
	card := NewSimCard(plan.Geometry, plan.Layout, config.GateCounting)
	session, _ := NewSession(config, plan, card.Hardware())

	ctx, cancel := context.WithCancel(context.Background())
	go card.Run(ctx, 1000)
	time.AfterFunc(50*time.Millisecond, cancel)

	if err := session.Run(ctx); err != nil {
		t.Fatalf("cancelled run should end cleanly, got %v", err)
	}
	if session.State() != StateStopped || card.Armed() {
		t.Errorf("expected stopped and disarmed")
	}
	if stats := session.Stats(); stats.Ticks == 0 {
		t.Errorf("expected ticks to be counted")
	}
}

func TestSessionRun__DefaultPollInterval(t *testing.T) {
	config := sessionConfiguration()
	plan, err := NewPlan(config)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	config.WaitTimeIntervalS = 0
	config.StallTimeoutS = 0
	card := NewSimCard(plan.Geometry, plan.Layout, config.GateCounting)
	session, err := NewSession(config, plan, card.Hardware())
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go card.Run(ctx, 2000)

	if err := session.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := session.Trace().Info.ElapsedSweeps; got != config.Repetitions {
		t.Errorf("expected %d sweeps, got %d", config.Repetitions, got)
	}
}
