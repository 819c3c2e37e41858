package fastcounter

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/mapping"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	latencyMinUs  = 1
	latencyMaxUs  = 60_000_000
	latencySigFig = 3
	backlogAlpha  = 0.01
)

// Stats counts what the flow controller did. Drain latency goes to an HDR
// histogram and the unprocessed backlog seen on each tick to a DDSketch.
type Stats struct {
	mu            sync.Mutex
	ticks         int64
	drains        int64
	backpressure  int64
	dropped       int64
	creditedBytes int64
	latency       *hdrhistogram.Histogram
	backlog       *ddsketch.DDSketch
}

type StatsSnapshot struct {
	Ticks         int64
	Drains        int64
	Backpressure  int64
	Dropped       int64
	CreditedBytes int64
	LatencyP50    time.Duration
	LatencyP90    time.Duration
	LatencyP99    time.Duration
	BacklogP50    float64
	BacklogP99    float64
}

func newSketch(alpha float64) *ddsketch.DDSketch {
	m, _ := mapping.NewLogarithmicMapping(alpha)
	return ddsketch.NewDDSketch(m, store.NewDenseStore(), store.NewDenseStore())
}

func NewStats() *Stats {
	return &Stats{
		latency: hdrhistogram.New(latencyMinUs, latencyMaxUs, latencySigFig),
		backlog: newSketch(backlogAlpha),
	}
}

func (s *Stats) tick(unprocessed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	if unprocessed >= 0 {
		s.backlog.Add(float64(unprocessed))
	}
}

func (s *Stats) drain(bytes int64, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
	s.creditedBytes += bytes
	us := took.Microseconds()
	if us < latencyMinUs {
		us = latencyMinUs
	}
	// values above the histogram range are dropped by RecordValue
	_ = s.latency.RecordValue(us)
}

func (s *Stats) disarmed() {
	s.mu.Lock()
	s.backpressure++
	s.mu.Unlock()
}

func (s *Stats) droppedBatch() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func quantileSafe(sk *ddsketch.DDSketch, q float64) float64 {
	if sk.GetCount() == 0 {
		return 0
	}
	v, err := sk.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Ticks:         s.ticks,
		Drains:        s.drains,
		Backpressure:  s.backpressure,
		Dropped:       s.dropped,
		CreditedBytes: s.creditedBytes,
		LatencyP50:    time.Duration(s.latency.ValueAtQuantile(50)) * time.Microsecond,
		LatencyP90:    time.Duration(s.latency.ValueAtQuantile(90)) * time.Microsecond,
		LatencyP99:    time.Duration(s.latency.ValueAtQuantile(99)) * time.Microsecond,
		BacklogP50:    quantileSafe(s.backlog, 0.5),
		BacklogP99:    quantileSafe(s.backlog, 0.99),
	}
}
