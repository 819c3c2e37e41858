package fastcounter

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const simTimestampPeriod = 1000

// SimCard is an in-process card. It fills a data ring, and in gated mode a
// timestamp ring, one repetition per Produce step while the trigger is on.
// Repetitions that find the ring full are lost and counted as overruns.
type SimCard struct {
	mu sync.Mutex

	geom        AcquisitionGeometry
	data        *simRing
	ts          *simRing
	countPerRep int64

	armed    bool
	toggles  int
	triggers int64
	reps     int64
	overruns int64
	failNext error

	// Waveform gives the sample value of every point. Set before producing.
	Waveform func(rep int64, gate int, sample int) int32
}

type simRing struct {
	card     *SimCard
	name     string
	mem      []byte
	written  int64
	consumed int64
}

func NewSimCard(geom AcquisitionGeometry, layout BufferLayout, counting GateCounting) *SimCard {
	c := &SimCard{
		geom:        geom,
		countPerRep: 1,
		Waveform: func(rep int64, gate int, sample int) int32 {
			return int32(sample%64) + int32(gate)*100
		},
	}
	c.data = &simRing{card: c, name: "data", mem: make([]byte, layout.BufferSizeBytes)}
	if geom.Gated {
		c.ts = &simRing{card: c, name: "timestamps", mem: make([]byte, layout.TimestampBufferBytes)}
		if counting == PerPulse {
			c.countPerRep = int64(geom.NumberOfGates)
		} else {
			c.countPerRep = int64(geom.TotalGates)
		}
	}
	return c
}

func (c *SimCard) Hardware() Hardware {
	hw := Hardware{Data: c.data, Trigger: c}
	if c.ts != nil {
		hw.Timestamps = c.ts
	}
	return hw
}

// FailNext makes the next accessor call return err.
func (c *SimCard) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

func (c *SimCard) takeFailure() error {
	err := c.failNext
	c.failNext = nil
	return err
}

// Produce fires n triggers if armed and returns how many repetitions were
// stored in the ring.
func (c *SimCard) Produce(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return 0
	}
	stored := 0
	for i := 0; i < n; i++ {
		rep := c.reps
		c.reps++
		c.triggers += c.countPerRep
		if c.data.free() < c.geom.SequenceBytes() || (c.ts != nil && c.ts.free() < c.geom.TimestampSequenceBytes()) {
			c.overruns++
			continue
		}
		c.writeRepetition(rep)
		stored++
	}
	return stored
}

func (c *SimCard) writeRepetition(rep int64) {
	width := c.geom.SampleWidthBytes
	seg := int(c.geom.SegmentSizeSamples)
	off := c.data.written % int64(len(c.data.mem))
	buf := c.data.mem[off : off+c.geom.SequenceBytes()]
	for gate := 0; gate < c.geom.TotalGates; gate++ {
		for s := 0; s < seg; s++ {
			v := c.Waveform(rep, gate, s)
			idx := (gate*seg + s) * width
			if width == 2 {
				binary.LittleEndian.PutUint16(buf[idx:], uint16(int16(v)))
			} else {
				binary.LittleEndian.PutUint32(buf[idx:], uint32(v))
			}
		}
	}
	c.data.written += c.geom.SequenceBytes()

	if c.ts == nil {
		return
	}
	off = c.ts.written % int64(len(c.ts.mem))
	tbuf := c.ts.mem[off : off+c.geom.TimestampSequenceBytes()]
	for gate := 0; gate < c.geom.TotalGates; gate++ {
		rise := uint64(rep*int64(c.geom.TotalGates)+int64(gate)) * simTimestampPeriod
		words := []uint64{rise, 0, rise + simTimestampPeriod/2, 0}
		for w, v := range words {
			binary.LittleEndian.PutUint64(tbuf[(gate*TimestampWordsPerGate+w)*TimestampWordBytes:], v)
		}
	}
	c.ts.written += c.geom.TimestampSequenceBytes()
}

// Run produces repetitions at rateHz until ctx is done.
func (c *SimCard) Run(ctx context.Context, rateHz float64) {
	const step = 10 * time.Millisecond
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	due := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due += rateHz * step.Seconds()
			n := int(due)
			due -= float64(n)
			c.Produce(n)
		}
	}
}

func (c *SimCard) TriggerCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return 0, err
	}
	return c.triggers, nil
}

func (c *SimCard) EnableTrigger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return err
	}
	c.armed = true
	c.toggles++
	return nil
}

func (c *SimCard) DisableTrigger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return err
	}
	c.armed = false
	c.toggles++
	return nil
}

func (c *SimCard) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Toggles counts trigger enable and disable commands received.
func (c *SimCard) Toggles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toggles
}

func (c *SimCard) Overruns() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overruns
}

func (r *simRing) free() int64 {
	return int64(len(r.mem)) - (r.written - r.consumed)
}

func (r *simRing) AvailableLength() (int64, error) {
	r.card.mu.Lock()
	defer r.card.mu.Unlock()
	if err := r.card.takeFailure(); err != nil {
		return 0, err
	}
	return r.written - r.consumed, nil
}

func (r *simRing) AvailablePosition() (int64, error) {
	r.card.mu.Lock()
	defer r.card.mu.Unlock()
	if err := r.card.takeFailure(); err != nil {
		return 0, err
	}
	return r.consumed % int64(len(r.mem)), nil
}

func (r *simRing) MarkConsumed(n int64) error {
	r.card.mu.Lock()
	defer r.card.mu.Unlock()
	if err := r.card.takeFailure(); err != nil {
		return err
	}
	if n < 0 || n > r.written-r.consumed {
		return fmt.Errorf("%s ring: cannot consume %d of %d available bytes", r.name, n, r.written-r.consumed)
	}
	r.consumed += n
	return nil
}

func (r *simRing) Memory() []byte {
	return r.mem
}
