package fastcounter

import (
	"errors"
	"fmt"
	"time"
)

// ErrTickInProgress is returned when Tick is called while another tick is running.
var ErrTickInProgress = errors.New("flow controller tick already in progress")

// ErrSessionStopped is returned by operations on a session that was stopped.
var ErrSessionStopped = errors.New("acquisition session stopped")

// ErrRingsOutOfStep is returned when the data ring was credited but the
// timestamp ring was not. The controller cannot drain again.
var ErrRingsOutOfStep = errors.New("data and timestamp rings out of step")

// ErrConfiguration represents invalid acquisition parameters.
type ErrConfiguration struct {
	Field  string
	Reason string
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}

// ErrInsufficientBuffer represents a hardware buffer that cannot hold one sequence.
type ErrInsufficientBuffer struct {
	CapacitySamples int64
	SequenceSamples int64
}

func (e *ErrInsufficientBuffer) Error() string {
	return fmt.Sprintf("buffer of %d samples cannot hold one sequence of %d samples",
		e.CapacitySamples, e.SequenceSamples)
}

// ErrBufferRange represents a read that falls outside the ring buffer.
type ErrBufferRange struct {
	UserPos       int64
	Reps          int
	RepsPerBuffer int
}

func (e *ErrBufferRange) Error() string {
	return fmt.Sprintf("read of %d repetitions at byte %d is outside a ring of %d repetitions",
		e.Reps, e.UserPos, e.RepsPerBuffer)
}

// ErrAcquisitionStalled represents a wait for data that timed out.
type ErrAcquisitionStalled struct {
	Waited time.Duration
	Err    error
}

func (e *ErrAcquisitionStalled) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no data after %v: %v", e.Waited, e.Err)
	}
	return fmt.Sprintf("no data after %v", e.Waited)
}

func (e *ErrAcquisitionStalled) Unwrap() error {
	return e.Err
}

// ErrHardware wraps a failure reported by the card accessor.
type ErrHardware struct {
	Op  string
	Err error
}

func (e *ErrHardware) Error() string {
	return fmt.Sprintf("hardware %s: %v", e.Op, e.Err)
}

func (e *ErrHardware) Unwrap() error {
	return e.Err
}
