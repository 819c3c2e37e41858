package fastcounter

// RingBuffer is the host side of one DMA ring on the card. Lengths and
// positions are in bytes.
type RingBuffer interface {
	// AvailableLength is the number of filled bytes not yet credited back.
	AvailableLength() (int64, error)
	// AvailablePosition is the byte offset of the oldest filled byte.
	AvailablePosition() (int64, error)
	// MarkConsumed hands n bytes back to the card for refilling.
	MarkConsumed(n int64) error
	// Memory is the mapped ring. Callers must only read it.
	Memory() []byte
}

type TriggerSource interface {
	// TriggerCount is monotonic for the lifetime of an acquisition.
	TriggerCount() (int64, error)
	EnableTrigger() error
	DisableTrigger() error
}

// Hardware groups the accessors one session owns exclusively.
// Timestamps is only used in gated mode.
type Hardware struct {
	Data       RingBuffer
	Timestamps RingBuffer
	Trigger    TriggerSource
}
