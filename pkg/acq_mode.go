package fastcounter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AcqMode is the card acquisition mode. Only the FIFO modes stream
// through the ring buffer; the STD modes are accepted for completeness.
type AcqMode string

const (
	STD_SINGLE   AcqMode = "STD_SINGLE"
	STD_MULTI    AcqMode = "STD_MULTI"
	STD_GATE     AcqMode = "STD_GATE"
	FIFO_SINGLE  AcqMode = "FIFO_SINGLE"
	FIFO_MULTI   AcqMode = "FIFO_MULTI"
	FIFO_GATE    AcqMode = "FIFO_GATE"
	FIFO_AVERAGE AcqMode = "FIFO_AVERAGE"
)

var acqModeStrings = []AcqMode{
	STD_SINGLE,
	STD_MULTI,
	STD_GATE,
	FIFO_SINGLE,
	FIFO_MULTI,
	FIFO_GATE,
	FIFO_AVERAGE,
}

func ParseAcqMode(s string) (AcqMode, error) {
	for _, v := range acqModeStrings {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid AcqMode: %s", s)
}

func (m AcqMode) String() string {
	if _, err := ParseAcqMode(string(m)); err != nil {
		return "UNKNOWN"
	}
	return string(m)
}

func (m AcqMode) Gated() bool {
	return strings.Contains(string(m), "GATE")
}

func (m AcqMode) Streaming() bool {
	return strings.HasPrefix(string(m), "FIFO")
}

// SampleWidthBytes is 4 when the card averages on board, 2 otherwise.
func (m AcqMode) SampleWidthBytes() int {
	if m == FIFO_AVERAGE {
		return 4
	}
	return 2
}

func (m AcqMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *AcqMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseAcqMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// GateCounting says how the card's trigger counter advances in gated mode:
// once per gate window or once per pulse.
type GateCounting string

const (
	PerGate  GateCounting = "per_gate"
	PerPulse GateCounting = "per_pulse"
)

var gateCountingStrings = []GateCounting{PerGate, PerPulse}

func ParseGateCounting(s string) (GateCounting, error) {
	for _, v := range gateCountingStrings {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid GateCounting: %s", s)
}

// Divisor turns a raw trigger count into completed repetitions.
func (c GateCounting) Divisor(g AcquisitionGeometry) int64 {
	if !g.Gated {
		return 1
	}
	if c == PerPulse {
		return int64(g.NumberOfGates)
	}
	return int64(g.TotalGates)
}

func (c GateCounting) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

func (c *GateCounting) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	counting, err := ParseGateCounting(s)
	if err != nil {
		return err
	}
	*c = counting
	return nil
}
