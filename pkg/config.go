package fastcounter

import "fmt"

type Configuration struct {
	Verbosity          int          `json:"verbosity" mapstructure:"verbosity"`
	AcqMode            AcqMode      `json:"acq_mode" mapstructure:"acq_mode"`
	BinWidthS          float64      `json:"bin_width_s" mapstructure:"bin_width_s"`
	RecordLengthS      float64      `json:"record_length_s" mapstructure:"record_length_s"`
	NumberOfGates      int          `json:"number_of_gates" mapstructure:"number_of_gates"`
	DoubleGate         bool         `json:"double_gate_acquisition" mapstructure:"double_gate_acquisition"`
	Channels           int          `json:"num_channels" mapstructure:"num_channels"`
	PreTriggerSamples  int          `json:"pre_trigger_samples" mapstructure:"pre_trigger_samples"`
	PostTriggerSamples int          `json:"post_trigger_samples" mapstructure:"post_trigger_samples"`
	Alignment          int          `json:"gate_end_alignment" mapstructure:"gate_end_alignment"`
	BufferSizeSamples  int64        `json:"init_buf_size_S" mapstructure:"init_buf_size_S"`
	MaxRepsPerBuffer   int          `json:"max_reps_per_buf" mapstructure:"max_reps_per_buf"`
	Repetitions        int64        `json:"repetitions" mapstructure:"repetitions"`
	GateCounting       GateCounting `json:"gate_count_convention" mapstructure:"gate_count_convention"`
	DataStackOn        bool         `json:"data_stack_on" mapstructure:"data_stack_on"`
	WaitTimeIntervalS  float64      `json:"wait_time_interval_s" mapstructure:"wait_time_interval_s"`
	StallTimeoutS      float64      `json:"stall_timeout_s" mapstructure:"stall_timeout_s"`
	RangeMV            int          `json:"ai_range_mV" mapstructure:"ai_range_mV"`
	BatchQueueSize     int          `json:"batch_queue_size" mapstructure:"batch_queue_size"`
	NumWorkers         int          `json:"num_workers" mapstructure:"num_workers"`
	NoDB               bool         `json:"no_db" mapstructure:"no_db"`
	Host               string       `json:"host" mapstructure:"host"`
	User               string       `json:"user" mapstructure:"user"`
	Passwd             string       `json:"pass" mapstructure:"pass"`
	DBName             string       `json:"dbname" mapstructure:"dbname"`
	DeviceSerial       string       `json:"device_serial" mapstructure:"device_serial"`
	SimTriggerRateHz   float64      `json:"sim_trigger_rate_hz" mapstructure:"sim_trigger_rate_hz"`
	StatusIntervalS    float64      `json:"status_interval_s" mapstructure:"status_interval_s"`
}

var configuration Configuration

func GetConfiguration() Configuration {
	return configuration
}

func SetConfiguration(config Configuration) {
	configuration = config
}

// Validate checks the fields that do not depend on the hardware profile.
// Sizes are checked later by ComputeGeometry and ComputeBufferLayout.
func (c Configuration) Validate() error {
	if _, err := ParseAcqMode(string(c.AcqMode)); err != nil {
		return &ErrConfiguration{Field: "acq_mode", Reason: err.Error()}
	}
	if !c.AcqMode.Streaming() {
		return &ErrConfiguration{Field: "acq_mode", Reason: fmt.Sprintf("%s does not stream through the ring buffer", c.AcqMode)}
	}
	if c.AcqMode.Gated() {
		if _, err := ParseGateCounting(string(c.GateCounting)); err != nil {
			return &ErrConfiguration{Field: "gate_count_convention", Reason: err.Error()}
		}
	}
	if c.Repetitions < 0 {
		return &ErrConfiguration{Field: "repetitions", Reason: "must be >= 0 (0 runs until stopped)"}
	}
	if c.MaxRepsPerBuffer < 1 {
		return &ErrConfiguration{Field: "max_reps_per_buf", Reason: "must be >= 1"}
	}
	if c.BufferSizeSamples <= 0 {
		return &ErrConfiguration{Field: "init_buf_size_S", Reason: "must be > 0"}
	}
	if c.WaitTimeIntervalS <= 0 {
		return &ErrConfiguration{Field: "wait_time_interval_s", Reason: "must be > 0"}
	}
	if c.StallTimeoutS < c.WaitTimeIntervalS {
		return &ErrConfiguration{Field: "stall_timeout_s", Reason: "must not be shorter than wait_time_interval_s"}
	}
	if c.BatchQueueSize < 0 {
		return &ErrConfiguration{Field: "batch_queue_size", Reason: "must be >= 0"}
	}
	if c.BatchQueueSize > 0 && c.NumWorkers < 1 {
		return &ErrConfiguration{Field: "num_workers", Reason: "at least one worker is needed to read the batch queue"}
	}
	return nil
}

// GeometryRequest builds the sizing inputs from the configuration.
func (c Configuration) GeometryRequest() GeometryRequest {
	return GeometryRequest{
		BinWidthS:          c.BinWidthS,
		RecordLengthS:      c.RecordLengthS,
		NumberOfGates:      c.NumberOfGates,
		Gated:              c.AcqMode.Gated(),
		DoubleGate:         c.DoubleGate,
		PreTriggerSamples:  c.PreTriggerSamples,
		PostTriggerSamples: c.PostTriggerSamples,
		Alignment:          c.Alignment,
		Channels:           c.Channels,
		SampleWidthBytes:   c.AcqMode.SampleWidthBytes(),
	}
}
