package main

import (
	"fmt"
	"strings"

	fastcounter "github.com/next-exp/fastcounter_go/pkg"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("verbosity", 0)
	v.SetDefault("acq_mode", string(fastcounter.FIFO_MULTI))
	v.SetDefault("bin_width_s", 4e-9)
	v.SetDefault("record_length_s", 4e-6)
	v.SetDefault("number_of_gates", 0)
	v.SetDefault("double_gate_acquisition", false)
	v.SetDefault("num_channels", 1)
	v.SetDefault("pre_trigger_samples", 0)
	v.SetDefault("post_trigger_samples", 0)
	v.SetDefault("gate_end_alignment", fastcounter.DefaultAlignment)
	v.SetDefault("init_buf_size_S", 1<<26)
	v.SetDefault("max_reps_per_buf", 10_000)
	v.SetDefault("repetitions", 0)
	v.SetDefault("gate_count_convention", string(fastcounter.PerGate))
	v.SetDefault("data_stack_on", false)
	v.SetDefault("wait_time_interval_s", 0.01)
	v.SetDefault("stall_timeout_s", 10.0)
	v.SetDefault("ai_range_mV", 1000)
	v.SetDefault("batch_queue_size", 0)
	v.SetDefault("num_workers", 1)
	v.SetDefault("no_db", true)
	v.SetDefault("host", "localhost")
	v.SetDefault("user", "fastcounter")
	v.SetDefault("pass", "readonly")
	v.SetDefault("dbname", "DAQ")
	v.SetDefault("device_serial", "")
	v.SetDefault("sim_trigger_rate_hz", 1000.0)
	v.SetDefault("status_interval_s", 1.0)
}

// LoadConfiguration reads filename (JSON, TOML or YAML, by extension) over
// the defaults. FASTCOUNTER_<KEY> environment variables override both.
func LoadConfiguration(filename string) (fastcounter.Configuration, error) {
	var config fastcounter.Configuration

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("fastcounter")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return config, err
		}
	}
	if err := v.Unmarshal(&config); err != nil {
		return config, err
	}
	mode, err := fastcounter.ParseAcqMode(string(config.AcqMode))
	if err != nil {
		return config, err
	}
	config.AcqMode = mode
	return config, nil
}

func printConfiguration(config fastcounter.Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("Acquisition mode: %s", config.AcqMode), "config")
	logger.Info(fmt.Sprintf("Bin width: %g s", config.BinWidthS), "config")
	logger.Info(fmt.Sprintf("Record length: %g s", config.RecordLengthS), "config")
	logger.Info(fmt.Sprintf("Number of gates: %d", config.NumberOfGates), "config")
	logger.Info(fmt.Sprintf("Double gate acquisition: %t", config.DoubleGate), "config")
	logger.Info(fmt.Sprintf("Channels: %d", config.Channels), "config")
	logger.Info(fmt.Sprintf("Pre trigger samples: %d", config.PreTriggerSamples), "config")
	logger.Info(fmt.Sprintf("Post trigger samples: %d", config.PostTriggerSamples), "config")
	logger.Info(fmt.Sprintf("Gate end alignment: %d", config.Alignment), "config")
	logger.Info(fmt.Sprintf("Buffer size: %d samples", config.BufferSizeSamples), "config")
	logger.Info(fmt.Sprintf("Max repetitions per buffer: %d", config.MaxRepsPerBuffer), "config")
	logger.Info(fmt.Sprintf("Repetitions: %d", config.Repetitions), "config")
	logger.Info(fmt.Sprintf("Gate count convention: %s", config.GateCounting), "config")
	logger.Info(fmt.Sprintf("Data stack: %t", config.DataStackOn), "config")
	logger.Info(fmt.Sprintf("Wait time interval: %g s", config.WaitTimeIntervalS), "config")
	logger.Info(fmt.Sprintf("Stall timeout: %g s", config.StallTimeoutS), "config")
	logger.Info(fmt.Sprintf("Input range: %d mV", config.RangeMV), "config")
	logger.Info(fmt.Sprintf("Batch queue size: %d", config.BatchQueueSize), "config")
	logger.Info(fmt.Sprintf("Number of workers: %d", config.NumWorkers), "config")
	logger.Info(fmt.Sprintf("No DB: %t", config.NoDB), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	logger.Info(fmt.Sprintf("Device serial: %s", config.DeviceSerial), "config")
	logger.Info(fmt.Sprintf("Simulated trigger rate: %g Hz", config.SimTriggerRateHz), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
}
