package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for an analysis run.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
}

type DatabaseConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Name              string `mapstructure:"name"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
	QueriesPerSecond  int    `mapstructure:"queries_per_second"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SignalsConfig names the signal UUIDs each analysis role reads from.
type SignalsConfig struct {
	CycleStart string `mapstructure:"cycle_start"`
	CycleEnd   string `mapstructure:"cycle_end"`
	Tolerance  string `mapstructure:"tolerance"`
	Actual     string `mapstructure:"actual"`
	RunState   string `mapstructure:"run_state"`
	Upstream   string `mapstructure:"upstream"`
	Downstream string `mapstructure:"downstream"`
	Setpoint   string `mapstructure:"setpoint"`
}

// AnalysisConfig tunes the detectors. Durations are strings like "5s" or
// "1h" and are parsed where they are consumed.
type AnalysisConfig struct {
	MinCycleDuration     string  `mapstructure:"min_cycle_duration"`
	MaxCycleDuration     string  `mapstructure:"max_cycle_duration"`
	StepMinDelta         float64 `mapstructure:"step_min_delta"`
	StepMinHold          string  `mapstructure:"step_min_hold"`
	RampMinRate          float64 `mapstructure:"ramp_min_rate"`
	RampMinDuration      string  `mapstructure:"ramp_min_duration"`
	AlignmentTolerance   string  `mapstructure:"alignment_tolerance"`
	SPCWindow            int     `mapstructure:"spc_window"`
	CusumK               float64 `mapstructure:"cusum_k"`
	CusumH               float64 `mapstructure:"cusum_h"`
	OutlierTimeThreshold string  `mapstructure:"outlier_time_threshold"`
}

// Load reads configuration from a YAML file, expands $VAR references from
// the environment, and applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Round-trip through the YAML parser so scalar typing survives env
	// expansion below.
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewReader([]byte(expandedData))); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)
	v.SetDefault("database.queries_per_second", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("analysis.min_cycle_duration", "1s")
	v.SetDefault("analysis.max_cycle_duration", "1h")
	v.SetDefault("analysis.step_min_delta", 1.0)
	v.SetDefault("analysis.step_min_hold", "10s")
	v.SetDefault("analysis.ramp_min_rate", 0.5)
	v.SetDefault("analysis.ramp_min_duration", "5s")
	v.SetDefault("analysis.alignment_tolerance", "200ms")
	v.SetDefault("analysis.spc_window", 20)
	v.SetDefault("analysis.cusum_k", 0.5)
	v.SetDefault("analysis.cusum_h", 5.0)
	v.SetDefault("analysis.outlier_time_threshold", "5m")
}
