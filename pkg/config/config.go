package config

import (
	"fmt"
	"os"
	"time"

	"github.com/itohio/godiode/pkg/daqerr"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Scan    ScanConfig    `yaml:"scan"`
	Mock    MockConfig    `yaml:"mock"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"` // Wait for a single reply line
}

// ScanConfig contains the sweep parameters.
type ScanConfig struct {
	StartVolts   float64 `yaml:"start_volts"`
	StopVolts    float64 `yaml:"stop_volts"`
	ResistorLoad float64 `yaml:"resistor_load"` // Ohm, must not be zero
	SampleSize   int     `yaml:"sample_size"`   // Readings per channel per step
}

// MockConfig contains mock instrument configuration.
type MockConfig struct {
	ResistorLoad      float64 `yaml:"resistor_load"`      // Simulated series resistor (Ohm)
	SaturationCurrent float64 `yaml:"saturation_current"` // LED saturation current (A)
	Ideality          float64 `yaml:"ideality"`           // LED ideality factor
	NoiseCodes        int     `yaml:"noise_codes"`        // Max random deviation of a reading (codes)
	Seed              int64   `yaml:"seed"`               // Noise seed
	Identification    string  `yaml:"identification"`     // Reply to *IDN?
	NoIdentify        bool    `yaml:"no_identify"`        // Simulate firmware without *IDN? support
	FailAfter         int     `yaml:"fail_after"`         // Stop replying after this many queries (0 = never)
}

// MQTTConfig contains optional live publishing configuration.
type MQTTConfig struct {
	Server   string `yaml:"server"` // Empty disables publishing
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MetricsConfig contains the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // Empty disables the endpoint
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 9600,
			Timeout:  2 * time.Second,
		},
		Scan: ScanConfig{
			StartVolts:   0.0,
			StopVolts:    3.3,
			ResistorLoad: 220,
			SampleSize:   5,
		},
		Mock: MockConfig{
			ResistorLoad:      220,
			SaturationCurrent: 3e-18,
			Ideality:          2.0,
			NoiseCodes:        2,
			Seed:              1,
			Identification:    "Arduino VISA firmware v1.0.0",
		},
		MQTT: MQTTConfig{
			ClientID: "godiode",
			Topic:    "godiode/scan",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FullScaleVolts is the output and input range of the instrument.
const FullScaleVolts = 3.3

// Validate checks the scan section with the same rules a scan applies. A zero
// resistor load is rejected rather than replaced by the default.
func (c *Config) Validate() error {
	if !(c.Scan.StartVolts >= 0 && c.Scan.StopVolts <= FullScaleVolts) {
		return fmt.Errorf("%w: scan %.2f..%.2f V outside [0, %.1f] V", daqerr.ErrInvalidArgument, c.Scan.StartVolts, c.Scan.StopVolts, FullScaleVolts)
	}
	if !(c.Scan.StartVolts <= c.Scan.StopVolts) {
		return fmt.Errorf("%w: scan stop %.2f V below start %.2f V", daqerr.ErrInvalidArgument, c.Scan.StopVolts, c.Scan.StartVolts)
	}
	if c.Scan.ResistorLoad == 0 {
		return fmt.Errorf("%w: resistor load of zero is not allowed", daqerr.ErrInvalidArgument)
	}
	if c.Scan.SampleSize < 1 {
		return fmt.Errorf("%w: sample size %d below 1", daqerr.ErrInvalidArgument, c.Scan.SampleSize)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
// Scan parameters are left alone: zero is a meaningful start voltage and an
// invalid load must surface in Validate.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Mock.ResistorLoad == 0 {
		c.Mock.ResistorLoad = def.Mock.ResistorLoad
	}
	if c.Mock.SaturationCurrent == 0 {
		c.Mock.SaturationCurrent = def.Mock.SaturationCurrent
	}
	if c.Mock.Ideality == 0 {
		c.Mock.Ideality = def.Mock.Ideality
	}
	if c.Mock.Identification == "" {
		c.Mock.Identification = def.Mock.Identification
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
