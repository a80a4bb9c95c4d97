package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration wraps time.Duration so YAML fields accept "500ms" style values.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) value() time.Duration { return time.Duration(d) }

// reconnectConfig tunes the delay between reconnect attempts.
type reconnectConfig struct {
	BaseDelay duration `yaml:"base_delay"`
	MaxDelay  duration `yaml:"max_delay"`
	Factor    float64  `yaml:"factor"`
}

// recorderConfig is the YAML configuration of one recording session.
type recorderConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Endpoints   []string `yaml:"endpoints"`
	AppKey      string   `yaml:"appkey"`
	TLSInsecure bool     `yaml:"tls_insecure"`

	Output   string   `yaml:"output"`
	Channels []string `yaml:"channels"`
	Filters  []string `yaml:"filters"`

	// HistoryCount requests the last N messages per channel on subscribe.
	HistoryCount uint64 `yaml:"history_count"`
	// FastForward starts every subscription at the channel head.
	FastForward bool `yaml:"fast_forward"`

	Reconnect reconnectConfig `yaml:"reconnect"`

	Verbose bool `yaml:"verbose"`
}

func loadConfig(path string) (*recorderConfig, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config := &recorderConfig{}
	if err := yaml.Unmarshal(payload, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.applyDefaults()
	return config, nil
}

func (config *recorderConfig) applyDefaults() {
	if config.Output == "" {
		config.Output = "recording.ndjson"
	}
	if config.Reconnect.BaseDelay == 0 {
		config.Reconnect.BaseDelay = duration(500 * time.Millisecond)
	}
	if config.Reconnect.MaxDelay == 0 {
		config.Reconnect.MaxDelay = duration(30 * time.Second)
	}
	if config.Reconnect.Factor == 0 {
		config.Reconnect.Factor = 2
	}
}

func (config *recorderConfig) validate() error {
	if config.Endpoint == "" && len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoint configured")
	}
	if config.AppKey == "" {
		return fmt.Errorf("no appkey configured")
	}
	if len(config.Channels) == 0 && len(config.Filters) == 0 {
		return fmt.Errorf("nothing to record: no channels or filters configured")
	}
	if config.FastForward && config.HistoryCount > 0 {
		return fmt.Errorf("fast_forward and history_count are mutually exclusive")
	}
	return nil
}

// endpointList resolves the failover endpoint rotation, with the single
// endpoint field acting as the first entry.
func (config *recorderConfig) endpointList() []string {
	if config.Endpoint == "" {
		return config.Endpoints
	}
	return append([]string{config.Endpoint}, config.Endpoints...)
}
