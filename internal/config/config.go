// Package config loads the tracklog CLI configuration from yaml, layering
// file values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals yaml scalars in Go's duration notation ("200ms",
// "3s"). yaml.v3 has no native time.Duration support.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root of the yaml document.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Session  SessionConfig  `yaml:"session"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// ServiceConfig locates the tracking daemon.
type ServiceConfig struct {
	SocketPath string `yaml:"socket_path"`
	Namespace  string `yaml:"namespace"`
}

// SessionConfig tunes the session core.
type SessionConfig struct {
	PollTimeout Duration `yaml:"poll_timeout"`
	RetrySleep  Duration `yaml:"retry_sleep"`
	CloseWait   Duration `yaml:"close_wait"`
	QueueDepth  int      `yaml:"queue_depth"`
}

// RecorderConfig controls sqlite event recording.
type RecorderConfig struct {
	Path        string `yaml:"path"`
	FrameStride int    `yaml:"frame_stride"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			SocketPath: "/var/run/handlink/trackd.sock",
			Namespace:  "handlink",
		},
		Session: SessionConfig{
			PollTimeout: Duration(200 * time.Millisecond),
			RetrySleep:  Duration(100 * time.Millisecond),
			CloseWait:   Duration(3 * time.Second),
			QueueDepth:  64,
		},
		Recorder: RecorderConfig{
			FrameStride: 30,
		},
	}
}

// Load reads path and unmarshals it over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
