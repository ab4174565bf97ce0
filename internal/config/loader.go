package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the gateway.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Worker runtime
	WorkerImage   string `json:"worker_image" yaml:"worker_image" toml:"worker_image"`
	WorkerLabel   string `json:"worker_label" yaml:"worker_label" toml:"worker_label"`
	WorkerNetwork string `json:"worker_network" yaml:"worker_network" toml:"worker_network"`
	WorkerPort    int    `json:"worker_port" yaml:"worker_port" toml:"worker_port"`
	DataVolume    string `json:"data_volume" yaml:"data_volume" toml:"data_volume"`
	GPUs          string `json:"gpus" yaml:"gpus" toml:"gpus"`
	DockerBin     string `json:"docker_bin" yaml:"docker_bin" toml:"docker_bin"`
	DefaultModel  string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// Lifecycle and health
	ProvisionTimeoutSec   int  `json:"provision_timeout_sec" yaml:"provision_timeout_sec" toml:"provision_timeout_sec"`
	ProbeIntervalSec      int  `json:"probe_interval_sec" yaml:"probe_interval_sec" toml:"probe_interval_sec"`
	ProbeTimeoutSec       int  `json:"probe_timeout_sec" yaml:"probe_timeout_sec" toml:"probe_timeout_sec"`
	ProbeFailureThreshold int  `json:"probe_failure_threshold" yaml:"probe_failure_threshold" toml:"probe_failure_threshold"`
	AutoReplace           bool `json:"auto_replace" yaml:"auto_replace" toml:"auto_replace"`

	// Dispatch queue
	QueueMaxWaitSec int `json:"queue_max_wait_sec" yaml:"queue_max_wait_sec" toml:"queue_max_wait_sec"`
	MaxQueueDepth   int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`

	// Shutdown
	ShutdownGraceSec int `json:"shutdown_grace_sec" yaml:"shutdown_grace_sec" toml:"shutdown_grace_sec"`

	// HTTP layer
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
