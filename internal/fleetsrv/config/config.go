// Package config loads the fleet server configuration from a TOML file.
// Call LoadConfig once at startup; Config() returns the loaded values
// everywhere else.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

type ServerConfig struct {
	Port       string `toml:"port"`
	HandleCORS bool   `toml:"handle_cors"`
}

type StoreConfig struct {
	// Backend is "memory" or "postgresql".
	Backend string `toml:"backend" validate:"required,oneof=memory postgresql"`
	DSN     string `toml:"dsn" validate:"required_if=Backend postgresql"`
}

type ProvisionerConfig struct {
	// Backend is "cli" or "fake".
	Backend string `toml:"backend" validate:"required,oneof=cli fake"`
	Binary  string `toml:"binary" validate:"required_if=Backend cli"`
	WorkDir string `toml:"work_dir"`
	// ShardWorkDir holds the shard-level infrastructure definitions.
	ShardWorkDir string `toml:"shard_work_dir"`
}

type RoutingConfig struct {
	VirtualNodes int `toml:"virtual_nodes" validate:"omitempty,min=1"`
}

type CapacityConfig struct {
	UtilizationThreshold float64 `toml:"utilization_threshold" validate:"omitempty,gt=0,lte=1"`
	ShardCapacity        int     `toml:"shard_capacity" validate:"omitempty,min=1"`
	Region               string  `toml:"region"`
	ShardIdPrefix        string  `toml:"shard_id_prefix"`
	CheckInterval        string  `toml:"check_interval"`
}

type LifecycleConfig struct {
	RetryAttempts     uint   `toml:"retry_attempts" validate:"omitempty,min=1"`
	RetryBaseDelay    string `toml:"retry_base_delay"`
	LockTTL           string `toml:"lock_ttl"`
	JobTimeout        string `toml:"job_timeout"`
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs" validate:"omitempty,min=1"`
}

type HealthConfig struct {
	Interval          string `toml:"interval"`
	ProbeTimeout      string `toml:"probe_timeout"`
	FailureThreshold  int    `toml:"failure_threshold" validate:"omitempty,min=1"`
	RecoveryThreshold int    `toml:"recovery_threshold" validate:"omitempty,min=1"`
	EndpointTemplate  string `toml:"endpoint_template"`
}

type ConfigParam struct {
	Server      ServerConfig      `toml:"server"`
	Store       StoreConfig       `toml:"store"`
	Provisioner ProvisionerConfig `toml:"provisioner"`
	Routing     RoutingConfig     `toml:"routing"`
	Capacity    CapacityConfig    `toml:"capacity"`
	Lifecycle   LifecycleConfig   `toml:"lifecycle"`
	Health      HealthConfig      `toml:"health"`
}

var cfg *ConfigParam

func Config() *ConfigParam {
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadConfig(filename string) error {
	if filename == "" {
		cfg = defaultConfig()
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	cp := defaultConfig()
	if _, err := toml.Decode(string(content), cp); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}
	if err := validate.Struct(cp); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	cfg = cp
	return nil
}

func defaultConfig() *ConfigParam {
	return &ConfigParam{
		Server: ServerConfig{
			Port:       "8280",
			HandleCORS: true,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Provisioner: ProvisionerConfig{
			Backend: "fake",
		},
		Routing: RoutingConfig{
			VirtualNodes: 64,
		},
		Capacity: CapacityConfig{
			UtilizationThreshold: 0.8,
			ShardCapacity:        50,
			Region:               "us-east1",
			ShardIdPrefix:        "shard",
			CheckInterval:        "60s",
		},
		Lifecycle: LifecycleConfig{
			RetryAttempts:     5,
			RetryBaseDelay:    "1s",
			LockTTL:           "5m",
			JobTimeout:        "30m",
			MaxConcurrentJobs: 16,
		},
		Health: HealthConfig{
			Interval:          "15s",
			ProbeTimeout:      "3s",
			FailureThreshold:  3,
			RecoveryThreshold: 2,
			EndpointTemplate:  "http://{shard_id}.fleet.internal/healthz",
		},
	}
}

// Duration parses a duration field, falling back when the field is empty
// or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func init() {
	if err := LoadConfig(""); err != nil {
		panic(err)
	}
}
