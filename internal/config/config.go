// Package config loads the controller's configuration file and applies
// the documented defaults for every recognized key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetd/internal/fleet"
	"gopkg.in/yaml.v3"
)

// Config holds every configuration key recognized by the controller.
type Config struct {
	Monitor struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"monitor"`

	Telemetry struct {
		Timeout Duration `yaml:"timeout"`
	} `yaml:"telemetry"`

	Provider struct {
		Timeout Duration `yaml:"timeout"`
	} `yaml:"provider"`

	Thresholds fleet.Thresholds `yaml:"thresholds"`

	Leader struct {
		Path string `yaml:"path"`
	} `yaml:"leader"`

	Coordination struct {
		Endpoints []string `yaml:"endpoints"`
	} `yaml:"coordination"`

	Registry struct {
		ShardCount int    `yaml:"shardCount"`
		DataDir    string `yaml:"dataDir"`
	} `yaml:"registry"`

	Log struct {
		Level      string `yaml:"level"`
		JSONOutput bool   `yaml:"jsonOutput"`
	} `yaml:"log"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	var c Config
	c.Monitor.Interval = Duration(10 * time.Second)
	c.Telemetry.Timeout = Duration(5 * time.Second)
	c.Provider.Timeout = Duration(60 * time.Second)
	c.Thresholds = fleet.DefaultThresholds()
	c.Leader.Path = "/director/leader"
	c.Coordination.Endpoints = []string{"127.0.0.1:2379"}
	c.Registry.ShardCount = 8
	c.Registry.DataDir = "."
	c.Log.Level = "info"
	return c
}

// Load reads path (a fleetd.yaml file) over the defaults, then applies any
// FLEETD_<KEY> environment overrides (dots become underscores, uppercased),
// mirroring the CLI's flag/env override convention. A missing file is not
// an error: Load returns the defaults plus any environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("monitor.interval"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = Duration(d)
		}
	}
	if v, ok := lookupEnv("telemetry.timeout"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Telemetry.Timeout = Duration(d)
		}
	}
	if v, ok := lookupEnv("provider.timeout"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = Duration(d)
		}
	}
	if v, ok := lookupEnv("leader.path"); ok {
		cfg.Leader.Path = v
	}
	if v, ok := lookupEnv("registry.shardCount"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.ShardCount = n
		}
	}
	if v, ok := lookupEnv("log.level"); ok {
		cfg.Log.Level = v
	}
}

func lookupEnv(key string) (string, bool) {
	envKey := "FLEETD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return os.LookupEnv(envKey)
}
