package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's file-based configuration. Every field has an
// environment override so container deployments can skip the file entirely.
type Config struct {
	Session struct {
		ID                    string  `yaml:"id"`
		DriftToleranceSeconds float64 `yaml:"drift_tolerance_seconds"`
		HeartbeatIntervalSec  int     `yaml:"heartbeat_interval_sec"`
		OfflineTimeoutSec     int     `yaml:"offline_timeout_sec"`
	} `yaml:"session"`

	User struct {
		ID             string   `yaml:"id"`
		DisplayName    string   `yaml:"display_name"`
		Roles          []string `yaml:"roles"`
		AllowedRoles   []string `yaml:"allowed_roles"`
		ShareInitiator bool     `yaml:"share_initiator"`
	} `yaml:"user"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// resolveConfig loads the optional YAML file and applies environment
// overrides and defaults on top.
func resolveConfig() (*Config, error) {
	config := &Config{}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := loadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	config.Session.ID = getEnv("SESSION_ID", defaultString(config.Session.ID, "default"))
	if config.Session.DriftToleranceSeconds <= 0 {
		config.Session.DriftToleranceSeconds = 2.0
	}
	config.Session.HeartbeatIntervalSec = getEnvAsInt("HEARTBEAT_INTERVAL_SEC", defaultInt(config.Session.HeartbeatIntervalSec, 5))
	config.Session.OfflineTimeoutSec = getEnvAsInt("OFFLINE_TIMEOUT_SEC", defaultInt(config.Session.OfflineTimeoutSec, 20))

	config.User.ID = getEnv("USER_ID", config.User.ID)
	if config.User.ID == "" {
		return nil, fmt.Errorf("USER_ID is required")
	}
	config.User.DisplayName = getEnv("DISPLAY_NAME", defaultString(config.User.DisplayName, config.User.ID))
	config.User.ShareInitiator = getEnvAsBool("SHARE_INITIATOR", config.User.ShareInitiator)

	config.NATS.URL = getEnv("NATS_URL", defaultString(config.NATS.URL, "nats://localhost:4222"))

	return config, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func (c *Config) heartbeatInterval() time.Duration {
	return time.Duration(c.Session.HeartbeatIntervalSec) * time.Second
}

func (c *Config) offlineTimeout() time.Duration {
	return time.Duration(c.Session.OfflineTimeoutSec) * time.Second
}
