package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string

	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// Discovery settings
	SSDPDiscoveryTimeoutMs int
	SSDPDiscoveryPasses    int
	SSDPPassIntervalMs     int
	StaticDeviceIPs        []string

	// Device call settings
	DeviceTimeoutMs   int
	CallRetries       int
	CallRetryDelayMs  int
	VerifyTries       int
	VerifyDelayMs     int
	EventCallbackPort int

	// Engine settings
	IdleTimeoutMs     int
	CommandPollMs     int
	ChangeRetentionHr int

	// Library settings
	LibraryRoot    string
	LibraryPrefix  string
	MinSearchWord  int
	LibraryWatch   bool
	RescanCronSpec string
	PruneCronSpec  string
}

// fileConfig is the optional YAML overlay read from FLEET_CONFIG_FILE.
// Only fields present in the file override the environment.
type fileConfig struct {
	Host            *string  `yaml:"host"`
	Port            *string  `yaml:"port"`
	SQLiteDBPath    *string  `yaml:"db_path"`
	StaticDeviceIPs []string `yaml:"static_device_ips"`
	LibraryRoot     *string  `yaml:"library_root"`
	LibraryPrefix   *string  `yaml:"library_prefix"`
	IdleTimeoutMs   *int     `yaml:"idle_timeout_ms"`
}

// Load reads configuration from environment variables with defaults,
// then applies the optional YAML overlay file.
func Load() (Config, error) {
	cfg := Config{
		Host:         envString("HOST", "0.0.0.0"),
		Port:         envString("PORT", "9100"),
		SQLiteDBPath: envString("SQLITE_DB_PATH", "./data/sonos-fleet.db"),

		JWTSecret:                envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 30*24*3600),

		SSDPDiscoveryTimeoutMs: envInt("SSDP_DISCOVERY_TIMEOUT_MS", 5000),
		SSDPDiscoveryPasses:    envInt("SSDP_DISCOVERY_PASSES", 3),
		SSDPPassIntervalMs:     envInt("SSDP_PASS_INTERVAL_MS", 2000),
		StaticDeviceIPs:        envCSV("STATIC_DEVICE_IPS"),

		DeviceTimeoutMs:   envInt("DEVICE_TIMEOUT_MS", 5000),
		CallRetries:       envInt("CALL_RETRIES", 3),
		CallRetryDelayMs:  envInt("CALL_RETRY_DELAY_MS", 1000),
		VerifyTries:       envInt("VERIFY_TRIES", 10),
		VerifyDelayMs:     envInt("VERIFY_DELAY_MS", 300),
		EventCallbackPort: envInt("EVENT_CALLBACK_PORT", 0),

		IdleTimeoutMs:     envInt("IDLE_TIMEOUT_MS", 10000),
		CommandPollMs:     envInt("COMMAND_POLL_MS", 1000),
		ChangeRetentionHr: envInt("CHANGE_RETENTION_HOURS", 24),

		LibraryRoot:    envString("LIBRARY_ROOT", "./library/files"),
		LibraryPrefix:  envString("LIBRARY_PREFIX", "x-file-cifs://media.local/files/"),
		MinSearchWord:  envInt("MIN_SEARCH_WORD", 3),
		LibraryWatch:   envBool("LIBRARY_WATCH", true),
		RescanCronSpec: envString("RESCAN_CRON", "0 3 * * *"),
		PruneCronSpec:  envString("PRUNE_CRON", "30 3 * * *"),
	}

	if path := os.Getenv("FLEET_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

// IdleTimeout returns the listen idle timeout as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// DeviceTimeout returns the per-call device timeout as a duration.
func (c Config) DeviceTimeout() time.Duration {
	return time.Duration(c.DeviceTimeoutMs) * time.Millisecond
}

// CommandPoll returns the external command poll interval as a duration.
func (c Config) CommandPoll() time.Duration {
	return time.Duration(c.CommandPollMs) * time.Millisecond
}

// CallRetryDelay returns the delay between device call retries.
func (c Config) CallRetryDelay() time.Duration {
	return time.Duration(c.CallRetryDelayMs) * time.Millisecond
}

// VerifyDelay returns the delay between verify polls.
func (c Config) VerifyDelay() time.Duration {
	return time.Duration(c.VerifyDelayMs) * time.Millisecond
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.SQLiteDBPath != nil {
		cfg.SQLiteDBPath = *fc.SQLiteDBPath
	}
	if len(fc.StaticDeviceIPs) > 0 {
		cfg.StaticDeviceIPs = fc.StaticDeviceIPs
	}
	if fc.LibraryRoot != nil {
		cfg.LibraryRoot = *fc.LibraryRoot
	}
	if fc.LibraryPrefix != nil {
		cfg.LibraryPrefix = *fc.LibraryPrefix
	}
	if fc.IdleTimeoutMs != nil {
		cfg.IdleTimeoutMs = *fc.IdleTimeoutMs
	}
	return nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
