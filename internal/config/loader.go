package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for complyflow.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("complyflow")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: COMPLYFLOW_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("COMPLYFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a complyflow config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".complyflow"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "complyflow"))
		}
	} else {
		paths = append(paths, "/etc/complyflow")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for complyflow.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "complyflow"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar config keys for environment variable support.
// Example: COMPLYFLOW_STORE_DRIVER overrides store.driver
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.tls_cert_file",
		"server.tls_key_file",
		"server.admin_rate_limit",

		"store.driver",
		"store.path",

		"rules.seed_file",

		"engine.workers",
		"engine.queue_size",
		"engine.publish_timeout",
		"engine.max_retries",
		"engine.action_timeout",
		"engine.guard_expressions",
		"engine.webhook_allow_private",

		"harness.allow_live_side_effects",

		"execution_log.file",

		"ingest.nats.enabled",
		"ingest.nats.url",
		"ingest.nats.subject",
		"ingest.nats.queue",
		"ingest.nats.token",
		"ingest.kafka.enabled",
		"ingest.kafka.brokers",
		"ingest.kafka.topic",
		"ingest.kafka.group_id",
		"ingest.tenant_quota.enabled",
		"ingest.tenant_quota.rate",
		"ingest.tenant_quota.burst",
		"ingest.tenant_quota.period",

		"telemetry.enabled",
		"telemetry.sample_ratio",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
	// auth.keys is an array, complex to override via env.
	// Users should use the config file for keys.
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
