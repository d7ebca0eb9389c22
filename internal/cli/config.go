package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for sentinelctl. Sentinelctl talks
// directly to the same stores cmd/sentineld uses (sqlite scan_history,
// the graph store, the local keyring) rather than to an HTTP gateway —
// there is none in scope (see DESIGN.md's final trim pass).
type Config struct {
	Graph   GraphConfig   `mapstructure:"graph"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Engram  EngramConfig  `mapstructure:"engram"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Output  OutputConfig  `mapstructure:"output"`
}

// EngramConfig points at the object store root the file-backed
// ObjectStore reads/writes, matching cmd/sentineld's configuration.
type EngramConfig struct {
	ObjectDir string `mapstructure:"object_dir"`
}

// GraphConfig points at the same property-graph backend cmd/sentineld
// writes to.
type GraphConfig struct {
	URL       string `mapstructure:"url"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
}

// ScanConfig points at the sqlite scan_history/audit_log database (C7).
type ScanConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SecretsConfig selects the keyring backend credential_refs resolve
// against, matching internal/secrets.Config.
type SecretsConfig struct {
	ServiceName string `mapstructure:"service_name"`
	FileDir     string `mapstructure:"file_dir"`
}

// OutputConfig holds output formatting configuration.
type OutputConfig struct {
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// InitConfig initializes configuration from file, environment
// variables, and flags. Precedence: flags > env vars > config file >
// defaults, matching the teacher's own convention.
func InitConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("unable to find home directory: %w", err)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".sentinel"))
		viper.AddConfigPath("/etc/sentinel")
		viper.SetConfigName("sentinelctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()

	viper.BindEnv("graph.url", "SENTINEL_GRAPH_URL")
	viper.BindEnv("graph.user", "SENTINEL_GRAPH_USER")
	viper.BindEnv("graph.password", "SENTINEL_GRAPH_PASSWORD")
	viper.BindEnv("graph.namespace", "SENTINEL_GRAPH_NAMESPACE")
	viper.BindEnv("graph.database", "SENTINEL_GRAPH_DATABASE")
	viper.BindEnv("scan.dsn", "SENTINEL_SCAN_DSN")
	viper.BindEnv("engram.object_dir", "SENTINEL_ENGRAM_OBJECT_DIR")
	viper.BindEnv("secrets.service_name", "SENTINEL_SECRETS_SERVICE")
	viper.BindEnv("secrets.file_dir", "SENTINEL_SECRETS_FILE_DIR")
	viper.BindEnv("output.format", "SENTINEL_OUTPUT_FORMAT")
	viper.BindEnv("output.color", "SENTINEL_OUTPUT_COLOR")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("graph.url", "ws://localhost:8000/rpc")
	viper.SetDefault("graph.user", "root")
	viper.SetDefault("graph.password", "root")
	viper.SetDefault("graph.namespace", "sentinel")
	viper.SetDefault("graph.database", "sentinel")
	viper.SetDefault("scan.dsn", "sentinel.db")
	viper.SetDefault("engram.object_dir", "./engram-objects")
	viper.SetDefault("secrets.service_name", "sentinel")
	viper.SetDefault("output.format", "table")
	viper.SetDefault("output.color", true)
}

// ValidateConfig validates the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Scan.DSN == "" {
		return fmt.Errorf("scan.dsn cannot be empty")
	}
	validFormats := map[string]bool{"json": true, "yaml": true, "table": true}
	if !validFormats[cfg.Output.Format] {
		return fmt.Errorf("invalid output format: %s (must be json, yaml, or table)", cfg.Output.Format)
	}
	return nil
}
