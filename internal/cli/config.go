package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the relgraph CLI configuration, discovered from
// relgraph.yaml.
type Config struct {
	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Evaluator traversal bounds, exposed per spec.md §9's named constants
	// rather than hardcoded. They are loaded here, but no command in
	// cmd/relgraph passes them to an engine.
	Eval EvalConfig `mapstructure:"eval"`

	// Per-command configuration
	Migrate  MigrateConfig  `mapstructure:"migrate"`
	Doctor   DoctorConfig   `mapstructure:"doctor"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// EvalConfig holds the bounded-traversal knobs from internal/eval.
type EvalConfig struct {
	MaxGroupDepth         int `mapstructure:"max_group_depth"`
	MaxResourceDepth      int `mapstructure:"max_resource_depth"`
	HierarchyIterationCap int `mapstructure:"hierarchy_iteration_cap"`
}

// MigrateConfig holds migration settings.
type MigrateConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// ScheduleConfig holds the maintenance scheduler's knobs.
type ScheduleConfig struct {
	PartitionsAhead int `mapstructure:"partitions_ahead"`
	RetentionMonths int `mapstructure:"retention_months"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none
// found), and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("RELGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	// Eval defaults mirror internal/eval's own DefaultMax* constants.
	v.SetDefault("eval.max_group_depth", 50)
	v.SetDefault("eval.max_resource_depth", 50)
	v.SetDefault("eval.hierarchy_iteration_cap", 100)

	// Migrate defaults
	v.SetDefault("migrate.dry_run", false)

	// Doctor defaults
	v.SetDefault("doctor.verbose", false)

	// Schedule defaults
	v.SetDefault("schedule.partitions_ahead", 2)
	v.SetDefault("schedule.retention_months", 24)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for relgraph.yaml or relgraph.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"relgraph.yaml", "relgraph.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
