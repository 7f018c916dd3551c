package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the reasoning service.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Databases  DatabasesConfig  `mapstructure:"databases"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains server and auth settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
}

// DatabasesConfig groups the storage collaborators.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains the relational store settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains the event queue / lock settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// InferenceConfig configures the pluggable inference collaborator.
type InferenceConfig struct {
	Provider    string        `mapstructure:"provider"` // only "openai" today
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EscalationConfig configures the stalled-workspace watchdog.
type EscalationConfig struct {
	Enabled      bool                     `mapstructure:"enabled"`
	ScanSchedule string                   `mapstructure:"scan_schedule"` // @hourly, @daily or 5-field cron; empty = fixed interval
	ScanInterval time.Duration            `mapstructure:"scan_interval"`
	Elevated     time.Duration            `mapstructure:"elevated_after"`
	Urgent       time.Duration            `mapstructure:"urgent_after"`
	Critical     time.Duration            `mapstructure:"critical_after"`
	PerState     map[string]time.Duration `mapstructure:"per_state"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AppConfig is the process-wide configuration, populated by LoadConfig.
var AppConfig Config

// LoadConfig reads configuration from file and RAISON_* environment variables.
// An empty path searches the usual locations; a missing file is tolerated when
// allowMissing is true (env-only deployments).
func LoadConfig(path string, allowMissing bool) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.listen", ":10030")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("inference.provider", "openai")
	viper.SetDefault("inference.model", "gpt-4o-mini")
	viper.SetDefault("inference.temperature", 0.2)
	viper.SetDefault("inference.timeout", 45*time.Second)
	viper.SetDefault("escalation.enabled", true)
	viper.SetDefault("escalation.scan_interval", time.Minute)
	viper.SetDefault("escalation.elevated_after", 5*time.Minute)
	viper.SetDefault("escalation.urgent_after", 15*time.Minute)
	viper.SetDefault("escalation.critical_after", 30*time.Minute)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RAISON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || !allowMissing {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	AppConfig = cfg
	return nil
}
