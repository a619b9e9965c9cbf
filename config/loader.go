package config

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Extract   ExtractConfig   `mapstructure:"extract"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Pageviews PageviewsConfig `mapstructure:"pageviews"`
	Survey    SurveyConfig    `mapstructure:"survey"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Report    ReportConfig    `mapstructure:"report"`
	Log       LogConfig       `mapstructure:"log"`
	Env       string
}

type ExtractConfig struct {
	Backoff BackoffConfig `mapstructure:"backoff"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackoffConfig is handed to the retryablehttp client as is. RetryMax defaults
// to zero: pipelines never retry on their own, the scheduler decides.
type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

type DatabaseConfig struct {
	Driver            string   `mapstructure:"driver"`
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	User              string   `mapstructure:"user"`
	Password          string   `mapstructure:"password"`
	Name              string   `mapstructure:"name"`
	SSLMode           string   `mapstructure:"sslmode"`
	Path              string   `mapstructure:"path"`
	Token             string   `mapstructure:"token"`
	MaxOpenConns      int      `mapstructure:"max_open_conns"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
}

type WeatherConfig struct {
	Source      string   `mapstructure:"source"`
	BaseURL     string   `mapstructure:"base_url"`
	APIKey      string   `mapstructure:"api_key"`
	CountryCode string   `mapstructure:"country_code"`
	Units       string   `mapstructure:"units"`
	Cities      []string `mapstructure:"cities"`
	File        string   `mapstructure:"file"`
}

type PageviewsConfig struct {
	Source    string          `mapstructure:"source"`
	BaseURL   string          `mapstructure:"base_url"`
	DataDir   string          `mapstructure:"data_dir"`
	Companies []CompanyConfig `mapstructure:"companies"`
}

type CompanyConfig struct {
	Name       string `mapstructure:"name"`
	DomainCode string `mapstructure:"domain_code"`
	PageTitle  string `mapstructure:"page_title"`
}

type SurveyConfig struct {
	Source   string `mapstructure:"source"`
	URL      string `mapstructure:"url"`
	File     string `mapstructure:"file"`
	Encoding string `mapstructure:"encoding"`
}

type MetricsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKey  string   `mapstructure:"api_key"`
	JobName string   `mapstructure:"job_name"`
	Tags    []string `mapstructure:"tags"`
}

type ReportConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variables that override them.
// Secrets and connection details are expected to come from the environment (or .env).
var envBindings = map[string]string{
	"database.driver":   "DB_DRIVER",
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
	"database.path":     "DB_PATH",
	"database.token":    "MOTHERDUCK_TOKEN",
	"weather.api_key":   "API_KEY",
	"survey.url":        "CSV_URL",
	"metrics.api_key":   "DD_API_KEY",
}

// NewConfig loads the configuration from the provided base config reader,
// merges it with the environment-specific configuration and finally applies
// the environment variable overrides listed in envBindings.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" { // Use the provided 'env' or default to "dev"
		env = "dev"
	}

	viper.SetConfigType("yaml")

	// Read the base configuration
	if err := viper.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := viper.MergeConfig(envConfigReader); err != nil {
			return nil, fmt.Errorf("error merging %s config: %w", env, err)
		}
	}

	for key, envVar := range envBindings {
		if err := viper.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", envVar, key, err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Set the environment directly
	config.Env = env

	return &config, nil
}
