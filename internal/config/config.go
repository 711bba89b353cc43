package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// SubmitRate limits analyze requests per client, per second. Zero disables the limiter.
		SubmitRate  float64 `mapstructure:"submit_rate"`
		SubmitBurst int     `mapstructure:"submit_burst"`
	} `mapstructure:"server"`
	Auth struct {
		Enabled         bool   `mapstructure:"enabled"`
		DevModeBypass   bool   `mapstructure:"dev_mode_bypass"`
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Executor struct {
		Workers               int           `mapstructure:"workers"`
		QueueSize             int           `mapstructure:"queue_size"`
		TerminalWriteAttempts int           `mapstructure:"terminal_write_attempts"`
		RetryBackoff          time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"executor"`
	Pipeline struct {
		CatalogPath      string        `mapstructure:"catalog_path"`
		SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
		// RemoteStages names stages delegated to the ML sidecar.
		RemoteStages  []string `mapstructure:"remote_stages"`
		EstimatedTime string   `mapstructure:"estimated_time"`
	} `mapstructure:"pipeline"`
	JobStore struct {
		Driver    string        `mapstructure:"driver"`
		KeyPrefix string        `mapstructure:"key_prefix"`
		TTL       time.Duration `mapstructure:"ttl"`
	} `mapstructure:"job_store"`
	LearningStore struct {
		Driver     string `mapstructure:"driver"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"learning_store"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	MLSidecar struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ml_sidecar"`
	KnowledgeBase struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"knowledge_base"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.submit_rate", 20.0)
	v.SetDefault("server.submit_burst", 40)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.dev_mode_bypass", false)
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.swagger_client_id", "")

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{"localhost"})

	v.SetDefault("executor.workers", 4)
	v.SetDefault("executor.queue_size", 100)
	v.SetDefault("executor.terminal_write_attempts", 3)
	v.SetDefault("executor.retry_backoff", 50*time.Millisecond)

	v.SetDefault("pipeline.catalog_path", "")
	v.SetDefault("pipeline.simulated_latency", time.Duration(0))
	v.SetDefault("pipeline.remote_stages", []string{})
	v.SetDefault("pipeline.estimated_time", "2-4 minutes")

	v.SetDefault("job_store.driver", "memory")
	v.SetDefault("job_store.key_prefix", "rca:job:")
	v.SetDefault("job_store.ttl", 24*time.Hour)

	v.SetDefault("learning_store.driver", "sqlite")
	v.SetDefault("learning_store.sqlite_path", "rca-learning.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "rca")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("ml_sidecar.url", "")
	v.SetDefault("ml_sidecar.timeout", 30*time.Second)

	v.SetDefault("knowledge_base.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// LoadConfig loads the configuration from a file and the environment.
// With an empty path, config.yaml is looked up in . and ./config and may be
// absent. Any key can be overridden by RCA_<SECTION>_<KEY>.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.JobStore.Driver {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("job_store.driver must be memory or redis, got %q", c.JobStore.Driver))
	}
	switch c.LearningStore.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("learning_store.driver must be sqlite or postgres, got %q", c.LearningStore.Driver))
	}
	if c.Executor.Workers <= 0 {
		problems = append(problems, "executor.workers must be positive")
	}
	if c.Executor.QueueSize <= 0 {
		problems = append(problems, "executor.queue_size must be positive")
	}
	if len(c.Pipeline.RemoteStages) > 0 && c.MLSidecar.URL == "" {
		problems = append(problems, "pipeline.remote_stages requires ml_sidecar.url")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// PostgresDSN builds the PostgreSQL connection string from the db section.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
