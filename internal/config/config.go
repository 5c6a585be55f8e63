// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Workers  []WorkerConfig `mapstructure:"workers" validate:"dive"`
	Progress ProgressConfig `mapstructure:"progress"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port" validate:"gt=0,lte=65535"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" validate:"oneof=memory postgres badger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns               int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes" validate:"gte=0"`
}

// BadgerConfig locates the embedded store.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// CrawlerConfig governs fetch and crawl loop behavior shared by every worker.
type CrawlerConfig struct {
	UserAgent      string         `mapstructure:"user_agent"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds" validate:"gt=0"`
	QueueDepth     int            `mapstructure:"queue_depth" validate:"gte=0"`
	DelayMillis    int            `mapstructure:"delay_ms" validate:"gte=0"`
	MaxRetries     int            `mapstructure:"max_retries" validate:"gte=0"`
	RecrawlMinutes int            `mapstructure:"recrawl_minutes" validate:"gte=0"`
	MaxBodyBytes   int            `mapstructure:"max_body_bytes" validate:"gte=0"`
	Selectors      SelectorConfig `mapstructure:"selectors"`
}

// SelectorConfig holds the CSS selectors used to extract vacancies.
type SelectorConfig struct {
	Vacancy        string `mapstructure:"vacancy"`
	Title          string `mapstructure:"title"`
	Employer       string `mapstructure:"employer"`
	EmploymentType string `mapstructure:"employment_type"`
	Location       string `mapstructure:"location"`
	Description    string `mapstructure:"description"`
	Skills         string `mapstructure:"skills"`
	Educations     string `mapstructure:"educations"`
	Locations      string `mapstructure:"locations"`
}

// WorkerConfig declares one crawl worker. Blacklist words are seeded into
// the record store for the worker before its filter is built.
type WorkerConfig struct {
	ID        string   `mapstructure:"id" validate:"required"`
	BaseURL   string   `mapstructure:"base_url" validate:"required,url"`
	Seeds     []string `mapstructure:"seeds" validate:"dive,url"`
	Blacklist []string `mapstructure:"blacklist" validate:"dive,required"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size" validate:"gte=0"`
	MaxBatchEvents int  `mapstructure:"max_batch_events" validate:"gte=0"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms" validate:"gte=0"`
	PersistHistory bool `mapstructure:"persist_history"`
}

// PubSubConfig holds metadata for vacancy change notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.badger.dir", "data/badger")
	v.SetDefault("crawler.user_agent", "jobhearted-crawler/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.queue_depth", 10000)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.recrawl_minutes", 0)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.persist_history", true)
	v.SetDefault("pubsub.topic_name", "vacancy-changes")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config keys.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces required values and reasonable limits. Field rules come
// from the validate struct tags; rules spanning several fields are checked
// after them.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]error, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, errors.New(describe(fe)))
		}
		return errors.Join(msgs...)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn must be set for the postgres backend")
		}
	case BackendBadger:
		if c.Store.Badger.Dir == "" && !c.Store.Badger.InMemory {
			return errors.New("store.badger.dir must be set unless store.badger.in_memory is true")
		}
	}
	seen := make(map[string]struct{}, len(c.Workers))
	for i, w := range c.Workers {
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("workers[%d].id %q is duplicated", i, w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " must be set"
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s %q must be one of %s", field, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s %q must be an absolute URL", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Worker returns the configuration for the worker with the given id.
func (c Config) Worker(id string) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}

// FetchTimeout returns the per-request timeout.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Delay returns the per-host politeness delay.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// RecrawlInterval returns how long a worker waits before revisiting vacancy
// pages. Zero disables recrawling.
func (c CrawlerConfig) RecrawlInterval() time.Duration {
	return time.Duration(c.RecrawlMinutes) * time.Minute
}

// MaxBatchWait returns the progress hub flush interval.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
