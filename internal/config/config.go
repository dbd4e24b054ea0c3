// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Extract ExtractConfig `mapstructure:"extract"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server and stream delivery behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// KeepAliveSeconds is the SSE keep-alive comment interval.
	KeepAliveSeconds int `mapstructure:"keepalive_seconds"`
	// StreamBuffer is the per-subscriber live chunk buffer.
	StreamBuffer int `mapstructure:"stream_buffer"`
	// MaxUploadBytes caps manuscript upload size.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// UploadRPS throttles uploads per client; <= 0 disables the limit.
	UploadRPS float64 `mapstructure:"upload_rps"`
	// UploadBurst is the upload limiter bucket size.
	UploadBurst int `mapstructure:"upload_burst"`
}

// DBConfig controls access to Postgres. Empty DSN selects the in-memory
// chunk log and job store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinOpenConns int32  `mapstructure:"min_open_conns"`
}

// StorageConfig selects the manuscript blob store.
type StorageConfig struct {
	// Provider is one of memory, local, gcs.
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// QueueConfig selects the extraction job queue.
type QueueConfig struct {
	// Provider is one of memory, pubsub.
	Provider string `mapstructure:"provider"`
	Depth    int    `mapstructure:"depth"`
}

// ExtractConfig governs the extraction worker pool.
type ExtractConfig struct {
	Workers          int `mapstructure:"workers"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	MinMentions      int `mapstructure:"min_mentions"`
}

// PubSubConfig holds Google Cloud Pub/Sub wiring for the queue provider and
// completion notifications.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	QueueTopic      string `mapstructure:"queue_topic"`
	QueueSub        string `mapstructure:"queue_subscription"`
	CompletionTopic string `mapstructure:"completion_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOVELGRAPH")
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
	v.SetDefault("server.keepalive_seconds", 30)
	v.SetDefault("server.stream_buffer", 256)
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("server.upload_rps", 2)
	v.SetDefault("server.upload_burst", 5)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("extract.workers", 2)
	v.SetDefault("extract.heartbeat_seconds", 15)
	v.SetDefault("extract.min_mentions", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.KeepAliveSeconds <= 0 {
		return fmt.Errorf("server.keepalive_seconds must be > 0")
	}
	if c.Extract.Workers <= 0 {
		return fmt.Errorf("extract.workers must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.QueueTopic == "" || c.PubSub.QueueSub == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.queue_topic and pubsub.queue_subscription are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("unknown queue provider %q", c.Queue.Provider)
	}
	return nil
}

// KeepAlive returns the SSE keep-alive interval as a duration.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.Server.KeepAliveSeconds) * time.Second
}

// Heartbeat returns the pipeline heartbeat interval as a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.Extract.HeartbeatSeconds) * time.Second
}
