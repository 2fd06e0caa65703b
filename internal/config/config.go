package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperLanguage string        `env:"WHISPER_LANGUAGE" envDefault:"en"`
	WhisperTimeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`

	ChunkSeconds    float64 `env:"CHUNK_SECONDS" envDefault:"300"`
	MaxUploadBytes  int64   `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	MinutesPerChunk int     `env:"MINUTES_PER_CHUNK" envDefault:"5"`
	TempDir         string  `env:"TEMP_DIR"`
	FFmpegPath      string  `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath     string  `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`

	UploadDir        string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	UploadLimitBytes int64  `env:"UPLOAD_LIMIT_BYTES" envDefault:"1073741824"`
	TranscriptDir    string `env:"TRANSCRIPT_DIR" envDefault:"./transcripts"`
	QueueSize        int    `env:"QUEUE_SIZE" envDefault:"16"`

	InboxDir string `env:"INBOX_DIR"`

	// InboxRetryInterval is how often inbox files the queue turned away are offered again.
	InboxRetryInterval time.Duration `env:"INBOX_RETRY_INTERVAL" envDefault:"15s"`

	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"4"`
	DatabaseMinConns int32  `env:"DATABASE_MIN_CONNS" envDefault:"0"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"audioscribe"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"audioscribe"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	S3 S3Config

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config holds optional S3-compatible object storage settings for transcripts.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether transcripts should go to S3 instead of the local dir.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	TempDir     string
	InboxDir    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ChunkSeconds <= 0 {
		return fmt.Errorf("CHUNK_SECONDS must be > 0, got %v", c.ChunkSeconds)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0, got %d", c.MaxUploadBytes)
	}
	if c.MinutesPerChunk < 0 {
		return fmt.Errorf("MINUTES_PER_CHUNK must be >= 0, got %d", c.MinutesPerChunk)
	}
	if c.DatabaseMaxConns < 1 || c.DatabaseMinConns < 0 || c.DatabaseMinConns > c.DatabaseMaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS/DATABASE_MAX_CONNS must satisfy 0 <= min <= max, max >= 1, got %d/%d",
			c.DatabaseMinConns, c.DatabaseMaxConns)
	}
	if c.InboxRetryInterval <= 0 {
		return fmt.Errorf("INBOX_RETRY_INTERVAL must be > 0, got %v", c.InboxRetryInterval)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be >= 1, got %d", c.QueueSize)
	}
	return nil
}
