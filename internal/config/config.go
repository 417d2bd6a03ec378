package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LedgerDriver         string        `env:"LEDGER_DRIVER" envDefault:"sqlite"`
	LedgerDSN            string        `env:"LEDGER_DSN" envDefault:"voicenote.sqlite"`
	LedgerConnectTimeout time.Duration `env:"LEDGER_CONNECT_TIMEOUT" envDefault:"30s"`

	MediaDir         string        `env:"MEDIA_DIR" envDefault:"./media"`
	WorkDir          string        `env:"WORK_DIR" envDefault:"./work"`
	WorkdirRetention time.Duration `env:"WORKDIR_RETENTION" envDefault:"1h"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"50"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	QuotaThresholdSeconds int      `env:"QUOTA_THRESHOLD_SECONDS" envDefault:"60"`
	QuotaCostPerSecond    float64  `env:"QUOTA_COST_PER_SECOND" envDefault:"0.0001"`
	PrivilegedUsers       []string `env:"PRIVILEGED_USERS"`
	AuthorVoiceUsers      []string `env:"AUTHOR_VOICE_USERS"`

	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"15m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	PipelineWorkers    int           `env:"PIPELINE_WORKERS" envDefault:"4"`
	PipelineQueueSize  int           `env:"PIPELINE_QUEUE_SIZE" envDefault:"64"`
	PipelineRunTimeout time.Duration `env:"PIPELINE_RUN_TIMEOUT" envDefault:"10m"`
	ChunkMaxLength     int           `env:"CHUNK_MAX_LENGTH" envDefault:"4096"`

	TranscribeProvider string        `env:"TRANSCRIBE_PROVIDER" envDefault:"openai"`
	TranscribeLanguage string        `env:"TRANSCRIBE_LANGUAGE"`
	TranscribeTimeout  time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"5m"`
	WhisperURL         string        `env:"WHISPER_URL"`
	WhisperModel       string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	RewriteProvider string `env:"REWRITE_PROVIDER" envDefault:"openai"`
	RewriteModel    string `env:"REWRITE_MODEL"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	S3   S3Config   `envPrefix:"S3_"`
	MQTT MQTTConfig `envPrefix:"MQTT_"`
}

// S3Config selects an S3-compatible media store. Empty Bucket means local disk.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// MQTTConfig enables the MQTT delivery sink when BrokerURL is set.
type MQTTConfig struct {
	BrokerURL   string `env:"BROKER_URL"`
	ClientID    string `env:"CLIENT_ID" envDefault:"voicenote"`
	TopicPrefix string `env:"TOPIC_PREFIX" envDefault:"voicenote"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
}

func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// IsPrivileged reports whether userID bypasses the quota.
func (c *Config) IsPrivileged(userID string) bool {
	return slices.Contains(c.PrivilegedUsers, userID)
}

// HasAuthorVoice reports whether userID holds the author-voice role.
func (c *Config) HasAuthorVoice(userID string) bool {
	return slices.Contains(c.AuthorVoiceUsers, userID)
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	LedgerDriver string
	LedgerDSN    string
	MediaDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
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

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.LedgerDriver != "" {
		cfg.LedgerDriver = overrides.LedgerDriver
	}
	if overrides.LedgerDSN != "" {
		cfg.LedgerDSN = overrides.LedgerDSN
	}
	if overrides.MediaDir != "" {
		cfg.MediaDir = overrides.MediaDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("LEDGER_DRIVER must be sqlite or postgres, got %q", c.LedgerDriver)
	}
	switch c.TranscribeProvider {
	case "openai":
	case "whisper":
		if c.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required when TRANSCRIBE_PROVIDER=whisper")
		}
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be openai or whisper, got %q", c.TranscribeProvider)
	}
	switch c.RewriteProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("REWRITE_PROVIDER must be openai or anthropic, got %q", c.RewriteProvider)
	}
	if c.QuotaThresholdSeconds < 0 || c.QuotaCostPerSecond < 0 {
		return fmt.Errorf("quota threshold and cost must not be negative")
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	if c.PipelineQueueSize < 1 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be at least 1")
	}
	return nil
}
