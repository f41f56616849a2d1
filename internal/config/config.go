package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per minute per client on mutating routes; 0 disables.
	RateLimit int `yaml:"rate_limit"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RetryClass struct {
	Attempts    int           `yaml:"attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

type QueueConfig struct {
	Backend      string        `yaml:"backend"` // redis|memory
	Prefix       string        `yaml:"prefix"`
	Concurrency  int           `yaml:"concurrency"`
	PollWait     time.Duration `yaml:"poll_wait"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	StallTimeout time.Duration `yaml:"stall_timeout"`

	Text  RetryClass `yaml:"text"`
	Media RetryClass `yaml:"media"`
	Video RetryClass `yaml:"video"`

	CompletedAge   time.Duration `yaml:"completed_age"`
	CompletedCount int           `yaml:"completed_count"`
	FailedAge      time.Duration `yaml:"failed_age"`
	FailedCount    int           `yaml:"failed_count"`
}

type AIConfig struct {
	Provider         string `yaml:"provider"` // openai|gemini
	OpenAIKey        string `yaml:"openai_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	GeminiKey        string `yaml:"gemini_key"`
	TextModel        string `yaml:"text_model"`
	TranscribeModel  string `yaml:"transcribe_model"`
	MaxArticleTokens int    `yaml:"max_article_tokens"`
	ConcurrentLimit  int    `yaml:"concurrent_limit"` // max concurrent AI calls
}

type SpeechConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	ModelID         string `yaml:"model_id"`
	DefaultVoiceID  string `yaml:"default_voice_id"`
	GuestVoiceID    string `yaml:"guest_voice_id"`
	ConcurrentLimit int    `yaml:"concurrent_limit"`
}

type AvatarConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	CallbackURL   string `yaml:"callback_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type CaptionsConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	CallbackURL   string `yaml:"callback_url"`
	Template      string `yaml:"template"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type StorageConfig struct {
	Dir           string        `yaml:"dir"`
	PublicBaseURL string        `yaml:"public_base_url"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type PostProcessConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	WorkDir    string `yaml:"work_dir"`
	MusicGain  string `yaml:"music_gain"`
}

type MonitorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
	// VideoThreshold overrides Threshold for video renders.
	VideoThreshold time.Duration `yaml:"video_threshold"`
	BatchSize      int           `yaml:"batch_size"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type AlertsConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Queue       QueueConfig       `yaml:"queue"`
	AI          AIConfig          `yaml:"ai"`
	Speech      SpeechConfig      `yaml:"speech"`
	Avatar      AvatarConfig      `yaml:"avatar"`
	Captions    CaptionsConfig    `yaml:"captions"`
	Storage     StorageConfig     `yaml:"storage"`
	PostProcess PostProcessConfig `yaml:"postprocess"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Auth        AuthConfig        `yaml:"auth"`
	Alerts      AlertsConfig      `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load reads path, expanding ${VAR} references from the environment after
// loading an optional .env file next to the working directory.
func Load(path string, dev bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(b))), dev)
}

// Parse decodes yaml, applies defaults and validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	c.HTTP.ReadTimeout = orDuration(c.HTTP.ReadTimeout, 15*time.Second)
	c.HTTP.WriteTimeout = orDuration(c.HTTP.WriteTimeout, 30*time.Second)
	c.HTTP.RequestTimeout = orDuration(c.HTTP.RequestTimeout, 20*time.Second)
	c.HTTP.ShutdownTimeout = orDuration(c.HTTP.ShutdownTimeout, 15*time.Second)

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = "redis"
	}
	c.Queue.Backend = strings.ToLower(c.Queue.Backend)
	if c.Queue.Prefix == "" {
		c.Queue.Prefix = "pipeline"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	c.Queue.PollWait = orDuration(c.Queue.PollWait, 5*time.Second)
	c.Queue.JobTimeout = orDuration(c.Queue.JobTimeout, 15*time.Minute)
	c.Queue.StallTimeout = orDuration(c.Queue.StallTimeout, c.Queue.JobTimeout+time.Minute)
	c.Queue.Text = orClass(c.Queue.Text, RetryClass{Attempts: 3, BackoffBase: 2 * time.Second, BackoffMax: time.Minute})
	c.Queue.Media = orClass(c.Queue.Media, RetryClass{Attempts: 3, BackoffBase: 5 * time.Second, BackoffMax: 2 * time.Minute})
	c.Queue.Video = orClass(c.Queue.Video, RetryClass{Attempts: 3, BackoffBase: 10 * time.Second, BackoffMax: 5 * time.Minute})
	c.Queue.CompletedAge = orDuration(c.Queue.CompletedAge, 24*time.Hour)
	if c.Queue.CompletedCount <= 0 {
		c.Queue.CompletedCount = 1000
	}
	c.Queue.FailedAge = orDuration(c.Queue.FailedAge, 7*24*time.Hour)
	if c.Queue.FailedCount <= 0 {
		c.Queue.FailedCount = 5000
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.TextModel == "" {
		c.AI.TextModel = "gpt-4o-mini"
	}
	if c.AI.TranscribeModel == "" {
		c.AI.TranscribeModel = "whisper-1"
	}
	if c.AI.MaxArticleTokens <= 0 {
		c.AI.MaxArticleTokens = 6000
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 4
	}

	if c.Speech.BaseURL == "" {
		c.Speech.BaseURL = "https://api.elevenlabs.io"
	}
	if c.Speech.ModelID == "" {
		c.Speech.ModelID = "eleven_multilingual_v2"
	}
	if c.Speech.ConcurrentLimit <= 0 {
		c.Speech.ConcurrentLimit = 2
	}
	if c.Avatar.BaseURL == "" {
		c.Avatar.BaseURL = "https://api.heygen.com"
	}
	if c.Captions.BaseURL == "" {
		c.Captions.BaseURL = "https://api.submagic.co"
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/media"
	}
	c.Storage.FetchTimeout = orDuration(c.Storage.FetchTimeout, 5*time.Minute)
	if c.PostProcess.FFmpegPath == "" {
		c.PostProcess.FFmpegPath = "ffmpeg"
	}
	if c.PostProcess.WorkDir == "" {
		c.PostProcess.WorkDir = os.TempDir()
	}
	if c.PostProcess.MusicGain == "" {
		c.PostProcess.MusicGain = "0.15"
	}

	c.Monitor.Interval = orDuration(c.Monitor.Interval, 30*time.Minute)
	c.Monitor.Threshold = orDuration(c.Monitor.Threshold, 30*time.Minute)
	if c.Monitor.BatchSize <= 0 {
		c.Monitor.BatchSize = 200
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "media-pipeline"
	}
}

// Minimal validation
func (c *Config) validate() error {
	if c.Database.URL == "" && !c.Runtime.Dev {
		return errors.New("database.url is required")
	}
	switch c.Queue.Backend {
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis queue backend")
		}
	case "memory":
	default:
		return fmt.Errorf("queue.backend must be redis or memory, got %q", c.Queue.Backend)
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIKey == "" && !c.Runtime.Dev {
			return errors.New("ai.openai_key is required")
		}
	case "gemini":
		if c.AI.GeminiKey == "" && !c.Runtime.Dev {
			return errors.New("ai.gemini_key is required")
		}
	default:
		return fmt.Errorf("ai.provider must be openai or gemini, got %q", c.AI.Provider)
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orClass(c, def RetryClass) RetryClass {
	if c.Attempts <= 0 {
		c.Attempts = def.Attempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	return c
}
