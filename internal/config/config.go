package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`

	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Workers    WorkersConfig    `yaml:"workers"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Limits     LimitsConfig     `yaml:"limits"`
}

type WhatsAppConfig struct {
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
	APIBase       string `yaml:"api_base"`
	APIVersion    string `yaml:"api_version"`
}

type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	AssistantID string `yaml:"assistant_id"`
	BaseURL     string `yaml:"base_url"`

	PollInterval    time.Duration `yaml:"-"`
	PollMaxInterval time.Duration `yaml:"-"`
	RunTimeout      time.Duration `yaml:"-"`

	PollIntervalRaw    string `yaml:"poll_interval"`
	PollMaxIntervalRaw string `yaml:"poll_max_interval"`
	RunTimeoutRaw      string `yaml:"run_timeout"`
}

// TranscriptConfig selects the chat directory and an optional SQL mirror.
// DatabaseURL wins over SQLitePath when both are set.
type TranscriptConfig struct {
	Directory   string `yaml:"directory"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type WorkersConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

type HTTPConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecretsConfig points at an AWS SSM parameter prefix holding the tokens.
type SecretsConfig struct {
	ParamPrefix string `yaml:"param_prefix"`
}

// LimitsConfig is recognized and reported, never enforced.
type LimitsConfig struct {
	MaxChatHistory     int  `yaml:"max_chat_history"`
	ThreadTimeout      int  `yaml:"thread_timeout"`
	MaxActiveThreads   int  `yaml:"max_active_threads"`
	RateLimitEnabled   bool `yaml:"rate_limit_enabled"`
	RateLimitMessages  int  `yaml:"rate_limit_messages"`
	RateLimitWindowSec int  `yaml:"rate_limit_window"`
}

func Default() Config {
	return Config{
		Port: "5000",
		WhatsApp: WhatsAppConfig{
			APIBase:    "https://graph.facebook.com",
			APIVersion: "v18.0",
		},
		OpenAI: OpenAIConfig{
			PollIntervalRaw:    "1s",
			PollMaxIntervalRaw: "8s",
			RunTimeoutRaw:      "60s",
		},
		Transcript: TranscriptConfig{Directory: "chats"},
		Workers: WorkersConfig{
			Count:              8,
			QueueSize:          64,
			ShutdownTimeoutRaw: "30s",
		},
		HTTP:    HTTPConfig{AllowedOrigins: []string{"*"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Limits: LimitsConfig{
			MaxChatHistory:     1000,
			ThreadTimeout:      3600,
			MaxActiveThreads:   100,
			RateLimitEnabled:   true,
			RateLimitMessages:  10,
			RateLimitWindowSec: 60,
		},
	}
}

// Load layers defaults, an optional YAML file and the environment (highest
// priority). A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setBool(&cfg.Debug, "FLASK_DEBUG")
	setBool(&cfg.Debug, "DEBUG")

	setString(&cfg.WhatsApp.Token, "WHATSAPP_TOKEN")
	setString(&cfg.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	setString(&cfg.WhatsApp.VerifyToken, "VERIFY_TOKEN")
	setString(&cfg.WhatsApp.APIBase, "WHATSAPP_API_BASE")
	setString(&cfg.WhatsApp.APIVersion, "WHATSAPP_API_VERSION")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.AssistantID, "OPENAI_ASSISTANT_ID")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.PollIntervalRaw, "RUN_POLL_INTERVAL")
	setString(&cfg.OpenAI.PollMaxIntervalRaw, "RUN_POLL_MAX_INTERVAL")
	setString(&cfg.OpenAI.RunTimeoutRaw, "RUN_TIMEOUT")

	setString(&cfg.Transcript.Directory, "CHAT_DIRECTORY")
	setString(&cfg.Transcript.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Transcript.SQLitePath, "SQLITE_PATH")

	setInt(&cfg.Workers.Count, "WORKER_COUNT")
	setInt(&cfg.Workers.QueueSize, "WORKER_QUEUE_SIZE")
	setString(&cfg.Workers.ShutdownTimeoutRaw, "SHUTDOWN_TIMEOUT")

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.HTTP.AllowedOrigins = origins
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Secrets.ParamPrefix, "PARAM_PREFIX")

	setInt(&cfg.Limits.MaxChatHistory, "MAX_CHAT_HISTORY")
	setInt(&cfg.Limits.ThreadTimeout, "THREAD_TIMEOUT")
	setInt(&cfg.Limits.MaxActiveThreads, "MAX_ACTIVE_THREADS")
	setBool(&cfg.Limits.RateLimitEnabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.Limits.RateLimitMessages, "RATE_LIMIT_MESSAGES")
	setInt(&cfg.Limits.RateLimitWindowSec, "RATE_LIMIT_WINDOW")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	*dst = v == "1" || strings.EqualFold(v, "true")
}

// setInt ignores values that do not parse.
func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", cfg.OpenAI.PollIntervalRaw, &cfg.OpenAI.PollInterval},
		{"poll_max_interval", cfg.OpenAI.PollMaxIntervalRaw, &cfg.OpenAI.PollMaxInterval},
		{"run_timeout", cfg.OpenAI.RunTimeoutRaw, &cfg.OpenAI.RunTimeout},
		{"shutdown_timeout", cfg.Workers.ShutdownTimeoutRaw, &cfg.Workers.ShutdownTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks structural settings only. Missing credentials are reported
// by Issues and never stop the process.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Transcript.Directory == "" {
		return errors.New("transcript.directory is required")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers.queue_size must not be negative, got %d", c.Workers.QueueSize)
	}
	if c.OpenAI.PollInterval <= 0 {
		return errors.New("openai.poll_interval must be positive")
	}
	if c.OpenAI.PollMaxInterval < c.OpenAI.PollInterval {
		return errors.New("openai.poll_max_interval must not be below poll_interval")
	}
	if c.OpenAI.RunTimeout <= 0 {
		return errors.New("openai.run_timeout must be positive")
	}
	if c.Workers.ShutdownTimeout <= 0 {
		return errors.New("workers.shutdown_timeout must be positive")
	}
	return nil
}

// AIEnabled reports whether the assistant backend has the credentials it needs.
func (c *Config) AIEnabled() bool {
	return c.OpenAI.APIKey != "" && c.OpenAI.AssistantID != ""
}

type Issue struct {
	Key    string
	Reason string
}

// Issues lists required settings that are missing or still hold a placeholder.
func (c *Config) Issues() []Issue {
	required := []struct {
		key string
		val string
	}{
		{"WHATSAPP_TOKEN", c.WhatsApp.Token},
		{"WHATSAPP_PHONE_NUMBER_ID", c.WhatsApp.PhoneNumberID},
		{"VERIFY_TOKEN", c.WhatsApp.VerifyToken},
		{"OPENAI_API_KEY", c.OpenAI.APIKey},
		{"OPENAI_ASSISTANT_ID", c.OpenAI.AssistantID},
	}

	var out []Issue
	for _, r := range required {
		switch {
		case r.val == "":
			out = append(out, Issue{Key: r.key, Reason: "not set"})
		case strings.HasPrefix(r.val, "your_"):
			out = append(out, Issue{Key: r.key, Reason: "placeholder value"})
		}
	}
	return out
}
