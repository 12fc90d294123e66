package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Addr          string `koanf:"api_addr"`
	DatabaseURL   string `koanf:"database_url"`
	MigrationsDir string `koanf:"migrations_dir"`
	CORSOrigin    string `koanf:"cors_origin"`
	AppURL        string `koanf:"app_url"`
	LogLevel      string `koanf:"log_level"`
	LogFormat     string `koanf:"log_format"`

	DBMaxConns    int           `koanf:"db_max_conns"`
	DBMaxIdle     int           `koanf:"db_max_idle_conns"`
	DBMaxLifetime time.Duration `koanf:"db_conn_max_lifetime"`

	TokenSecret string        `koanf:"token_secret"`
	AccessTTL   time.Duration `koanf:"access_ttl"`
	RefreshTTL  time.Duration `koanf:"refresh_ttl"`

	RedisURL       string `koanf:"redis_url"`
	MeiliURL       string `koanf:"meili_url"`
	MeiliMasterKey string `koanf:"meili_master_key"`

	HistoryDir string `koanf:"history_dir"`

	ProjectKeyPrefix   string `koanf:"project_key_prefix"`
	ProjectKeyAttempts int    `koanf:"project_key_attempts"`
	StreakTimezone     string `koanf:"streak_timezone"`

	AIAPIKey            string        `koanf:"ai_api_key"`
	AIBaseURL           string        `koanf:"ai_base_url"`
	AIModel             string        `koanf:"ai_model"`
	AITimeout           time.Duration `koanf:"ai_timeout"`
	AIMaxTasks          int           `koanf:"ai_max_tasks"`
	AIRequestsPerMinute int           `koanf:"ai_requests_per_minute"`
	AIMaxRetries        int           `koanf:"ai_max_retries"`

	TelegramBotToken      string `koanf:"telegram_bot_token"`
	TelegramWebhookSecret string `koanf:"telegram_webhook_secret"`
	TelegramAPIURL        string `koanf:"telegram_api_url"`

	S3Endpoint  string        `koanf:"s3_endpoint"`
	S3AccessKey string        `koanf:"s3_access_key"`
	S3SecretKey string        `koanf:"s3_secret_key"`
	S3Bucket    string        `koanf:"s3_bucket"`
	S3UseSSL    bool          `koanf:"s3_use_ssl"`
	S3URLTTL    time.Duration `koanf:"s3_url_ttl"`

	ChromePath string `koanf:"chrome_path"`

	// SMTP is disabled when SMTPHost is empty.
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     string `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from"`
	SMTPFromName string `koanf:"smtp_from_name"`
}

// Load reads the embedded defaults and overrides them with environment
// variables. API_ADDR maps to api_addr, AI_MODEL to ai_model and so on.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}

	known := make(map[string]struct{}, len(k.Keys()))
	for _, key := range k.Keys() {
		known[key] = struct{}{}
	}
	// Only keys present in the defaults are read so PATH and friends never
	// reach the config tree.
	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		key := strings.ToLower(name)
		if _, ok := known[key]; !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load config environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("api_addr is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, errors.New("token_secret is required"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("access_ttl and refresh_ttl must be positive"))
	}
	if c.ProjectKeyAttempts < 1 {
		errs = append(errs, errors.New("project_key_attempts must be at least 1"))
	}
	if _, err := time.LoadLocation(c.StreakTimezone); err != nil {
		errs = append(errs, fmt.Errorf("streak_timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StreakLocation returns the zone used to compare activity days. Validate has
// already rejected unknown zones.
func (c Config) StreakLocation() *time.Location {
	loc, err := time.LoadLocation(c.StreakTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) AIEnabled() bool {
	return strings.TrimSpace(c.AIAPIKey) != ""
}

func (c Config) TelegramEnabled() bool {
	return strings.TrimSpace(c.TelegramBotToken) != ""
}

func (c Config) S3Enabled() bool {
	return strings.TrimSpace(c.S3Endpoint) != ""
}

func (c Config) SMTPConfigured() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}
