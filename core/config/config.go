package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// WebAppURL is attached to the /start keyboard when set.
	WebAppURL string `yaml:"webapp_url" envconfig:"WEBAPP_URL"`
	// Support is the contact mentioned in failure notifications.
	Support string `yaml:"support" envconfig:"TELEGRAM_SUPPORT"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// MaxSizeMB, MaxBackups and MaxAgeDays control file rotation.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// ExchangerConfig configures the PremiumExchanger API client.
type ExchangerConfig struct {
	BaseURL  string `yaml:"base_url" envconfig:"EXCHANGER_BASE_URL"`
	Login    string `yaml:"login" envconfig:"EXCHANGER_API_LOGIN"`
	Key      string `yaml:"key" envconfig:"EXCHANGER_API_KEY"`
	Lang     string `yaml:"lang" envconfig:"EXCHANGER_API_LANG"`
	// PartnerID is attached to created bids for referral accounting.
	PartnerID string `yaml:"partner_id" envconfig:"EXCHANGER_PARTNER_ID"`
	// CallbackURL receives status webhooks from the exchanger when set.
	CallbackURL          string  `yaml:"callback_url" envconfig:"EXCHANGER_CALLBACK_URL"`
	TimeoutSeconds       int     `yaml:"timeout_seconds"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"`
	Burst                int     `yaml:"burst"`
	DirectionsTTLSeconds int     `yaml:"directions_ttl_seconds"`
}

// SessionConfig tunes the exchange session engine.
type SessionConfig struct {
	DebounceMS           int    `yaml:"debounce_ms"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	PaymentWindowSeconds int    `yaml:"payment_window_seconds"`
	DefaultGive          string `yaml:"default_give"`
	DefaultGet           string `yaml:"default_get"`
	// IdleTTLMinutes drops sessions of users who stopped interacting.
	IdleTTLMinutes int `yaml:"idle_ttl_minutes"`
}

// FieldKindConfig maps a field kind to label keywords.
type FieldKindConfig struct {
	Kind     string   `yaml:"kind"`
	Keywords []string `yaml:"keywords"`
}

// FieldsConfig overrides label classification. Rules are evaluated in order.
type FieldsConfig struct {
	Kinds []FieldKindConfig `yaml:"kinds"`
}

// OrderStatusConfig overrides status title keywords.
type OrderStatusConfig struct {
	Waiting []string `yaml:"waiting"`
	Settled []string `yaml:"settled"`
	Failed  []string `yaml:"failed"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// Defaults applied by Normalize.
const (
	DefaultBaseURL              = "https://sapsanex.cc/api/userapi/v1/"
	DefaultTimeoutSeconds       = 30
	DefaultRequestsPerSecond    = 5
	DefaultBurst                = 5
	DefaultDirectionsTTLSeconds = 300
	DefaultDebounceMS           = 500
	DefaultPollIntervalSeconds  = 10
	DefaultPaymentWindowSeconds = 1800
	DefaultGive                 = "USDT TRC20"
	DefaultGet                  = "Сбербанк RUB"
	DefaultIdleTTLMinutes       = 120
	DefaultMigrationsDir        = "migrations"
)

// RateLimitConfig holds settings for per-user update rate limiting.
// IntervalMS is the refill interval of a token bucket holding Burst tokens.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the application configuration.
type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Logging     LoggingConfig     `yaml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Database    DatabaseConfig    `yaml:"database"`
	Exchanger   ExchangerConfig   `yaml:"exchanger"`
	Session     SessionConfig     `yaml:"session"`
	Fields      FieldsConfig      `yaml:"fields"`
	OrderStatus OrderStatusConfig `yaml:"order_status"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
// Telegram settings are only checked when the token is present so that CLI commands
// talking to the exchanger alone can share the file.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if err := normalizeTelegram(cfg); err != nil {
		return err
	}
	if err := normalizeExchanger(&cfg.Exchanger); err != nil {
		return err
	}
	normalizeSession(&cfg.Session)
	if err := normalizeFields(&cfg.Fields); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Database.MigrationsDir) == "" {
		cfg.Database.MigrationsDir = DefaultMigrationsDir
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	return nil
}

// RequireTelegram reports an error when the bot token is missing.
func RequireTelegram(cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	return nil
}

func normalizeExchanger(ex *ExchangerConfig) error {
	ex.BaseURL = strings.TrimSpace(ex.BaseURL)
	if ex.BaseURL == "" {
		ex.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(ex.BaseURL, "http://") && !strings.HasPrefix(ex.BaseURL, "https://") {
		return fmt.Errorf("exchanger.base_url must be an http(s) URL, got %q", ex.BaseURL)
	}
	if !strings.HasSuffix(ex.BaseURL, "/") {
		ex.BaseURL += "/"
	}
	if ex.TimeoutSeconds <= 0 {
		ex.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if ex.RequestsPerSecond < 0 {
		return fmt.Errorf("exchanger.requests_per_second must be >= 0")
	}
	if ex.RequestsPerSecond == 0 {
		ex.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if ex.Burst <= 0 {
		ex.Burst = DefaultBurst
	}
	if ex.DirectionsTTLSeconds <= 0 {
		ex.DirectionsTTLSeconds = DefaultDirectionsTTLSeconds
	}
	return nil
}

func normalizeSession(s *SessionConfig) {
	if s.DebounceMS <= 0 {
		s.DebounceMS = DefaultDebounceMS
	}
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if s.PaymentWindowSeconds <= 0 {
		s.PaymentWindowSeconds = DefaultPaymentWindowSeconds
	}
	if strings.TrimSpace(s.DefaultGive) == "" {
		s.DefaultGive = DefaultGive
	}
	if strings.TrimSpace(s.DefaultGet) == "" {
		s.DefaultGet = DefaultGet
	}
	if s.IdleTTLMinutes <= 0 {
		s.IdleTTLMinutes = DefaultIdleTTLMinutes
	}
}

var allowedKinds = map[string]struct{}{
	"name":     {},
	"email":    {},
	"telegram": {},
	"phone":    {},
	"account":  {},
}

func normalizeFields(f *FieldsConfig) error {
	for i, k := range f.Kinds {
		kind := strings.ToLower(strings.TrimSpace(k.Kind))
		if _, ok := allowedKinds[kind]; !ok {
			return fmt.Errorf("invalid fields.kinds[%d].kind %q; allowed: name, email, telegram, phone, account", i, k.Kind)
		}
		if len(k.Keywords) == 0 {
			return fmt.Errorf("fields.kinds[%d] (%s) has no keywords", i, kind)
		}
		f.Kinds[i].Kind = kind
	}
	return nil
}
