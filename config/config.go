package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP listen address, e.g. ":8083"
	Address   string `env:"ADDRESS" envDefault:":8083"`
	Env       string `env:"ENV" envDefault:"local"`
	SentryDSN string `env:"SENTRY_DSN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`

	DB        DBConfig
	Broker    BrokerConfig
	RateLimit RateLimitConfig
	Upstream  UpstreamConfig
	Quota     QuotaConfig
	Uploads   UploadConfig
	Handles   HandleConfig
	Stripe    StripeConfig
	R2        R2Config
	Telegram  TelegramConfig
	Identity  IdentityConfig
	Tasks     TaskConfig

	// admin tokens for /admin
	JWTSecret string `env:"JWT_SECRET"`
}

type DBConfig struct {
	Username string `env:"DB_USERNAME"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME"`
	// postgres | firestore | memory
	UsageStore string `env:"USAGE_STORE" envDefault:"postgres"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", d.Username, d.Password, d.Host, d.Port, d.Name)
}

type BrokerConfig struct {
	// asynq redis
	Address string `env:"ASYNC_BROKER_ADDRESS"`
}

type RateLimitConfig struct {
	// empty falls back to the in-memory limiter
	RedisAddr string  `env:"REDIS_ADDR"`
	Capacity  int     `env:"RATE_LIMIT_CAPACITY" envDefault:"20"`
	FillRate  float64 `env:"RATE_LIMIT_FILL_RATE" envDefault:"3"`
}

type UpstreamConfig struct {
	AnalysisProvider string `env:"ANALYSIS_PROVIDER" envDefault:"openai"`
	RenderProvider   string `env:"RENDER_PROVIDER" envDefault:"openai"`

	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL"`
	OpenAIAnalysisModel string `env:"OPENAI_ANALYSIS_MODEL" envDefault:"gpt-4-turbo"`
	OpenAIImageModel    string `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`

	GoogleAPIKey        string `env:"GOOGLE_API_KEY"`
	GeminiAnalysisModel string `env:"GEMINI_ANALYSIS_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiImageModel    string `env:"GEMINI_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image-preview"`

	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"90s"`

	// sequential | concurrent
	RenderMode        string `env:"RENDER_MODE" envDefault:"sequential"`
	RenderConcurrency int    `env:"RENDER_CONCURRENCY" envDefault:"3"`
	StrictSchema      bool   `env:"STRICT_OUTFIT_SCHEMA" envDefault:"false"`
}

type QuotaConfig struct {
	ResetConsumesUnit bool `env:"RESET_CONSUMES_UNIT" envDefault:"false"`
}

type UploadConfig struct {
	Validate          bool  `env:"UPLOAD_VALIDATION" envDefault:"false"`
	MaxFileBytes      int64 `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	MaxFiles          int   `env:"MAX_UPLOAD_FILES" envDefault:"10"`
	Normalize         bool  `env:"NORMALIZE_UPLOADS" envDefault:"false"`
	MaxImageDimension int   `env:"MAX_IMAGE_DIMENSION" envDefault:"2048"`
}

type HandleConfig struct {
	Secret  string        `env:"ANALYSIS_HANDLE_SECRET"`
	TTL     time.Duration `env:"ANALYSIS_HANDLE_TTL" envDefault:"24h"`
	Require bool          `env:"REQUIRE_ANALYSIS_HANDLE" envDefault:"false"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string `env:"STRIPE_CURRENCY" envDefault:"usd"`
}

type R2Config struct {
	AccountID       string `env:"R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	BucketName      string `env:"R2_BUCKET_NAME"`
}

type TelegramConfig struct {
	Token       string `env:"TG_TOKEN"`
	AdminChatID int64  `env:"TG_ADMIN_CHAT_ID"`
	// comma separated usernames allowed to talk to the bot
	Admins string `env:"TG_ADMINS"`
	RunBot bool   `env:"TELEGRAM_BOT" envDefault:"false"`
}

type IdentityConfig struct {
	// firebase | google
	Provider       string `env:"IDENTITY_PROVIDER" envDefault:"firebase"`
	GoogleClientID string `env:"GOOGLE_CLIENT_ID"`
}

type TaskConfig struct {
	PurgeCron         string        `env:"PURGE_ANALYSES_CRON" envDefault:"0 3 * * *"`
	AnalysisRetention time.Duration `env:"ANALYSIS_RETENTION" envDefault:"720h"`
	Concurrency       int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
}

// Load loads .env (if present) and parses environment variables into Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
