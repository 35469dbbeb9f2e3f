package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

const envPrefix = "PHARMACY_"

type Config struct {
	Primary      Primary            `koanf:"primary"`
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Auth         AuthConfig         `koanf:"auth"`
	Redis        RedisConfig        `koanf:"redis"`
	RabbitMQ     RabbitMQConfig     `koanf:"rabbitmq"`
	Mongo        MongoConfig        `koanf:"mongo"`
	Minio        MinioConfig        `koanf:"minio"`
	Mpesa        MpesaConfig        `koanf:"mpesa"`
	Pesapal      PesapalConfig      `koanf:"pesapal"`
	PayPal       PayPalConfig       `koanf:"paypal"`
	Flutterwave  FlutterwaveConfig  `koanf:"flutterwave"`
	Notification NotificationConfig `koanf:"notification"`
	Retry        RetryConfig        `koanf:"retry"`
	Poll         PollConfig         `koanf:"poll"`
	Logger       LoggerConfig       `koanf:"logger"`
	Worker       WorkerConfig       `koanf:"worker"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port           string        `koanf:"port" validate:"required"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"required"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	// WebhookRateLimit is requests per second per remote IP on the webhook routes.
	WebhookRateLimit int `koanf:"webhook_rate_limit"`
	// PublicBaseURL is where gateways reach our callbacks, e.g. https://api.example.com
	PublicBaseURL string `koanf:"public_base_url" validate:"required,url"`
	// StorefrontURL is where customers land after a hosted checkout.
	StorefrontURL string `koanf:"storefront_url" validate:"required,url"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

// AuthConfig holds the shared secret the managed backend signs access tokens with.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	AdminRole string `koanf:"admin_role"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RabbitMQConfig struct {
	URL         string `koanf:"url" validate:"required"`
	Queue       string `koanf:"queue" validate:"required"`
	Prefetch    int    `koanf:"prefetch"`
	MaxAttempts int    `koanf:"max_attempts"`
}

type MongoConfig struct {
	URI        string `koanf:"uri" validate:"required"`
	Database   string `koanf:"database" validate:"required"`
	Collection string `koanf:"collection"`
}

type MinioConfig struct {
	Endpoint  string `koanf:"endpoint" validate:"required"`
	AccessKey string `koanf:"access_key" validate:"required"`
	SecretKey string `koanf:"secret_key" validate:"required"`
	Bucket    string `koanf:"bucket" validate:"required"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type MpesaConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	ConsumerKey    string        `koanf:"consumer_key" validate:"required"`
	ConsumerSecret string        `koanf:"consumer_secret" validate:"required"`
	ShortCode      string        `koanf:"short_code" validate:"required"`
	Passkey        string        `koanf:"passkey" validate:"required"`
	Timeout        time.Duration `koanf:"timeout" validate:"required"`
}

type PesapalConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	ConsumerKey    string        `koanf:"consumer_key" validate:"required"`
	ConsumerSecret string        `koanf:"consumer_secret" validate:"required"`
	IPNID          string        `koanf:"ipn_id" validate:"required"`
	Timeout        time.Duration `koanf:"timeout" validate:"required"`
}

type PayPalConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"required,url"`
	ClientID     string        `koanf:"client_id" validate:"required"`
	ClientSecret string        `koanf:"client_secret" validate:"required"`
	Timeout      time.Duration `koanf:"timeout" validate:"required"`
}

type FlutterwaveConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required,url"`
	SecretKey   string        `koanf:"secret_key" validate:"required"`
	WebhookHash string        `koanf:"webhook_hash" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"required"`
}

type NotificationConfig struct {
	SMTPHost     string `koanf:"smtp_host" validate:"required"`
	SMTPPort     int    `koanf:"smtp_port" validate:"required"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address" validate:"required,email"`
	SMSBaseURL   string `koanf:"sms_base_url"`
	SMSUsername  string `koanf:"sms_username"`
	SMSAPIKey    string `koanf:"sms_api_key"`
	SMSSenderID  string `koanf:"sms_sender_id"`
}

type RetryConfig struct {
	BaseDelay  int32 `koanf:"base_delay"`
	MaxRetries int32 `koanf:"max_retries"`
}

// PollConfig bounds the client-facing wait for a mobile money prompt.
type PollConfig struct {
	Attempts int           `koanf:"attempts"`
	Interval time.Duration `koanf:"interval"`
}

type LoggerConfig struct {
	Level string `koanf:"level"`
}

type WorkerConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"required"`
	BatchSize  int           `koanf:"batch_size" validate:"required"`
	StaleAfter time.Duration `koanf:"stale_after"`
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	mainConfig.applyDefaults()

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}

func (c *Config) applyDefaults() {
	if c.Poll.Attempts == 0 {
		c.Poll.Attempts = 60
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 2 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 1
	}
	if c.RabbitMQ.Prefetch == 0 {
		c.RabbitMQ.Prefetch = 10
	}
	if c.RabbitMQ.MaxAttempts == 0 {
		c.RabbitMQ.MaxAttempts = 5
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "callback_log"
	}
	if c.Auth.AdminRole == "" {
		c.Auth.AdminRole = "admin"
	}
	if c.Server.WebhookRateLimit == 0 {
		c.Server.WebhookRateLimit = 20
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 5 * time.Minute
	}
}
