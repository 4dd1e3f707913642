// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию сервиса платежей.
type Config struct {
	App          AppConfig
	HTTP         HTTPConfig
	MySQL        MySQLConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	JWT          JWTConfig
	Jaeger       JaegerConfig
	Metrics      MetricsConfig
	Stripe       StripeConfig
	Scheduler    SchedulerConfig
	Dispatch     DispatchConfig
	PaymentLinks PaymentLinksConfig
	RateLimit    RateLimitConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"payment-reconciler"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	Version   string `env:"APP_VERSION" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	// PublicURL используется для построения ссылок на оплату.
	PublicURL string `env:"APP_PUBLIC_URL" envDefault:"http://localhost:3000"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"payments"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"false"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки Kafka.
// Пустой список брокеров отключает outbox relay и асинхронные побочные эффекты.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"payment-side-effects"`
}

// Enabled возвращает true, если указан хотя бы один брокер.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != ""
}

// JWTConfig содержит настройки проверки admin токенов (RS256).
// Сервис только валидирует токены, выдаёт их внешний back-office.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"back-office"`
	AdminRole     string `env:"JWT_ADMIN_ROLE" envDefault:"admin"`
}

// JaegerConfig содержит настройки трассировки.
type JaegerConfig struct {
	Enabled     bool    `env:"JAEGER_ENABLED" envDefault:"true"`
	Host        string  `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort    int     `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес metrics сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StripeConfig содержит учётные данные платёжного процессора.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string `env:"STRIPE_CURRENCY" envDefault:"eur"`
	// AllowUnsignedWebhooks разрешает принимать события без подписи.
	// Только для локальной разработки: в production Validate() вернёт ошибку.
	AllowUnsignedWebhooks bool          `env:"STRIPE_ALLOW_UNSIGNED_WEBHOOKS" envDefault:"false"`
	Timeout               time.Duration `env:"STRIPE_TIMEOUT" envDefault:"20s"`
}

// Configured возвращает true, если задан реальный секретный ключ.
func (c StripeConfig) Configured() bool {
	return c.SecretKey != "" && !strings.Contains(c.SecretKey, "YOUR_SECRET_KEY")
}

// SchedulerConfig содержит настройки списаний по рассрочке.
type SchedulerConfig struct {
	Enabled     bool          `env:"INSTALLMENTS_SCHEDULER_ENABLED" envDefault:"false"`
	Interval    time.Duration `env:"INSTALLMENTS_INTERVAL" envDefault:"24h"`
	BatchSize   int           `env:"INSTALLMENTS_BATCH_SIZE" envDefault:"100"`
	Concurrency int           `env:"INSTALLMENTS_CONCURRENCY" envDefault:"4"`
	LockTTL     time.Duration `env:"INSTALLMENTS_LOCK_TTL" envDefault:"10m"`
}

// Режимы запуска побочных эффектов.
const (
	DispatchModeInline = "inline"
	DispatchModeAsync  = "async"
)

// DispatchConfig определяет, где выполняются побочные эффекты после оплаты.
// inline - в том же запросе, async - через Kafka consumer событий payments.events.
type DispatchConfig struct {
	Mode string `env:"DISPATCH_MODE" envDefault:"inline"`
}

// PaymentLinksConfig содержит настройки ссылок на оплату.
type PaymentLinksConfig struct {
	DefaultTTL      time.Duration `env:"PAYMENT_LINK_TTL" envDefault:"720h"`
	CleanupInterval time.Duration `env:"PAYMENT_LINK_CLEANUP_INTERVAL" envDefault:"1h"`
	// DocumentsURL - базовый адрес хранилища PDF счетов.
	DocumentsURL string `env:"INVOICE_DOCUMENTS_URL"`
}

// RateLimitConfig содержит настройки rate limiting публичных эндпоинтов.
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Ошибки валидации конфигурации.
var (
	ErrUnsignedWebhooksInProduction = errors.New("STRIPE_ALLOW_UNSIGNED_WEBHOOKS запрещён в production")
	ErrWebhookSecretMissing         = errors.New("STRIPE_WEBHOOK_SECRET не задан")
	ErrUnknownDispatchMode          = errors.New("неизвестный DISPATCH_MODE")
)

// Load загружает конфигурацию из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
// Обход подписи вебхуков недостижим в production-инстансе.
func (c *Config) Validate() error {
	if c.Stripe.AllowUnsignedWebhooks && c.IsProduction() {
		return ErrUnsignedWebhooksInProduction
	}
	if c.IsProduction() && c.Stripe.WebhookSecret == "" {
		return ErrWebhookSecretMissing
	}
	switch c.Dispatch.Mode {
	case DispatchModeInline, DispatchModeAsync:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDispatchMode, c.Dispatch.Mode)
	}
	return nil
}

// IsDevelopment возвращает true в development окружении.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UnsignedWebhooksAllowed возвращает true, только если обход подписи включён
// явно и окружение не production.
func (c *Config) UnsignedWebhooksAllowed() bool {
	return c.Stripe.AllowUnsignedWebhooks && !c.IsProduction()
}
