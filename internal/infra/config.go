package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"

	JobPublisherAMQP    = "amqp"
	JobPublisherWebhook = "webhook"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	ServiceName string
	LogLevel    string
	Port        string
	APIPrefix   string

	StoreDriver string
	DatabaseURL string
	DBMaxConns  int
	SQLitePath  string

	JWTSecret       string
	CallbackSecret  string
	CallbackBaseURL string

	CreditServiceURL       string
	NotificationServiceURL string
	ExternalCallTimeout    time.Duration
	ExternalCallRetries    int

	JobPublisher       string
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQRoutingKey string
	JobWebhookURL      string
	JobWebhookSecret   string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	CostSample       float64
	CostRegeneration float64
	CostFinal        float64
	CostFinalHighRes float64
	FreeSampleTiers  []string

	RefundOnSystemFailure        bool
	DetailedCallbackErrorLogging bool
	TracingEnabled               bool

	RecoveryStallAfter   time.Duration
	RecoveryPollInterval time.Duration
	RecoveryBatchSize    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	prefix := "/" + strings.Trim(getEnv("API_PREFIX", "/api/v1"), "/")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		ServiceName: getEnv("SERVICE_NAME", "aigen-orchestrator"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Port:        port,
		APIPrefix:   prefix,

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		SQLitePath:  getEnv("SQLITE_PATH", "orchestrator.db"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		CallbackSecret:  os.Getenv("CALLBACK_SECRET"),
		CallbackBaseURL: strings.TrimRight(getEnv("CALLBACK_BASE_URL", "http://localhost:"+port+prefix), "/"),

		CreditServiceURL:       os.Getenv("CREDIT_SERVICE_URL"),
		NotificationServiceURL: os.Getenv("NOTIFICATION_SERVICE_URL"),
		ExternalCallTimeout:    time.Second * time.Duration(getEnvInt("EXTERNAL_CALL_TIMEOUT_SECONDS", 10)),
		ExternalCallRetries:    getEnvInt("EXTERNAL_CALL_RETRIES", 2),

		JobPublisher:       strings.ToLower(getEnv("JOB_PUBLISHER", JobPublisherAMQP)),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange:   getEnv("RABBITMQ_EXCHANGE", "generation_jobs_exchange"),
		RabbitMQRoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "n8n.job.generation"),
		JobWebhookURL:      os.Getenv("JOB_WEBHOOK_URL"),
		JobWebhookSecret:   os.Getenv("JOB_WEBHOOK_SECRET"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", nil),

		CostSample:       getEnvFloat("CREDITS_COST_SAMPLE", 0.25),
		CostRegeneration: getEnvFloat("CREDITS_COST_REGENERATION", 0.25),
		CostFinal:        getEnvFloat("CREDITS_COST_FINAL", 1.0),
		CostFinalHighRes: getEnvFloat("CREDITS_COST_FINAL_HIGH_RES", 2.0),
		FreeSampleTiers:  getEnvList("FREE_SAMPLE_TIERS", []string{"team", "enterprise"}),

		RefundOnSystemFailure:        getEnvBool("REFUND_ON_SYSTEM_FAILURE", true),
		DetailedCallbackErrorLogging: getEnvBool("DETAILED_CALLBACK_ERROR_LOGGING", true),
		TracingEnabled:               getEnvBool("TRACING_ENABLED", false),

		RecoveryStallAfter:   time.Minute * time.Duration(getEnvInt("RECOVERY_STALL_MINUTES", 15)),
		RecoveryPollInterval: time.Second * time.Duration(getEnvInt("RECOVERY_POLL_SECONDS", 30)),
		RecoveryBatchSize:    getEnvInt("RECOVERY_BATCH_SIZE", 50),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings and their combinations.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret, validation.Required.Error("JWT_SECRET is required")),
		validation.Field(&c.StoreDriver, validation.In(StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory)),
		validation.Field(&c.DatabaseURL, validation.When(c.StoreDriver == StoreDriverPostgres, validation.Required.Error("DATABASE_URL is required"))),
		validation.Field(&c.DBMaxConns, validation.Min(1)),
		validation.Field(&c.SQLitePath, validation.When(c.StoreDriver == StoreDriverSQLite, validation.Required)),
		validation.Field(&c.CallbackBaseURL, validation.Required, is.URL),
		validation.Field(&c.CreditServiceURL, validation.Required.Error("CREDIT_SERVICE_URL is required"), is.URL),
		validation.Field(&c.NotificationServiceURL, is.URL),
		validation.Field(&c.JobPublisher, validation.In(JobPublisherAMQP, JobPublisherWebhook)),
		validation.Field(&c.RabbitMQURL, validation.When(c.JobPublisher == JobPublisherAMQP, validation.Required.Error("RABBITMQ_URL is required"))),
		validation.Field(&c.RabbitMQExchange, validation.When(c.JobPublisher == JobPublisherAMQP, validation.Required)),
		validation.Field(&c.JobWebhookURL, validation.When(c.JobPublisher == JobPublisherWebhook, validation.Required.Error("JOB_WEBHOOK_URL is required"), is.URL)),
		validation.Field(&c.ExternalCallTimeout, validation.Min(time.Second)),
		validation.Field(&c.ExternalCallRetries, validation.Min(0)),
		validation.Field(&c.CostSample, validation.Min(0.0)),
		validation.Field(&c.CostRegeneration, validation.Min(0.0)),
		validation.Field(&c.CostFinal, validation.Min(0.0)),
		validation.Field(&c.CostFinalHighRes, validation.Min(0.0)),
		validation.Field(&c.RecoveryStallAfter, validation.Min(time.Minute)),
		validation.Field(&c.RecoveryPollInterval, validation.Min(time.Second)),
		validation.Field(&c.RecoveryBatchSize, validation.Min(1)),
	)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
