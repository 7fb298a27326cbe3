package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	Store             StoreConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Auth              AuthConfig
	NOWPayments       NOWPaymentsConfig
	Checkout          CheckoutConfig
	Orders            OrdersConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName   string
	APIKey        string
	PublicBaseURL string
}

type ServerConfig struct {
	Host string
	Port string
}

// StoreConfig holds two connection strings. DSN is used by the checkout path
// acting on behalf of a user, ElevatedDSN by the webhook and batch jobs.
type StoreConfig struct {
	Driver          string
	DSN             string
	ElevatedDSN     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
	JWTIssuer   string
}

type NOWPaymentsConfig struct {
	APIURL      string
	APIKey      string
	IPNSecret   string
	HTTPTimeout time.Duration
}

type CheckoutConfig struct {
	MaxTotal       decimal.Decimal
	RateLimitRPS   float64
	RateLimitBurst int
}

type OrdersConfig struct {
	PendingTimeout          time.Duration
	ActivationWebhookURL    string
	ActivationMaxAttempts   int32
	ActivationRetryInterval time.Duration
	ActivationHTTPTimeout   time.Duration
	JobBatchSize            int32
}

type JobsConfig struct {
	ExpirePendingInterval      time.Duration
	ActivationDispatchInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("ORDERS_DB_DSN")
	if dsn == "" {
		return nil, errors.New("ORDERS_DB_DSN environment variable is required")
	}

	driver := strings.ToLower(getEnv("ORDERS_DB_DRIVER", DriverMySQL))
	switch driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("ORDERS_DB_DRIVER %q is not supported", driver)
	}

	maxTotal, err := getDecimalEnv("CHECKOUT_MAX_TOTAL", decimal.NewFromInt(100000))
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName:   getEnv("APP_SERVICE_NAME", "checkout-service"),
			APIKey:        getEnv("APP_API_KEY", ""),
			PublicBaseURL: strings.TrimRight(getEnv("APP_PUBLIC_BASE_URL", ""), "/"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Store: StoreConfig{
			Driver:          driver,
			DSN:             dsn,
			ElevatedDSN:     getEnv("ORDERS_DB_ELEVATED_DSN", dsn),
			MaxOpenConns:    getIntEnv("ORDERS_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("ORDERS_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("ORDERS_DB_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
			JWTAudience: getEnv("AUTH_JWT_AUDIENCE", ""),
			JWTIssuer:   getEnv("AUTH_JWT_ISSUER", ""),
		},
		NOWPayments: NOWPaymentsConfig{
			APIURL:      strings.TrimRight(getEnv("NOWPAYMENTS_API_URL", "https://api.nowpayments.io"), "/"),
			APIKey:      getEnv("NOWPAYMENTS_API_KEY", ""),
			IPNSecret:   getEnv("NOWPAYMENTS_IPN_SECRET", ""),
			HTTPTimeout: getSecondsEnv("NOWPAYMENTS_HTTP_TIMEOUT_SECONDS", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			MaxTotal:       maxTotal,
			RateLimitRPS:   getFloatEnv("CHECKOUT_RATE_LIMIT_RPS", 2),
			RateLimitBurst: getIntEnv("CHECKOUT_RATE_LIMIT_BURST", 5),
		},
		Orders: OrdersConfig{
			PendingTimeout:          getMinutesEnv("ORDERS_PENDING_TIMEOUT_MINUTES", 24*60*time.Minute),
			ActivationWebhookURL:    getEnv("ACTIVATION_WEBHOOK_URL", ""),
			ActivationMaxAttempts:   int32(getIntEnv("ACTIVATION_MAX_ATTEMPTS", 10)),
			ActivationRetryInterval: getMinutesEnv("ACTIVATION_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			ActivationHTTPTimeout:   getSecondsEnv("ACTIVATION_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			JobBatchSize:            int32(getIntEnv("JOBS_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ExpirePendingInterval:      getMinutesEnv("JOBS_EXPIRE_PENDING_INTERVAL_MINUTES", 15*time.Minute),
			ActivationDispatchInterval: getMinutesEnv("JOBS_ACTIVATION_DISPATCH_INTERVAL_MINUTES", time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number: %w", key, err)
	}
	return d, nil
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
