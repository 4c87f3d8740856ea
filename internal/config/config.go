package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// VNPayConfig holds credentials for the VNPay gateway.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// MoMoConfig holds credentials for the MoMo wallet gateway.
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
}

// StripeConfig holds credentials for the card processor.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	PublicBaseURL      string
	ResultPageURL      string

	LogFormat     string
	LogLevel      string
	OTLPEndpoint  string
	TraceSampling float64

	VNPay  VNPayConfig
	MoMo   MoMoConfig
	Stripe StripeConfig

	CredentialEncKey      string
	CredentialPasswordLen int
	CredentialDomain      string

	WebhookReplayTTL    time.Duration
	WebhookRateMax      int
	WebhookRatePeriod   time.Duration
	DeliveryGracePeriod time.Duration
	IntentTTL           time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PublicBaseURL:      strings.TrimSpace(k.String("PUBLIC_BASE_URL")),
		ResultPageURL:      valueOrDefault(k.String("RESULT_PAGE_URL"), "/payment/result"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		OTLPEndpoint:       strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TraceSampling:      floatOrDefault(k.Float64("OTEL_TRACES_SAMPLER_RATIO"), 0.1),
		VNPay: VNPayConfig{
			TmnCode:    k.String("VNPAY_TMN_CODE"),
			HashSecret: k.String("VNPAY_HASH_SECRET"),
			PayURL:     valueOrDefault(k.String("VNPAY_PAY_URL"), "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:  k.String("VNPAY_RETURN_URL"),
		},
		MoMo: MoMoConfig{
			PartnerCode: k.String("MOMO_PARTNER_CODE"),
			AccessKey:   k.String("MOMO_ACCESS_KEY"),
			SecretKey:   k.String("MOMO_SECRET_KEY"),
			Endpoint:    valueOrDefault(k.String("MOMO_ENDPOINT"), "https://test-payment.momo.vn"),
		},
		Stripe: StripeConfig{
			SecretKey:     k.String("STRIPE_SECRET_KEY"),
			WebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		},
		CredentialEncKey:      k.String("CREDENTIAL_ENC_KEY"),
		CredentialPasswordLen: intOrDefault(k.Int("CREDENTIAL_PASSWORD_LEN"), 16),
		CredentialDomain:      valueOrDefault(k.String("CREDENTIAL_DOMAIN"), "premium.shoptk.vn"),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookRateMax:        intOrDefault(k.Int("WEBHOOK_RATE_MAX"), 120),
		WebhookRatePeriod:     parseDuration(k.String("WEBHOOK_RATE_PERIOD"), "1m"),
		DeliveryGracePeriod:   parseDuration(k.String("DELIVERY_GRACE_PERIOD"), "10m"),
		IntentTTL:             parseDuration(k.String("INTENT_TTL"), "15m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.CredentialEncKey == "" {
		return nil, errors.New("CREDENTIAL_ENC_KEY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(environ map[string]string) (*Config, error) {
	original := make(map[string]string, len(environ))
	for key := range environ {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, environ[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
