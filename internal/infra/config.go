package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	DBMaxConns int32
	DBMinConns int32

	AllowedOrigins []string

	InferenceAPIToken      string
	InferenceBaseURL       string
	InferenceTrainModel    string
	InferenceImageModel    string
	WebhookBaseURL         string
	InferenceWebhookSecret string
	PreviewPollInterval    time.Duration
	PreviewPollAttempts    int

	RazorpayKeyID       string
	RazorpayKeySecret   string
	StripeSecretKey     string
	StripeWebhookSecret string
	FrontendURL         string

	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Endpoint  string
	S3Bucket    string

	ImageGenCredits   int64
	TrainModelCredits int64
	RefundOnFailure   bool

	WebhookProcessTimeout time.Duration
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
	RateLimitPerMin       int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		DBMaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		DBMinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),

		AllowedOrigins: []string{getEnv("FRONTEND_URL", "http://localhost:3000")},

		InferenceAPIToken:      os.Getenv("INFERENCE_API_TOKEN"),
		InferenceBaseURL:       getEnv("INFERENCE_BASE_URL", "https://api.replicate.com/v1"),
		InferenceTrainModel:    getEnv("INFERENCE_TRAIN_MODEL", "ostris/flux-dev-lora-trainer"),
		InferenceImageModel:    getEnv("INFERENCE_IMAGE_MODEL", "black-forest-labs/flux-1.1-pro-ultra"),
		WebhookBaseURL:         os.Getenv("WEBHOOK_BASE_URL"),
		InferenceWebhookSecret: os.Getenv("INFERENCE_WEBHOOK_SECRET"),
		PreviewPollInterval:    time.Second * time.Duration(getEnvInt("PREVIEW_POLL_INTERVAL_SECONDS", 1)),
		PreviewPollAttempts:    getEnvInt("PREVIEW_POLL_ATTEMPTS", 120),

		RazorpayKeyID:       os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:   os.Getenv("RAZORPAY_KEY_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),

		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Region:    getEnv("S3_REGION", "ap-south-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Bucket:    os.Getenv("S3_BUCKET"),

		ImageGenCredits:   int64(getEnvInt("IMAGE_GEN_CREDITS", 1)),
		TrainModelCredits: int64(getEnvInt("TRAIN_MODEL_CREDITS", 20)),
		RefundOnFailure:   getEnvBool("REFUND_ON_FAILURE", false),

		WebhookProcessTimeout: time.Second * time.Duration(getEnvInt("WEBHOOK_PROCESS_TIMEOUT_SECONDS", 300)),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:       getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
