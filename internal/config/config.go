// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	HTTPPort string
	LogLevel string

	// Detector sidecar
	DetectorBaseURL string
	DetectorTimeout time.Duration

	// Persistence
	PostgresDSN   string
	ClickHouseDSN string
	AuthCacheTTL  time.Duration

	// Evaluator defaults (per-course overrides can replace these)
	PollIntervalSeconds  float64
	SensitivityThreshold float32
	WarnSeconds          float64
	AlertSeconds         float64
	CooldownSeconds      float64
	MaxTabSwitches       int
	GraceSeconds         float64

	// Email alerts
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	EmailSender   string
	FallbackInbox string

	// WhatsApp alerts via Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioWhatsFrom  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() Config {
	_ = godotenv.Load() // missing .env is fine

	return Config{
		HTTPPort: envOrDefault("SENTINEL_HTTP_PORT", "8080"),
		LogLevel: envOrDefault("SENTINEL_LOG_LEVEL", "info"),

		DetectorBaseURL: envOrDefault("DETECTOR_BASE_URL", "http://localhost:5000"),
		DetectorTimeout: time.Duration(envOrDefaultInt("DETECTOR_TIMEOUT_MS", 5000)) * time.Millisecond,

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
		AuthCacheTTL:  time.Duration(envOrDefaultInt("SENTINEL_AUTH_CACHE_TTL_S", 30)) * time.Second,

		PollIntervalSeconds:  envOrDefaultFloat64("SENTINEL_POLL_INTERVAL_S", 2),
		SensitivityThreshold: envOrDefaultFloat("SENTINEL_SENSITIVITY_THRESHOLD", 0.6),
		WarnSeconds:          envOrDefaultFloat64("SENTINEL_WARN_S", 3),
		AlertSeconds:         envOrDefaultFloat64("SENTINEL_ALERT_S", 5),
		CooldownSeconds:      envOrDefaultFloat64("SENTINEL_COOLDOWN_S", 4),
		MaxTabSwitches:       envOrDefaultInt("SENTINEL_MAX_TAB_SWITCHES", 3),
		GraceSeconds:         envOrDefaultFloat64("SENTINEL_GRACE_S", 5),

		SMTPHost:      envOrDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:      envOrDefaultInt("SMTP_PORT", 587),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		EmailSender:   os.Getenv("ALERT_EMAIL_SENDER"),
		FallbackInbox: os.Getenv("ALERT_FALLBACK_INBOX"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsFrom:  os.Getenv("TWILIO_WHATSAPP_FROM"),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return defaultVal
}

func envOrDefaultFloat64(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
