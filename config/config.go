// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Programme holds the affiliate and trial constants.
type Programme struct {
	CommissionPence    int64
	MinimumPayoutPence int64
	TrialLength        time.Duration
	ClickDedupWindow   time.Duration
	VerificationTTL    time.Duration
	ReferralCookieTTL  time.Duration
}

type RateLimit struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
}

type Humanizer struct {
	BaseURL      string
	APIKey       string
	PollAttempts int
	PollInterval time.Duration
	Fallback     bool
}

type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type Config struct {
	Port        string
	GinMode     string
	AppURL      string
	CORSOrigins []string

	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool

	JWTSecret string
	JWTTTL    time.Duration
	// SecureCookies marks the auth cookie Secure; on in release mode.
	SecureCookies bool

	RedisURL string
	AMQPURL  string

	LogLevel string
	LogDev   bool

	TrialSweepInterval time.Duration

	Programme Programme
	RateLimit RateLimit
	SMTP      SMTP
	Stripe    Stripe
	Humanizer Humanizer
	VAPID     VAPID
}

// Load reads an optional .env file and then the process environment.
// JWT_SECRET and MONGODB_URI are required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        envStr("PORT", "8080"),
		GinMode:     envStr("GIN_MODE", "debug"),
		AppURL:      strings.TrimRight(envStr("APP_URL", "http://localhost:3000"), "/"),
		CORSOrigins: envList("CORS_ORIGINS", "http://localhost:3000"),

		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDatabase:     envStr("MONGODB_DATABASE", "genify"),
		MongoTransactions: envBool("MONGODB_TRANSACTIONS", true),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    envDur("JWT_TTL", 7*24*time.Hour),

		RedisURL: os.Getenv("REDIS_URL"),
		AMQPURL:  os.Getenv("AMQP_URL"),

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogDev:   envBool("LOG_DEV", false),

		TrialSweepInterval: envDur("TRIAL_SWEEP_INTERVAL", time.Hour),

		Programme: Programme{
			CommissionPence:    int64(envInt("AFFILIATE_COMMISSION_PENCE", 500)),
			MinimumPayoutPence: int64(envInt("AFFILIATE_MINIMUM_PAYOUT_PENCE", 2500)),
			TrialLength:        envDur("TRIAL_LENGTH", 7*24*time.Hour),
			ClickDedupWindow:   envDur("CLICK_DEDUP_WINDOW", 24*time.Hour),
			VerificationTTL:    envDur("VERIFICATION_TTL", 24*time.Hour),
			ReferralCookieTTL:  envDur("REFERRAL_COOKIE_TTL", 30*24*time.Hour),
		},
		RateLimit: RateLimit{
			Enabled:        envBool("RATE_LIMIT_ENABLED", true),
			Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
			RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
			RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
			TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
			Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		},
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     envStr("SMTP_FROM", "Genify <no-reply@genify.app>"),
		},
		Stripe: Stripe{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PriceID:       os.Getenv("STRIPE_PRICE_ID"),
		},
		Humanizer: Humanizer{
			BaseURL:      strings.TrimRight(envStr("HUMANIZER_API_URL", "https://api.undetectable.ai"), "/"),
			APIKey:       os.Getenv("HUMANIZER_API_KEY"),
			PollAttempts: envInt("HUMANIZER_POLL_ATTEMPTS", 15),
			PollInterval: envDur("HUMANIZER_POLL_INTERVAL", 2*time.Second),
			Fallback:     envBool("HUMANIZER_FALLBACK", false),
		},
		VAPID: VAPID{
			PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:    envStr("VAPID_SUBJECT", "mailto:support@genify.app"),
		},
	}
	cfg.SecureCookies = envBool("SECURE_COOKIES", cfg.GinMode == "release")

	if cfg.JWTSecret == "" || cfg.MongoURI == "" {
		return nil, errors.New("JWT_SECRET and MONGODB_URI must be set")
	}
	if cfg.Programme.MinimumPayoutPence <= 0 || cfg.Programme.CommissionPence <= 0 {
		return nil, errors.New("affiliate commission and minimum payout must be positive")
	}
	if cfg.RateLimit.Capacity < 1 {
		cfg.RateLimit.Capacity = 1
	}
	if cfg.RateLimit.RefillTokens < 1 {
		cfg.RateLimit.RefillTokens = 1
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if minTTL := 5 * cfg.RateLimit.RefillInterval; cfg.RateLimit.TTL < minTTL {
		cfg.RateLimit.TTL = minTTL
	}
	if cfg.Humanizer.PollAttempts < 1 {
		cfg.Humanizer.PollAttempts = 1
	}
	return cfg, nil
}

// Release reports whether gin runs in release mode.
func (c *Config) Release() bool { return c.GinMode == "release" }

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func envList(k, d string) []string {
	var out []string
	for _, p := range strings.Split(envStr(k, d), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
