package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Tokens expire seven days after issuance.
const tokenTTL = 7 * 24 * time.Hour

// Config holds runtime configuration sourced from env vars, resolved once at
// process start and passed by reference into each service.
type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	DeepSeekAPIKey  string
	DeepSeekModel   string
	DeepSeekBaseURL string
	CORSOrigins     []string
	RedisAddr       string
	AnonRateLimit   int
	AnonRateWindow  time.Duration
}

// Load reads configuration from the environment and performs minimal
// validation. DATABASE_URL and REDIS_ADDR are optional: their absence selects
// the in-memory store and the in-memory rate limiter respectively.
func Load() (Config, error) {
	cfg := Config{
		Port:            fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TokenTTL:        tokenTTL,
		DeepSeekAPIKey:  strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")),
		DeepSeekModel:   fallback(os.Getenv("DEEPSEEK_MODEL"), "deepseek-chat"),
		DeepSeekBaseURL: fallback(os.Getenv("DEEPSEEK_BASE_URL"), "https://api.deepseek.com"),
		CORSOrigins:     parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		AnonRateLimit:   intFallback(os.Getenv("ANON_RATE_LIMIT"), 5),
	}

	windowSeconds := intFallback(os.Getenv("ANON_RATE_WINDOW_SECONDS"), 60)
	cfg.AnonRateWindow = time.Duration(windowSeconds) * time.Second

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func intFallback(value string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
		return n
	}
	return def
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
