package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GeminiAPIKey string
	RegistryURL  string

	TelegramToken string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	DataDir        string
	WebAddr        string
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration

	GeminiBaseURL    string
	GeminiAPIVersion string

	SyncInterval   time.Duration
	ThumbnailDelay time.Duration
	QuotaCooldown  time.Duration
	MaxConcurrent  int
}

// Load reads configuration from the environment. needTelegram is set by the
// bot entrypoint; the web server runs without a token.
func Load(needTelegram bool) (Config, error) {
	cfg := Config{
		LogLevel:         strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:            getEnvBool("DEBUG", false),
		PreferIPv4:       getEnvBool("PREFER_IPV4", true),
		DataDir:          strings.TrimSpace(getEnv("DATA_DIR", "./data")),
		WebAddr:          strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 180)) * time.Second,
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		GeminiBaseURL:    strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion: strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		SyncInterval:     time.Duration(getEnvInt("WALLET_SYNC_SECONDS", 60)) * time.Second,
		ThumbnailDelay:   time.Duration(getEnvInt("THUMBNAIL_DELAY_MS", 2500)) * time.Millisecond,
		QuotaCooldown:    time.Duration(getEnvInt("QUOTA_COOLDOWN_SECONDS", 15)) * time.Second,
		MaxConcurrent:    getEnvInt("MAX_CONCURRENT", 4),
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.RegistryURL = strings.TrimSpace(os.Getenv("REGISTRY_URL"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	switch {
	case cfg.GeminiAPIKey == "":
		return Config{}, errors.New("GEMINI_API_KEY is required")
	case cfg.RegistryURL == "":
		return Config{}, errors.New("REGISTRY_URL is required")
	case needTelegram && cfg.TelegramToken == "":
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 60 * time.Second
	}
	if cfg.ThumbnailDelay <= 0 {
		cfg.ThumbnailDelay = 2500 * time.Millisecond
	}
	if cfg.QuotaCooldown <= 0 {
		cfg.QuotaCooldown = 15 * time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
