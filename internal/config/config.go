package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Provider string

	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiAPIVersion  string
	GeminiImageModel  string
	GeminiAspectRatio string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIImageModel string
	OpenAIImageSize  string

	TelegramToken string

	WebAddr string

	LogLevel string
	LogFile  string
	Debug    bool

	PreferIPv4 bool

	HTTPTimeout       time.Duration
	GenerateTimeout   time.Duration
	SessionTTL        time.Duration
	MaxUploadBytes    int64
	GenerateRateLimit int
	MaxConcurrent     int
	RequestTimeout    time.Duration
	AlbumDebounce     time.Duration

	PresetsFile string
}

func Load() (Config, error) {
	cfg := Config{
		Provider:          strings.ToLower(getEnv("IMAGE_PROVIDER", ProviderGemini)),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIVersion:  getEnv("GEMINI_API_VERSION", "v1beta"),
		GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiAspectRatio: getEnv("GEMINI_ASPECT_RATIO", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel:  getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		OpenAIImageSize:   getEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
		WebAddr:           getEnv("WEB_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:           getEnv("LOG_FILE", ""),
		Debug:             getEnvBool("DEBUG", false),
		PreferIPv4:        getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:       time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		GenerateTimeout:   time.Duration(getEnvInt("GENERATE_TIMEOUT_SECONDS", 180)) * time.Second,
		SessionTTL:        time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		GenerateRateLimit: getEnvInt("GENERATE_RATE_LIMIT", 10),
		MaxConcurrent:     getEnvInt("MAX_CONCURRENT", 4),
		RequestTimeout:    time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		AlbumDebounce:     time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		PresetsFile:       getEnv("PRESETS_FILE", ""),
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, errors.New("GEMINI_API_KEY is required")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, errors.New("OPENAI_API_KEY is required")
		}
	default:
		return Config{}, fmt.Errorf("IMAGE_PROVIDER %q is not supported", cfg.Provider)
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 180 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.GenerateRateLimit < 1 {
		cfg.GenerateRateLimit = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.AlbumDebounce <= 0 {
		cfg.AlbumDebounce = 1200 * time.Millisecond
	}

	return cfg, nil
}

// RequireTelegram reports a missing bot token for the chat front end.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
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
