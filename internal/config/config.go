package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Supported key-value backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Config holds the configuration for the application.
type Config struct {
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string

	// Storage
	KVBackend     string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSBucket    string

	// Nutrition lookup
	NutritionAPIURL  string
	NutritionAppID   string
	NutritionAppKey  string
	NutrientCacheTTL time.Duration

	// HTTP API
	Port         string
	JWTSecret    string
	PollInterval time.Duration

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
}

// LoadDotEnv loads variables from a .env file if one exists. Variables that
// are already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	provider := strings.ToLower(envOrDefault("LLM_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderGroq {
		return nil, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderGroq, provider)
	}

	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if provider == ProviderGemini && geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	groqAPIKey := os.Getenv("GROQ_API_KEY")
	if provider == ProviderGroq && groqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
	}

	backend := strings.ToLower(envOrDefault("KV_BACKEND", BackendSQLite))
	switch backend {
	case BackendSQLite, BackendRedis, BackendNATS, BackendMemory:
	default:
		return nil, fmt.Errorf("KV_BACKEND %q is not supported", backend)
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
		}
		redisDB = n
	}

	cacheTTL, err := durationFromEnv("NUTRIENT_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	pollInterval, err := durationFromEnv("POLL_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, err
	}

	// Telegram Config (Optional for CLI, required for Bot)
	allowed, err := parseUserIDs(os.Getenv("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		LLMProvider:            provider,
		GeminiAPIKey:           geminiAPIKey,
		GeminiModel:            envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GroqAPIKey:             groqAPIKey,
		GroqModel:              envOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		KVBackend:              backend,
		DatabasePath:           envOrDefault("DATABASE_PATH", "data/diet-planner.db"),
		RedisAddr:              envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		NATSURL:                envOrDefault("NATS_URL", "nats://localhost:4222"),
		NATSBucket:             envOrDefault("NATS_BUCKET", "DIET_PLANNER"),
		NutritionAPIURL:        envOrDefault("NUTRITION_API_URL", "https://trackapi.nutritionix.com/v2/natural/nutrients"),
		NutritionAppID:         os.Getenv("NUTRITION_APP_ID"),
		NutritionAppKey:        os.Getenv("NUTRITION_APP_KEY"),
		NutrientCacheTTL:       cacheTTL,
		Port:                   envOrDefault("PORT", "8080"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		PollInterval:           pollInterval,
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:     os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramAllowedUserIDs: allowed,
	}, nil
}

// IsTelegramUserAllowed reports whether the user may talk to the bot. An
// empty allow-list admits nobody.
func (c *Config) IsTelegramUserAllowed(id int64) bool {
	for _, allowed := range c.TelegramAllowedUserIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
