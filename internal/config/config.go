package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Platform API configuration
	PlatformBaseURL      string
	PlatformBearerToken  string
	PlatformAPIPlan      string // "free", "basic", "pro", "enterprise"
	PlatformRefreshURL   string
	PlatformRefreshToken string
	PlatformClientID     string

	// Storage configuration
	StoreBackend     string // "sqlite", "azure", "memory"
	SQLitePath       string
	StorageAccount   string
	StorageContainer string

	// Answer engine configuration
	AnswerEngine      string // "gemini" or "echo"
	GeminiAPIKey      string
	MaxReplyLength    int
	ThreadMaxMessages int

	// Pipeline configuration
	MaxBatchSize        int
	ResolverConcurrency int
	DryRun              bool
	ForceReply          bool
	EarlyExit           bool
	ResolveAllMentions  bool
	NoMentionsCache     bool
	SinceIDOverride     string
	DebugMessageIDs     []string
	ModeratorPrefix     string

	// Static lists
	IgnoreMessageIDs []string
	IgnoreUserIDs    []string
	PriorityUserIDs  []string

	// Retry loop configuration
	EmptyCycleBaseDelay time.Duration
	EmptyCycleMaxDelay  time.Duration
	RateLimitCooldown   time.Duration
	NetworkCooldown     time.Duration
	AuthRetryDelay      time.Duration
	ExceptionBaseDelay  time.Duration
	ExceptionMaxDelay   time.Duration

	// Notification configuration
	OperatorEmail    string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	DigestSchedule   string // cron expression for the daily digest
	AlertErrorStreak int    // consecutive failures before an operator alert
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		PlatformBaseURL:      getEnv("PLATFORM_BASE_URL", ""),
		PlatformBearerToken:  getEnv("PLATFORM_BEARER_TOKEN", ""),
		PlatformAPIPlan:      getEnv("PLATFORM_API_PLAN", "basic"),
		PlatformRefreshURL:   getEnv("PLATFORM_REFRESH_URL", ""),
		PlatformRefreshToken: getEnv("PLATFORM_REFRESH_TOKEN", ""),
		PlatformClientID:     getEnv("PLATFORM_CLIENT_ID", ""),

		StoreBackend:     getEnv("STORE_BACKEND", "sqlite"),
		SQLitePath:       getEnv("SQLITE_PATH", "data/mentionbot.db"),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentionbot"),

		AnswerEngine:      getEnv("ANSWER_ENGINE", "gemini"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		MaxReplyLength:    getIntEnv("MAX_REPLY_LENGTH", 280),
		ThreadMaxMessages: getIntEnv("THREAD_MAX_MESSAGES", 30),

		MaxBatchSize:        getIntEnv("MAX_BATCH_SIZE", 10),
		ResolverConcurrency: getIntEnv("RESOLVER_CONCURRENCY", 2),
		DryRun:              getBoolEnv("DRY_RUN", false),
		ForceReply:          getBoolEnv("FORCE_REPLY", false),
		EarlyExit:           getBoolEnv("EARLY_EXIT", false),
		ResolveAllMentions:  getBoolEnv("RESOLVE_ALL_MENTIONS", false),
		NoMentionsCache:     getBoolEnv("NO_MENTIONS_CACHE", false),
		SinceIDOverride:     getEnv("SINCE_MENTION_ID", ""),
		DebugMessageIDs:     getSliceEnv("DEBUG_MESSAGE_IDS", nil),
		ModeratorPrefix:     getEnv("MODERATOR_PREFIX", "(human) "),

		IgnoreMessageIDs: getSliceEnv("IGNORE_MESSAGE_IDS", nil),
		IgnoreUserIDs:    getSliceEnv("IGNORE_USER_IDS", nil),
		PriorityUserIDs:  getSliceEnv("PRIORITY_USER_IDS", nil),

		EmptyCycleBaseDelay: getDurationEnv("EMPTY_CYCLE_BASE_DELAY", 5*time.Second),
		EmptyCycleMaxDelay:  getDurationEnv("EMPTY_CYCLE_MAX_DELAY", 5*time.Minute),
		RateLimitCooldown:   getDurationEnv("RATE_LIMIT_COOLDOWN", 30*time.Second),
		NetworkCooldown:     getDurationEnv("NETWORK_COOLDOWN", 60*time.Second),
		AuthRetryDelay:      getDurationEnv("AUTH_RETRY_DELAY", 10*time.Second),
		ExceptionBaseDelay:  getDurationEnv("EXCEPTION_BASE_DELAY", 10*time.Second),
		ExceptionMaxDelay:   getDurationEnv("EXCEPTION_MAX_DELAY", 10*time.Minute),

		OperatorEmail:    getEnv("OPERATOR_EMAIL", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getIntEnv("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		DigestSchedule:   getEnv("DIGEST_SCHEDULE", "0 0 9 * * *"),
		AlertErrorStreak: getIntEnv("ALERT_ERROR_STREAK", 3),
	}

	return cfg, nil
}

// Validate checks required configuration. Called after command-line flag
// overrides are applied, since flags may change which settings are required.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "sqlite", "azure", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be 'sqlite', 'azure' or 'memory'")
	}

	if c.StoreBackend == "azure" && c.StorageAccount == "" {
		return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when STORE_BACKEND is 'azure'")
	}

	switch c.AnswerEngine {
	case "gemini", "echo":
	default:
		return fmt.Errorf("ANSWER_ENGINE must be 'gemini' or 'echo'")
	}

	if c.AnswerEngine == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when ANSWER_ENGINE is 'gemini'")
	}

	if c.OperatorEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when OPERATOR_EMAIL is set")
		}
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}

	if c.ResolverConcurrency <= 0 {
		return fmt.Errorf("RESOLVER_CONCURRENCY must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
