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

	TimeZone string

	// Record store
	DatabasePath  string
	RetentionDays int

	// Archive storage (Azure Blob or local directory)
	StorageAccount   string
	StorageContainer string
	ArchiveDir       string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// AI scoring collaborator
	AIEndpoint          string
	AIModel             string
	AIAPIKey            string
	AITimeout           time.Duration
	ConfidenceThreshold float64

	// Bill feed
	BillFeedURL    string
	BillFeedAPIKey string

	// Task cadences
	SweepInterval         time.Duration
	SweepTimeout          time.Duration
	SweepWorkers          int
	AlertInterval         time.Duration
	HealthInterval        time.Duration
	CleanupInterval       time.Duration
	DailyDigestSchedule   string
	WeeklySummarySchedule string
	MaxTaskFailures       int

	// Deduplication
	DedupWindow    time.Duration
	DedupThreshold float64
	UniqueKeywords []string

	// Priority level cut points for Medium, High, Urgent
	PriorityThresholds []float64

	// Optional YAML file overriding keyword table, stage durations and priority weights
	TablesFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Debug:    getBoolEnv("DEBUG", false),
		TimeZone: getEnv("TIMEZONE", "UTC"),

		DatabasePath:  getEnv("DATABASE_PATH", "billwatch.db"),
		RetentionDays: getIntEnv("RETENTION_DAYS", 90),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "billwatch"),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "./archive"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		AIEndpoint:          getEnv("AI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		AIModel:             getEnv("AI_MODEL", "gpt-4o-mini"),
		AIAPIKey:            getEnv("AI_API_KEY", ""),
		AITimeout:           getDurationEnv("AI_TIMEOUT", 5*time.Second),
		ConfidenceThreshold: getFloatEnv("CONFIDENCE_THRESHOLD", 0.6),

		BillFeedURL:    getEnv("BILL_FEED_URL", ""),
		BillFeedAPIKey: getEnv("BILL_FEED_API_KEY", ""),

		SweepInterval:         getDurationEnv("SWEEP_INTERVAL", 4*time.Hour),
		SweepTimeout:          getDurationEnv("SWEEP_TIMEOUT", 30*time.Minute),
		SweepWorkers:          getIntEnv("SWEEP_WORKERS", 4),
		AlertInterval:         getDurationEnv("ALERT_INTERVAL", time.Hour),
		HealthInterval:        getDurationEnv("HEALTH_INTERVAL", 30*time.Minute),
		CleanupInterval:       getDurationEnv("CLEANUP_INTERVAL", 24*time.Hour),
		DailyDigestSchedule:   getEnv("DAILY_DIGEST_SCHEDULE", "0 0 8 * * *"),
		WeeklySummarySchedule: getEnv("WEEKLY_SUMMARY_SCHEDULE", "0 0 9 * * SUN"),
		MaxTaskFailures:       getIntEnv("MAX_TASK_FAILURES", 3),

		DedupWindow:    getDurationEnv("DEDUP_WINDOW", 24*time.Hour),
		DedupThreshold: getFloatEnv("DEDUP_THRESHOLD", 0.75),
		UniqueKeywords: getSliceEnv("UNIQUE_KEYWORDS", []string{
			"emergency", "urgent", "deadline", "immediate", "critical",
			"new rate", "payment change", "effective date", "implementation",
		}),

		PriorityThresholds: getFloatSliceEnv("PRIORITY_THRESHOLDS", []float64{0.35, 0.60, 0.80}),

		TablesFile: getEnv("TABLES_FILE", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// AIEnabled reports whether the AI scoring collaborator is configured
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != "" && c.AIEndpoint != ""
}

func (c *Config) validate() error {
	if c.TeamsWebhookURL == "" && c.NotificationEmail == "" {
		return fmt.Errorf("at least one notification method must be configured (TEAMS_WEBHOOK_URL or NOTIFICATION_EMAIL)")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1]")
	}

	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DEDUP_THRESHOLD must be within (0,1]")
	}

	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}

	if c.SweepWorkers < 1 {
		return fmt.Errorf("SWEEP_WORKERS must be at least 1")
	}

	if c.MaxTaskFailures < 1 {
		return fmt.Errorf("MAX_TASK_FAILURES must be at least 1")
	}

	if len(c.PriorityThresholds) != 3 {
		return fmt.Errorf("PRIORITY_THRESHOLDS must have exactly three values")
	}
	prev := 0.0
	for _, t := range c.PriorityThresholds {
		if t <= prev || t > 1 {
			return fmt.Errorf("PRIORITY_THRESHOLDS must be increasing within (0,1]")
		}
		prev = t
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.TimeZone, err)
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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

func getFloatSliceEnv(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	return out
}
