// Package config loads the ASH runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/ash/internal/google"
	"github.com/teemow/ash/internal/logging"
)

// Calendar providers.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr       string
	AllowedOrigins []string
	RequestTimeout time.Duration
	RateLimit      RateLimitConfig

	DBPath      string
	PersonaFile string
	Timezone    string
	Account     string

	Log       LogConfig
	Metrics   MetricsConfig
	OpenAI    OpenAIConfig
	Calendar  CalendarConfig
	Google    GoogleConfig
	CalDAV    CalDAVConfig
	Reminders ReminderConfig
}

// RateLimitConfig bounds requests per user on the HTTP API.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds configuration for the metrics server.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// OpenAIConfig configures the language model and the transcriber.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
}

// CalendarConfig selects the calendar backend.
type CalendarConfig struct {
	Provider   string
	CalendarID string
}

// GoogleConfig holds the OAuth client used for Google Calendar and Gmail.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	TokenDir     string
}

// CalDAVConfig configures the CalDAV backend.
type CalDAVConfig struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
}

// ReminderConfig configures the reminder sweeper.
type ReminderConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getEnv("ASH_HTTP_ADDR", ":8080"),
		AllowedOrigins: getEnvList("ASH_ALLOWED_ORIGINS", nil),
		RequestTimeout: getEnvDuration("ASH_REQUEST_TIMEOUT", 60*time.Second),
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("ASH_RATE_LIMIT_PER_MINUTE", 30),
			Burst:     getEnvInt("ASH_RATE_LIMIT_BURST", 10),
		},
		DBPath:      getEnv("ASH_DB_PATH", "./data/ash.db"),
		PersonaFile: getEnv("ASH_PERSONA_FILE", ""),
		Timezone:    getEnv("ASH_TIMEZONE", "Local"),
		Account:     getEnv("ASH_ACCOUNT", "default"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9090"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			Model:              getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			TranscriptionModel: getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		},
		Calendar: CalendarConfig{
			Provider:   strings.ToLower(getEnv("CALENDAR_PROVIDER", ProviderGoogle)),
			CalendarID: getEnv("GOOGLE_CALENDAR_ID", "primary"),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			TokenDir:     getEnv("ASH_TOKEN_DIR", google.DefaultTokenDir()),
		},
		CalDAV: CalDAVConfig{
			Endpoint:     getEnv("CALDAV_URL", ""),
			Username:     getEnv("CALDAV_USERNAME", ""),
			Password:     getEnv("CALDAV_PASSWORD", ""),
			CalendarName: getEnv("CALDAV_CALENDAR", ""),
		},
		Reminders: ReminderConfig{
			Enabled:  getEnvBool("ASH_REMINDERS_ENABLED", true),
			Interval: getEnvDuration("ASH_REMINDER_INTERVAL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("ASH_HTTP_ADDR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("ASH_DB_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("ASH_REQUEST_TIMEOUT must be > 0")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ASH_RATE_LIMIT_PER_MINUTE and ASH_RATE_LIMIT_BURST must be > 0")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Reminders.Interval <= 0 {
		return fmt.Errorf("ASH_REMINDER_INTERVAL must be > 0")
	}

	switch c.Calendar.Provider {
	case ProviderGoogle:
	case ProviderCalDAV:
		if c.CalDAV.Endpoint == "" {
			return fmt.Errorf("CALDAV_URL is required when CALENDAR_PROVIDER is caldav")
		}
	default:
		return fmt.Errorf("CALENDAR_PROVIDER must be %s or %s, got %q", ProviderGoogle, ProviderCalDAV, c.Calendar.Provider)
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ASH_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IsDevelopment reports whether no browser origin has been configured.
func (c *Config) IsDevelopment() bool {
	return len(c.AllowedOrigins) == 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
