package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ASH_TOKEN_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "./data/ash.db", cfg.DBPath)
	assert.Equal(t, ProviderGoogle, cfg.Calendar.Provider)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "whisper-1", cfg.OpenAI.TranscriptionModel)
	assert.Equal(t, time.Minute, cfg.Reminders.Interval)
	assert.True(t, cfg.Reminders.Enabled)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ASH_TOKEN_DIR", "/tmp/tokens")
	t.Setenv("ASH_HTTP_ADDR", ":9999")
	t.Setenv("ASH_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ASH_TIMEZONE", "Europe/Berlin")
	t.Setenv("ASH_REMINDERS_ENABLED", "off")
	t.Setenv("ASH_REMINDER_INTERVAL", "30s")
	t.Setenv("ASH_RATE_LIMIT_PER_MINUTE", "not-a-number")
	t.Setenv("CALENDAR_PROVIDER", "CalDAV")
	t.Setenv("CALDAV_URL", "https://dav.example.com/")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
	assert.False(t, cfg.Reminders.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Reminders.Interval)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
	assert.Equal(t, ProviderCalDAV, cfg.Calendar.Provider)
	assert.Equal(t, "/tmp/tokens", cfg.Google.TokenDir)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPAddr:       ":8080",
			DBPath:         "ash.db",
			RequestTimeout: time.Second,
			RateLimit:      RateLimitConfig{PerMinute: 1, Burst: 1},
			Timezone:       "UTC",
			Log:            LogConfig{Level: "info", Format: "text"},
			Calendar:       CalendarConfig{Provider: ProviderGoogle},
			Reminders:      ReminderConfig{Interval: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.HTTPAddr = "" }, wantErr: "ASH_HTTP_ADDR"},
		{name: "empty db", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "ASH_DB_PATH"},
		{name: "zero timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, wantErr: "ASH_REQUEST_TIMEOUT"},
		{name: "zero rate", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, wantErr: "ASH_RATE_LIMIT"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "loud"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "ASH_TIMEZONE"},
		{name: "bad interval", mutate: func(c *Config) { c.Reminders.Interval = 0 }, wantErr: "ASH_REMINDER_INTERVAL"},
		{name: "bad provider", mutate: func(c *Config) { c.Calendar.Provider = "outlook" }, wantErr: "CALENDAR_PROVIDER"},
		{name: "caldav without url", mutate: func(c *Config) { c.Calendar.Provider = ProviderCalDAV }, wantErr: "CALDAV_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
