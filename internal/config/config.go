package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration for the campaign dispatch
// engine, loaded once at startup.
type Config struct {
	Env string

	DatabaseURL string
	RedisURL    string

	EncryptionKey string

	JWTSecret    string
	JWTExpiresIn string

	// Office hours gate. Times are "HH:MM" in OfficeHoursTZ.
	OfficeHoursStart string
	OfficeHoursEnd   string
	OfficeHoursTZ    string

	MaxBounceRate     float64
	DefaultDailyLimit int

	// UnsubscribeHost is the host rendered into {{unsubscribe_url}}.
	UnsubscribeHost string

	MinDelayBetweenEmails time.Duration
	MaxDelayBetweenEmails time.Duration
	BatchSizeMin          int
	BatchSizeMax          int
	BatchBreakDuration    time.Duration
	MaxRetriesPerEmail    int

	SmtpPool SmtpPoolConfig

	CampaignTickConcurrency int
	EmailSendConcurrency    int
}

// SmtpPoolConfig tunes the transport pool shared by every SmtpAccount.
type SmtpPoolConfig struct {
	MaxPoolSize    int
	IdleTimeout    time.Duration
	MaxConnections int
	MaxMessages    int
	RateLimit      float64 // messages/sec, per account
}

// Load reads configuration from environment variables (optionally
// overlaid by a local .env file), applying the same defaults the rest of
// the codebase relies on.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("encryption_key", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_expires_in", "7d")

	v.SetDefault("office_hours_start", "08:00")
	v.SetDefault("office_hours_end", "20:00")
	v.SetDefault("office_hours_tz", "UTC")

	v.SetDefault("max_bounce_rate", 10.0)
	v.SetDefault("default_daily_limit", 500)
	v.SetDefault("unsubscribe_host", "localhost")

	v.SetDefault("min_delay_between_emails", "10s")
	v.SetDefault("max_delay_between_emails", "45s")
	v.SetDefault("batch_size_min", 20)
	v.SetDefault("batch_size_max", 40)
	v.SetDefault("batch_break_duration", "5m")
	v.SetDefault("max_retries_per_email", 3)

	v.SetDefault("smtp_pool_max_pool_size", 5)
	v.SetDefault("smtp_pool_idle_timeout", "5m")
	v.SetDefault("smtp_pool_max_connections", 4)
	v.SetDefault("smtp_pool_max_messages", 100)
	v.SetDefault("smtp_pool_rate_limit", 5.0)

	v.SetDefault("campaign_tick_concurrency", 2)
	v.SetDefault("email_send_concurrency", 4)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Env:               v.GetString("env"),
		DatabaseURL:       v.GetString("database_url"),
		RedisURL:          v.GetString("redis_url"),
		EncryptionKey:     v.GetString("encryption_key"),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTExpiresIn:      v.GetString("jwt_expires_in"),
		OfficeHoursStart:  v.GetString("office_hours_start"),
		OfficeHoursEnd:    v.GetString("office_hours_end"),
		OfficeHoursTZ:     v.GetString("office_hours_tz"),
		MaxBounceRate:     v.GetFloat64("max_bounce_rate"),
		DefaultDailyLimit: v.GetInt("default_daily_limit"),
		UnsubscribeHost:   v.GetString("unsubscribe_host"),

		MinDelayBetweenEmails: v.GetDuration("min_delay_between_emails"),
		MaxDelayBetweenEmails: v.GetDuration("max_delay_between_emails"),
		BatchSizeMin:          v.GetInt("batch_size_min"),
		BatchSizeMax:          v.GetInt("batch_size_max"),
		BatchBreakDuration:    v.GetDuration("batch_break_duration"),
		MaxRetriesPerEmail:    v.GetInt("max_retries_per_email"),

		SmtpPool: SmtpPoolConfig{
			MaxPoolSize:    v.GetInt("smtp_pool_max_pool_size"),
			IdleTimeout:    v.GetDuration("smtp_pool_idle_timeout"),
			MaxConnections: v.GetInt("smtp_pool_max_connections"),
			MaxMessages:    v.GetInt("smtp_pool_max_messages"),
			RateLimit:      v.GetFloat64("smtp_pool_rate_limit"),
		},

		CampaignTickConcurrency: v.GetInt("campaign_tick_concurrency"),
		EmailSendConcurrency:    v.GetInt("email_send_concurrency"),
	}

	return cfg, nil
}
