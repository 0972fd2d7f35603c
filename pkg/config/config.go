package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Engine    EngineConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig carries the tunable risk policy. The weights and the default
// threshold are a configurable starting policy, not fixed constants; sessions
// may override the threshold per security policy.
type EngineConfig struct {
	// DefaultRiskThreshold applies when a session policy leaves the
	// threshold unset.
	DefaultRiskThreshold float64
	// DefaultGracePeriod applies when a session policy leaves the grace
	// period unset.
	DefaultGracePeriod time.Duration
	// DefaultMaxAttempts bounds rejected-attempt retries per student.
	DefaultMaxAttempts int

	// LocationMaxRisk caps the geofence distance contribution.
	LocationMaxRisk float64
	// AccuracyPenalty is added when reported accuracy exceeds the required
	// accuracy (coarse, network-based positioning).
	AccuracyPenalty float64
	// RequiredAccuracyMeters is the default acceptable accuracy.
	RequiredAccuracyMeters float64

	// NewDeviceRisk applies to an unseen fingerprint when device change is
	// not allowed.
	NewDeviceRisk float64
	// DeviceSharingRisk applies when the fingerprint was used by another
	// student inside the session window.
	DeviceSharingRisk float64
	// MultipleDevicesRisk applies when the student exceeds the distinct
	// fingerprint budget within the device window.
	MultipleDevicesRisk float64
	// DeviceWindow is the rolling window for the multiple-devices check.
	DeviceWindow time.Duration
	// MaxDevicesPerWindow is the default distinct fingerprint budget.
	MaxDevicesPerWindow int
	// DeviceHistoryRetention bounds how many fingerprints are kept per
	// (course, student).
	DeviceHistoryRetention int

	// LateRisk is the small contribution for a late-but-accepted check-in.
	LateRisk float64
	// ClockOffsetRisk applies when the device clock offset jumps sharply.
	ClockOffsetRisk float64
	// ClockOffsetJumpMS is the offset deviation treated as tampering.
	ClockOffsetJumpMS int64

	// PhotoPenalty applies when a required photo is missing or failed its
	// quality check.
	PhotoPenalty float64
}

// RealtimeConfig tunes the WebSocket event stream.
type RealtimeConfig struct {
	Enabled        bool
	MaxClients     int
	SendBufferSize int
	DispatchRetry  int
	DispatchDelay  time.Duration
}

// RateLimitConfig tunes the redis fixed-window check-in limiter.
type RateLimitConfig struct {
	Enabled          bool
	CheckinPerMinute int
	Window           time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Engine = EngineConfig{
		DefaultRiskThreshold:   v.GetFloat64("ENGINE_RISK_THRESHOLD"),
		DefaultGracePeriod:     parseDuration(v.GetString("ENGINE_GRACE_PERIOD"), 5*time.Minute),
		DefaultMaxAttempts:     v.GetInt("ENGINE_MAX_ATTEMPTS"),
		LocationMaxRisk:        v.GetFloat64("ENGINE_LOCATION_MAX_RISK"),
		AccuracyPenalty:        v.GetFloat64("ENGINE_ACCURACY_PENALTY"),
		RequiredAccuracyMeters: v.GetFloat64("ENGINE_REQUIRED_ACCURACY_M"),
		NewDeviceRisk:          v.GetFloat64("ENGINE_NEW_DEVICE_RISK"),
		DeviceSharingRisk:      v.GetFloat64("ENGINE_DEVICE_SHARING_RISK"),
		MultipleDevicesRisk:    v.GetFloat64("ENGINE_MULTIPLE_DEVICES_RISK"),
		DeviceWindow:           parseDuration(v.GetString("ENGINE_DEVICE_WINDOW"), 15*time.Minute),
		MaxDevicesPerWindow:    v.GetInt("ENGINE_MAX_DEVICES_PER_WINDOW"),
		DeviceHistoryRetention: v.GetInt("ENGINE_DEVICE_HISTORY_RETENTION"),
		LateRisk:               v.GetFloat64("ENGINE_LATE_RISK"),
		ClockOffsetRisk:        v.GetFloat64("ENGINE_CLOCK_OFFSET_RISK"),
		ClockOffsetJumpMS:      v.GetInt64("ENGINE_CLOCK_OFFSET_JUMP_MS"),
		PhotoPenalty:           v.GetFloat64("ENGINE_PHOTO_PENALTY"),
	}

	cfg.Realtime = RealtimeConfig{
		Enabled:        v.GetBool("ENABLE_REALTIME"),
		MaxClients:     v.GetInt("REALTIME_MAX_CLIENTS"),
		SendBufferSize: v.GetInt("REALTIME_SEND_BUFFER"),
		DispatchRetry:  v.GetInt("REALTIME_DISPATCH_RETRY"),
		DispatchDelay:  parseDuration(v.GetString("REALTIME_DISPATCH_DELAY"), time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:          v.GetBool("ENABLE_RATE_LIMIT"),
		CheckinPerMinute: v.GetInt("RATE_LIMIT_CHECKIN_PER_MINUTE"),
		Window:           parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance_integrity")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENGINE_RISK_THRESHOLD", 70.0)
	v.SetDefault("ENGINE_GRACE_PERIOD", "5m")
	v.SetDefault("ENGINE_MAX_ATTEMPTS", 3)
	v.SetDefault("ENGINE_LOCATION_MAX_RISK", 50.0)
	v.SetDefault("ENGINE_ACCURACY_PENALTY", 10.0)
	v.SetDefault("ENGINE_REQUIRED_ACCURACY_M", 100.0)
	v.SetDefault("ENGINE_NEW_DEVICE_RISK", 25.0)
	v.SetDefault("ENGINE_DEVICE_SHARING_RISK", 40.0)
	v.SetDefault("ENGINE_MULTIPLE_DEVICES_RISK", 40.0)
	v.SetDefault("ENGINE_DEVICE_WINDOW", "15m")
	v.SetDefault("ENGINE_MAX_DEVICES_PER_WINDOW", 2)
	v.SetDefault("ENGINE_DEVICE_HISTORY_RETENTION", 10)
	v.SetDefault("ENGINE_LATE_RISK", 10.0)
	v.SetDefault("ENGINE_CLOCK_OFFSET_RISK", 20.0)
	v.SetDefault("ENGINE_CLOCK_OFFSET_JUMP_MS", 120000)
	v.SetDefault("ENGINE_PHOTO_PENALTY", 30.0)

	v.SetDefault("ENABLE_REALTIME", true)
	v.SetDefault("REALTIME_MAX_CLIENTS", 10000)
	v.SetDefault("REALTIME_SEND_BUFFER", 256)
	v.SetDefault("REALTIME_DISPATCH_RETRY", 3)
	v.SetDefault("REALTIME_DISPATCH_DELAY", "1s")

	v.SetDefault("ENABLE_RATE_LIMIT", false)
	v.SetDefault("RATE_LIMIT_CHECKIN_PER_MINUTE", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
