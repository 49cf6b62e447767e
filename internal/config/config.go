package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lofivibes/api/internal/session"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Auth       AuthConfig
	Zitadel    ZitadelConfig
	RateLimit  RateLimitConfig
	Gemini     GeminiConfig
	ElevenLabs ElevenLabsConfig
	R2         R2Config
	Session    SessionConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// AuthConfig toggles bearer authentication on the /api routes. Off unless
// enabled.
type AuthConfig struct {
	Enabled bool
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	ImagePerMin     int
	MusicPerHour    int
	SessionsPerHour int
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Timeout int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type SessionConfig struct {
	Frames          int
	PreviewInterval time.Duration
	RequestTimeout  time.Duration
	IdleTTL         time.Duration
	PublicURL       string
	MaxTrackBytes   int64
}

func Load() (*Config, error) {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GEMINI_API_KEY")
	readSecret("ELEVENLABS_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("gemini.timeout", "GEMINI_TIMEOUT")
	_ = v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	_ = v.BindEnv("elevenlabs.base_url", "ELEVENLABS_BASE_URL")
	_ = v.BindEnv("elevenlabs.timeout", "ELEVENLABS_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("session.frames", "SESSION_FRAMES")
	_ = v.BindEnv("session.preview_interval", "SESSION_PREVIEW_INTERVAL")
	_ = v.BindEnv("session.request_timeout", "SESSION_REQUEST_TIMEOUT")
	_ = v.BindEnv("session.idle_ttl", "SESSION_IDLE_TTL")
	_ = v.BindEnv("session.public_url", "PUBLIC_URL")
	_ = v.BindEnv("session.max_track_bytes", "SESSION_MAX_TRACK_BYTES")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("ratelimit.image_per_min", 60)
	v.SetDefault("ratelimit.music_per_hour", 20)
	v.SetDefault("ratelimit.sessions_per_hour", 10)

	// Gemini defaults
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.5-flash-image-preview")
	v.SetDefault("gemini.timeout", 120)

	// ElevenLabs defaults
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")
	v.SetDefault("elevenlabs.timeout", 300)

	// Session defaults
	v.SetDefault("session.frames", 24)
	v.SetDefault("session.preview_interval", "1s")
	v.SetDefault("session.request_timeout", "3m")
	v.SetDefault("session.idle_ttl", "24h")
	v.SetDefault("session.public_url", "http://localhost:8000")
	v.SetDefault("session.max_track_bytes", 32<<20)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			ImagePerMin:     v.GetInt("ratelimit.image_per_min"),
			MusicPerHour:    v.GetInt("ratelimit.music_per_hour"),
			SessionsPerHour: v.GetInt("ratelimit.sessions_per_hour"),
		},
		Gemini: GeminiConfig{
			APIKey:  v.GetString("gemini.api_key"),
			BaseURL: v.GetString("gemini.base_url"),
			Model:   v.GetString("gemini.model"),
			Timeout: v.GetInt("gemini.timeout"),
		},
		ElevenLabs: ElevenLabsConfig{
			APIKey:  v.GetString("elevenlabs.api_key"),
			BaseURL: v.GetString("elevenlabs.base_url"),
			Timeout: v.GetInt("elevenlabs.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Session: SessionConfig{
			Frames:          v.GetInt("session.frames"),
			PreviewInterval: v.GetDuration("session.preview_interval"),
			RequestTimeout:  v.GetDuration("session.request_timeout"),
			IdleTTL:         v.GetDuration("session.idle_ttl"),
			PublicURL:       strings.TrimRight(v.GetString("session.public_url"), "/"),
			MaxTrackBytes:   v.GetInt64("session.max_track_bytes"),
		},
	}

	if f := cfg.Session.Frames; f < 1 || f > session.MaxFrames {
		return nil, fmt.Errorf("session.frames must be between 1 and %d, got %d", session.MaxFrames, f)
	}

	return cfg, nil
}
