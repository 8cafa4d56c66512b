// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables use the upper-cased key names
// (http_addr -> HTTP_ADDR) and win over file values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends understood by the comments service.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
	RateLimitRPS       float64
	RateLimitBurst     int
}

type GRPCConfig struct {
	Addr string
}

type StoreConfig struct {
	// Backend holds comments and, unless LikesBackend overrides it, likes.
	Backend      string
	LikesBackend string

	DatabaseURL   string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	RedisURL      string
}

type CommentsConfig struct {
	MaxTextLength     int
	IncrementAttempts int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	ReconcileInterval time.Duration
	FactPackDir       string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	JWTSecret   string
	NATSURL     string
	HTTP        HTTPConfig
	GRPC        GRPCConfig
	Store       StoreConfig
	Comments    CommentsConfig
}

// IsProduction reports whether APP_ENV is "production".
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// EffectiveLikesBackend resolves the like-membership backend.
func (c StoreConfig) EffectiveLikesBackend() string {
	if c.LikesBackend == "" {
		return c.Backend
	}
	return c.LikesBackend
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "corner-comments")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_env", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("store_backend", "")
	v.SetDefault("sqlite_path", "corner.db")
	v.SetDefault("mongodb_db", "corner")
	v.SetDefault("comment_max_length", 1000)
	v.SetDefault("like_increment_attempts", 4)
	v.SetDefault("like_retry_base_delay", 50*time.Millisecond)
	v.SetDefault("like_retry_max_delay", time.Second)
	v.SetDefault("reconcile_interval", time.Minute)
}

// Load reads configFile (if non-empty) and the environment.
func Load(configFile string) (AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := AppConfig{
		ServiceName: strings.TrimSpace(v.GetString("service_name")),
		LogLevel:    strings.TrimSpace(v.GetString("log_level")),
		Env:         strings.TrimSpace(v.GetString("app_env")),
		JWTSecret:   strings.TrimSpace(v.GetString("jwt_secret")),
		NATSURL:     strings.TrimSpace(v.GetString("nats_url")),
		HTTP: HTTPConfig{
			Addr:               strings.TrimSpace(v.GetString("http_addr")),
			CORSAllowedOrigins: strings.TrimSpace(v.GetString("cors_allowed_origins")),
			RateLimitRPS:       v.GetFloat64("rate_limit_rps"),
			RateLimitBurst:     v.GetInt("rate_limit_burst"),
		},
		GRPC: GRPCConfig{
			Addr: strings.TrimSpace(v.GetString("grpc_addr")),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("store_backend"))),
			LikesBackend:  strings.ToLower(strings.TrimSpace(v.GetString("likes_backend"))),
			DatabaseURL:   strings.TrimSpace(v.GetString("database_url")),
			SQLitePath:    strings.TrimSpace(v.GetString("sqlite_path")),
			MongoURI:      strings.TrimSpace(v.GetString("mongodb_uri")),
			MongoDatabase: strings.TrimSpace(v.GetString("mongodb_db")),
			RedisURL:      strings.TrimSpace(v.GetString("redis_url")),
		},
		Comments: CommentsConfig{
			MaxTextLength:     v.GetInt("comment_max_length"),
			IncrementAttempts: v.GetInt("like_increment_attempts"),
			RetryBaseDelay:    v.GetDuration("like_retry_base_delay"),
			RetryMaxDelay:     v.GetDuration("like_retry_max_delay"),
			ReconcileInterval: v.GetDuration("reconcile_interval"),
			FactPackDir:       strings.TrimSpace(v.GetString("fact_pack_dir")),
		},
	}

	// Without an explicit backend, DATABASE_URL implies postgres.
	if cfg.Store.Backend == "" {
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Backend = BackendPostgres
		} else {
			cfg.Store.Backend = BackendMemory
		}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.ServiceName == "" {
		return errors.New("SERVICE_NAME is required")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendMongo:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Store.EffectiveLikesBackend() {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendMongo, BackendRedis:
	default:
		return fmt.Errorf("unsupported LIKES_BACKEND %q", c.Store.LikesBackend)
	}
	if c.Store.Backend == BackendMemory && c.Store.EffectiveLikesBackend() != BackendMemory {
		return errors.New("in-memory comments require in-memory likes")
	}
	if c.Store.Backend == BackendPostgres && c.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the postgres backend")
	}
	if c.Store.EffectiveLikesBackend() == BackendPostgres && c.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the postgres likes backend")
	}
	if (c.Store.Backend == BackendMongo || c.Store.LikesBackend == BackendMongo) && c.Store.MongoURI == "" {
		return errors.New("MONGODB_URI is required for the mongo backend")
	}
	if c.Store.LikesBackend == BackendRedis && c.Store.RedisURL == "" {
		return errors.New("REDIS_URL is required for the redis likes backend")
	}
	if c.Comments.MaxTextLength <= 0 {
		return errors.New("COMMENT_MAX_LENGTH must be positive")
	}
	if c.Comments.IncrementAttempts <= 0 {
		return errors.New("LIKE_INCREMENT_ATTEMPTS must be positive")
	}
	if c.IsProduction() {
		if c.Store.Backend == BackendMemory {
			return errors.New("production requires a durable STORE_BACKEND; in-memory store is not allowed")
		}
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required in production")
		}
	}
	return nil
}
