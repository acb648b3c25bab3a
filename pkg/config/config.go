package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Guard store backends.
const (
	GuardStoreMemory = "memory"
	GuardStoreRedis  = "redis"
)

// MinSigningKeyLength is the shortest accepted HMAC signing key.
const MinSigningKeyLength = 32

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Guard    GuardConfig
	Lockout  LockoutConfig
	Recovery RecoveryConfig
	Audit    AuditConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
	Swagger  SwaggerConfig
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

// JWTConfig holds token signing parameters. Lifetimes are expressed the way
// operators configure them: minutes for access tokens, days for refresh tokens.
type JWTConfig struct {
	SigningKey         string
	Issuer             string
	Audience           string
	AccessTokenMinutes int
	RefreshTokenDays   int
}

// AccessTokenTTL converts the configured minutes into a duration.
func (c JWTConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

// RefreshTokenTTL converts the configured days into a duration.
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenDays) * 24 * time.Hour
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GuardConfig tunes the IP / email / IP+email brute-force guard.
type GuardConfig struct {
	Store              string
	IPThreshold        int
	IPWindow           time.Duration
	IPBanDurations     []time.Duration
	EscalationReset    time.Duration
	EmailThreshold     int
	EmailWindow        time.Duration
	EmailBanDuration   time.Duration
	IPEmailThreshold   int
	IPEmailWindow      time.Duration
	IPEmailBanDuration time.Duration
	RedisKeyPrefix     string
	RedisMaxCASRetries int
}

// LockoutConfig tunes the persisted per-account lockout.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// RecoveryConfig tunes the forgot/reset password flow.
type RecoveryConfig struct {
	TokenTTL time.Duration
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// AuthConfig holds session behaviour switches.
type AuthConfig struct {
	SingleSession bool
	DefaultRole   string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SwaggerConfig controls the interactive API docs. They are never served in
// production regardless of Enabled.
type SwaggerConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
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

	cfg.JWT = JWTConfig{
		SigningKey:         v.GetString("JWT_SIGNING_KEY"),
		Issuer:             v.GetString("JWT_ISSUER"),
		Audience:           v.GetString("JWT_AUDIENCE"),
		AccessTokenMinutes: v.GetInt("JWT_ACCESS_TOKEN_MINUTES"),
		RefreshTokenDays:   v.GetInt("JWT_REFRESH_TOKEN_DAYS"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Guard = GuardConfig{
		Store:              strings.ToLower(v.GetString("GUARD_STORE")),
		IPThreshold:        v.GetInt("GUARD_IP_THRESHOLD"),
		IPWindow:           parseDuration(v.GetString("GUARD_IP_WINDOW"), 5*time.Minute),
		IPBanDurations:     parseDurations(v.GetString("GUARD_IP_BAN_DURATIONS"), []time.Duration{30 * time.Minute, 2 * time.Hour, 24 * time.Hour}),
		EscalationReset:    parseDuration(v.GetString("GUARD_ESCALATION_RESET"), 24*time.Hour),
		EmailThreshold:     v.GetInt("GUARD_EMAIL_THRESHOLD"),
		EmailWindow:        parseDuration(v.GetString("GUARD_EMAIL_WINDOW"), 5*time.Minute),
		EmailBanDuration:   parseDuration(v.GetString("GUARD_EMAIL_BAN_DURATION"), 30*time.Minute),
		IPEmailThreshold:   v.GetInt("GUARD_IP_EMAIL_THRESHOLD"),
		IPEmailWindow:      parseDuration(v.GetString("GUARD_IP_EMAIL_WINDOW"), 5*time.Minute),
		IPEmailBanDuration: parseDuration(v.GetString("GUARD_IP_EMAIL_BAN_DURATION"), 30*time.Minute),
		RedisKeyPrefix:     v.GetString("GUARD_REDIS_KEY_PREFIX"),
		RedisMaxCASRetries: v.GetInt("GUARD_REDIS_MAX_CAS_RETRIES"),
	}

	cfg.Lockout = LockoutConfig{
		Threshold: v.GetInt("LOCKOUT_THRESHOLD"),
		Duration:  parseDuration(v.GetString("LOCKOUT_DURATION"), 15*time.Minute),
	}

	cfg.Recovery = RecoveryConfig{
		TokenTTL: parseDuration(v.GetString("RECOVERY_TOKEN_TTL"), time.Hour),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
		MaxRetries: v.GetInt("AUDIT_MAX_RETRIES"),
	}

	cfg.Auth = AuthConfig{
		SingleSession: v.GetBool("AUTH_SINGLE_SESSION"),
		DefaultRole:   v.GetString("AUTH_DEFAULT_ROLE"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("METRICS_ENABLED"),
		Path:    v.GetString("METRICS_PATH"),
	}

	cfg.Swagger = SwaggerConfig{Enabled: v.GetBool("SWAGGER_ENABLED") && cfg.Env != EnvProduction}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would make token signing unsafe.
func (c *Config) Validate() error {
	if len(c.JWT.SigningKey) < MinSigningKeyLength {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least %d characters", MinSigningKeyLength)
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("JWT_ISSUER and JWT_AUDIENCE are required")
	}
	if c.JWT.AccessTokenMinutes <= 0 || c.JWT.RefreshTokenDays <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	switch c.Guard.Store {
	case GuardStoreMemory, GuardStoreRedis:
	default:
		return fmt.Errorf("unsupported GUARD_STORE %q", c.Guard.Store)
	}
	if len(c.Guard.IPBanDurations) == 0 {
		return errors.New("GUARD_IP_BAN_DURATIONS must list at least one duration")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "identity")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SIGNING_KEY", "dev_signing_key_change_me_0123456789abcdef")
	v.SetDefault("JWT_ISSUER", "identity-api")
	v.SetDefault("JWT_AUDIENCE", "identity-clients")
	v.SetDefault("JWT_ACCESS_TOKEN_MINUTES", 15)
	v.SetDefault("JWT_REFRESH_TOKEN_DAYS", 7)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GUARD_STORE", GuardStoreMemory)
	v.SetDefault("GUARD_IP_THRESHOLD", 10)
	v.SetDefault("GUARD_IP_WINDOW", "5m")
	v.SetDefault("GUARD_IP_BAN_DURATIONS", "30m,2h,24h")
	v.SetDefault("GUARD_ESCALATION_RESET", "24h")
	v.SetDefault("GUARD_EMAIL_THRESHOLD", 5)
	v.SetDefault("GUARD_EMAIL_WINDOW", "5m")
	v.SetDefault("GUARD_EMAIL_BAN_DURATION", "30m")
	v.SetDefault("GUARD_IP_EMAIL_THRESHOLD", 5)
	v.SetDefault("GUARD_IP_EMAIL_WINDOW", "5m")
	v.SetDefault("GUARD_IP_EMAIL_BAN_DURATION", "30m")
	v.SetDefault("GUARD_REDIS_KEY_PREFIX", "bfg:")
	v.SetDefault("GUARD_REDIS_MAX_CAS_RETRIES", 8)

	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("RECOVERY_TOKEN_TTL", "1h")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
	v.SetDefault("AUDIT_MAX_RETRIES", 3)

	v.SetDefault("AUTH_SINGLE_SESSION", false)
	v.SetDefault("AUTH_DEFAULT_ROLE", "User")

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")
	v.SetDefault("SWAGGER_ENABLED", true)
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

func parseDurations(raw string, fallback []time.Duration) []time.Duration {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return fallback
	}

	result := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			return fallback
		}
		result = append(result, d)
	}

	return result
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
