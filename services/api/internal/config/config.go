package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ConfigPath is used when Load is called with an empty path and BOOKSTORE_CONFIG is unset.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	RefreshTTL                 string   `yaml:"refreshTTL"`
	CookieMaxAge               string   `yaml:"cookieMaxAge"`
	JWTPrivateKeyPath          string   `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath           string   `yaml:"jwtPublicKeyPath"`
	JWTKeyID                   string   `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys        string   `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer                  string   `yaml:"jwtIssuer"`
	JWTAudience                string   `yaml:"jwtAudience"`
	JWTLeeway                  string   `yaml:"jwtLeeway"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	MinioPublicURL             string   `yaml:"minioPublicURL"`
	RabbitMQURL                string   `yaml:"rabbitmqURL"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int      `yaml:"refreshRateLimitPerMinute"`
	ExposeErrors               bool     `yaml:"exposeErrors"`
}

// Load reads a .env file when present, then the YAML config at path, then
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("BOOKSTORE_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	envString("PORT", &cfg.Port)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("SESSION_TTL", &cfg.SessionTTL)
	envString("REFRESH_TTL", &cfg.RefreshTTL)
	envString("COOKIE_MAX_AGE", &cfg.CookieMaxAge)
	envString("JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath)
	envString("JWT_PUBLIC_KEY_PATH", &cfg.JWTPublicKeyPath)
	envString("JWT_KEY_ID", &cfg.JWTKeyID)
	envString("JWT_VERIFY_PUBLIC_KEYS", &cfg.JWTVerifyPublicKeys)
	envString("JWT_ISSUER", &cfg.JWTIssuer)
	envString("JWT_AUDIENCE", &cfg.JWTAudience)
	envString("JWT_LEEWAY", &cfg.JWTLeeway)
	envString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	envString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	envString("MINIO_BUCKET", &cfg.MinioBucket)
	envBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	envString("MINIO_PUBLIC_URL", &cfg.MinioPublicURL)
	envString("RABBITMQ_URL", &cfg.RabbitMQURL)
	envList("ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	envList("TRUSTED_PROXY_CIDRS", &cfg.TrustedProxyCIDRs)
	envInt("REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute)
	envInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	envInt("REFRESH_RATE_LIMIT_PER_MINUTE", &cfg.RefreshRateLimitPerMinute)
	envBool("EXPOSE_ERRORS", &cfg.ExposeErrors)

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for token revocation and rate limiting")
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set JWT_PRIVATE_KEY_PATH)")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required with minioEndpoint")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for name, raw := range map[string]string{
		"sessionTTL":   cfg.SessionTTL,
		"refreshTTL":   cfg.RefreshTTL,
		"cookieMaxAge": cfg.CookieMaxAge,
		"jwtLeeway":    cfg.JWTLeeway,
	} {
		if _, err := parseDuration(name, raw, 0); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ParseSessionTTL parses the access token lifetime, defaulting to 15 minutes.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseDuration("sessionTTL", ttlStr, 15*time.Minute)
}

// ParseRefreshTTL parses the refresh token lifetime, defaulting to 7 days.
func ParseRefreshTTL(ttlStr string) (time.Duration, error) {
	return parseDuration("refreshTTL", ttlStr, 7*24*time.Hour)
}

// ParseCookieMaxAge parses the auth cookie lifetime, defaulting to one hour.
func ParseCookieMaxAge(raw string) (time.Duration, error) {
	return parseDuration("cookieMaxAge", raw, time.Hour)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseDuration("jwtLeeway", leewayStr, 0)
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	pairs := splitCSV(raw)
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	return out, nil
}

func parseDuration(name, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		*dst = splitCSV(v)
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
