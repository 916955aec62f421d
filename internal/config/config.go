package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/productx/backoffice/internal/upload"
)

// Config is the top-level console configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Backend  BackendConfig  `koanf:"backend"`
	Storage  upload.Config  `koanf:"storage"`
	Lookup   LookupConfig   `koanf:"lookup"`
	Catalog  CatalogConfig  `koanf:"catalog"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Mode       string `koanf:"mode"`
	CSRFSecret string `koanf:"csrf_secret"`
	// ViewTTL is how long an idle browser view keeps its list state.
	ViewTTL string `koanf:"view_ttl"`
	// MaxViews bounds the live views; 0 uses the registry default.
	MaxViews int `koanf:"max_views"`
}

// DatabaseConfig holds the journal database settings.
type DatabaseConfig struct {
	Driver   string         `koanf:"driver"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Pool     PoolConfig     `koanf:"pool"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	ConnMaxLifetime string `koanf:"conn_max_lifetime"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	Color           *bool  `koanf:"color"`
	FilePath        string `koanf:"file_path"`
	MaxSizeMB       int    `koanf:"max_size_mb"`
	RetentionDays   int    `koanf:"retention_days"`
	MaxBackups      int    `koanf:"max_backups"`
	CompressRotated *bool  `koanf:"compress_rotated"`
}

// BackendConfig locates the REST backend and tunes how it is called.
type BackendConfig struct {
	BaseURL        string               `koanf:"base_url"`
	Timeout        string               `koanf:"timeout"`
	SuccessCodes   []int64              `koanf:"success_codes"`
	Retry          RetryConfig          `koanf:"retry"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
	Auth           BackendAuthConfig    `koanf:"auth"`
}

// RetryConfig holds retry settings for transient backend failures.
type RetryConfig struct {
	MaxAttempts     int     `koanf:"max_attempts"`
	InitialInterval string  `koanf:"initial_interval"`
	MaxInterval     string  `koanf:"max_interval"`
	Multiplier      float64 `koanf:"multiplier"`
	IdempotentOnly  bool    `koanf:"idempotent_only"`
}

// CircuitBreakerConfig holds circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int    `koanf:"failure_threshold"`
	SuccessThreshold int    `koanf:"success_threshold"`
	CoolDown         string `koanf:"cool_down"`
}

// RateLimitConfig holds outbound rate limiting settings.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// Backend auth modes.
const (
	AuthNone   = "none"
	AuthStatic = "static"
	AuthJWT    = "jwt"
)

// BackendAuthConfig selects how the console authenticates to the backend.
type BackendAuthConfig struct {
	Mode  string    `koanf:"mode"`
	Token string    `koanf:"token"`
	JWT   JWTConfig `koanf:"jwt"`
}

// JWTConfig holds the service token settings used in jwt mode.
type JWTConfig struct {
	Secret   string `koanf:"secret"`
	Issuer   string `koanf:"issuer"`
	Subject  string `koanf:"subject"`
	Audience string `koanf:"audience"`
	Scope    string `koanf:"scope"`
	TTL      string `koanf:"ttl"`
}

// LookupConfig holds the list-all cache settings.
type LookupConfig struct {
	TTL string `koanf:"ttl"`
	// Refresh is a cron spec; empty disables background refresh.
	Refresh string      `koanf:"refresh"`
	Timeout string      `koanf:"timeout"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig locates the optional shared lookup cache.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// CatalogConfig locates the resource catalog.
type CatalogConfig struct {
	Dir string `koanf:"dir"`
}

// Load reads configuration from a YAML file and overlays environment variables.
// Environment variables use the prefix "APP__" and double-underscore as the
// hierarchy separator. Single underscores are preserved as part of the key name.
// For example, APP__BACKEND__BASE_URL overrides backend.base_url and
// APP__LOOKUP__REDIS__ADDR overrides lookup.redis.addr.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider("APP__", ".", func(s string) string {
		key := strings.TrimPrefix(s, "APP__")
		key = strings.ToLower(key)
		key = strings.ReplaceAll(key, "__", ".")
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A relative catalog dir is resolved against the config file.
	if dir := strings.TrimSpace(cfg.Catalog.Dir); dir != "" && !filepath.IsAbs(dir) {
		cfg.Catalog.Dir = filepath.Join(filepath.Dir(configPath), dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints and supported values.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateBackend,
		c.validateStorage,
		c.validateLookup,
		c.validateLog,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	dir := strings.TrimSpace(c.Catalog.Dir)
	if dir == "" {
		return fmt.Errorf("catalog.dir is required")
	}
	c.Catalog.Dir = dir

	return nil
}

func (c *Config) validateServer() error {
	mode := strings.TrimSpace(c.Server.Mode)
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		c.Server.Mode = mode
	default:
		return fmt.Errorf("invalid server.mode %q: must be one of %q, %q, %q", c.Server.Mode, gin.DebugMode, gin.ReleaseMode, gin.TestMode)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", c.Server.Port)
	}

	host := strings.TrimSpace(c.Server.Host)
	if host == "" {
		return fmt.Errorf("server.host is required")
	}
	c.Server.Host = host

	if c.Server.MaxViews < 0 {
		return fmt.Errorf("invalid server.max_views %d: must not be negative", c.Server.MaxViews)
	}

	return normalizeDuration("server.view_ttl", &c.Server.ViewTTL)
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		sqlitePath := strings.TrimSpace(c.Database.SQLite.Path)
		if sqlitePath == "" {
			return fmt.Errorf("database.sqlite.path is required when driver is sqlite")
		}
		c.Database.SQLite.Path = sqlitePath
	case "postgres":
		if err := c.validatePostgres(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid database.driver %q: must be one of %q, %q", c.Database.Driver, "sqlite", "postgres")
	}

	return normalizeDuration("database.pool.conn_max_lifetime", &c.Database.Pool.ConnMaxLifetime)
}

func (c *Config) validatePostgres() error {
	pg := &c.Database.Postgres
	pg.Host = strings.TrimSpace(pg.Host)
	pg.User = strings.TrimSpace(pg.User)
	pg.DBName = strings.TrimSpace(pg.DBName)
	pg.SSLMode = strings.TrimSpace(pg.SSLMode)

	if pg.Host == "" {
		return fmt.Errorf("database.postgres.host is required when driver is postgres")
	}
	if pg.Port < 1 || pg.Port > 65535 {
		return fmt.Errorf("invalid database.postgres.port %d: must be between 1 and 65535", pg.Port)
	}
	if pg.User == "" {
		return fmt.Errorf("database.postgres.user is required when driver is postgres")
	}
	if pg.DBName == "" {
		return fmt.Errorf("database.postgres.dbname is required when driver is postgres")
	}

	switch pg.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid database.postgres.sslmode %q: must be one of %q, %q, %q, %q, %q, %q", pg.SSLMode, "disable", "allow", "prefer", "require", "verify-ca", "verify-full")
	}
	if c.Server.Mode == gin.ReleaseMode {
		switch pg.SSLMode {
		case "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("invalid database.postgres.sslmode %q for server.mode %q: must be one of %q, %q, %q", pg.SSLMode, gin.ReleaseMode, "require", "verify-ca", "verify-full")
		}
	}
	return nil
}

func (c *Config) validateBackend() error {
	b := &c.Backend

	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	if b.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend.base_url %q: must be an absolute http(s) URL", b.BaseURL)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"backend.timeout", &b.Timeout},
		{"backend.retry.initial_interval", &b.Retry.InitialInterval},
		{"backend.retry.max_interval", &b.Retry.MaxInterval},
		{"backend.circuit_breaker.cool_down", &b.CircuitBreaker.CoolDown},
		{"backend.auth.jwt.ttl", &b.Auth.JWT.TTL},
	}
	for _, d := range durations {
		if err := normalizeDuration(d.name, d.value); err != nil {
			return err
		}
	}

	if b.Retry.MaxAttempts < 0 {
		return fmt.Errorf("invalid backend.retry.max_attempts %d: must not be negative", b.Retry.MaxAttempts)
	}
	if b.Retry.Multiplier != 0 && b.Retry.Multiplier < 1 {
		return fmt.Errorf("invalid backend.retry.multiplier %v: must be at least 1", b.Retry.Multiplier)
	}

	if b.RateLimit.Enabled {
		if b.RateLimit.RPS <= 0 {
			return fmt.Errorf("invalid backend.rate_limit.rps %v: must be positive when rate limiting is enabled", b.RateLimit.RPS)
		}
		if b.RateLimit.Burst <= 0 {
			return fmt.Errorf("invalid backend.rate_limit.burst %d: must be positive when rate limiting is enabled", b.RateLimit.Burst)
		}
	}

	return c.validateBackendAuth()
}

func (c *Config) validateBackendAuth() error {
	auth := &c.Backend.Auth
	auth.Mode = strings.ToLower(strings.TrimSpace(auth.Mode))
	if auth.Mode == "" {
		auth.Mode = AuthNone
	}

	switch auth.Mode {
	case AuthNone:
	case AuthStatic:
		auth.Token = strings.TrimSpace(auth.Token)
		if auth.Token == "" {
			return fmt.Errorf("backend.auth.token is required when auth mode is %q", AuthStatic)
		}
	case AuthJWT:
		secret := strings.TrimSpace(auth.JWT.Secret)
		if len(secret) < 32 {
			return fmt.Errorf("invalid backend.auth.jwt.secret: must be at least 32 characters")
		}
		if c.Server.Mode == gin.ReleaseMode && CountSecretClasses(secret) < 3 {
			return fmt.Errorf("backend.auth.jwt.secret must include at least 3 character classes (lowercase, uppercase, digit, symbol) in release mode")
		}
		auth.JWT.Secret = secret

		auth.JWT.Subject = strings.TrimSpace(auth.JWT.Subject)
		if auth.JWT.Subject == "" {
			return fmt.Errorf("backend.auth.jwt.subject is required when auth mode is %q", AuthJWT)
		}
	default:
		return fmt.Errorf("invalid backend.auth.mode %q: must be one of %q, %q, %q", auth.Mode, AuthNone, AuthStatic, AuthJWT)
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := &c.Storage
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = upload.ProviderBackend
	}

	if s.MaxSizeMB < 0 {
		return fmt.Errorf("invalid storage.max_size_mb %d: must not be negative", s.MaxSizeMB)
	}
	if s.BytesPerSecond < 0 {
		return fmt.Errorf("invalid storage.bytes_per_second %d: must not be negative", s.BytesPerSecond)
	}

	var required []struct{ name, value string }
	switch s.Provider {
	case upload.ProviderBackend, upload.ProviderOSSPolicy:
	case upload.ProviderOSS:
		required = []struct{ name, value string }{
			{"storage.oss.endpoint", s.OSS.Endpoint},
			{"storage.oss.bucket", s.OSS.Bucket},
			{"storage.oss.access_key_id", s.OSS.AccessKeyID},
			{"storage.oss.access_key_secret", s.OSS.AccessKeySecret},
		}
	case upload.ProviderCOS:
		required = []struct{ name, value string }{
			{"storage.cos.bucket_url", s.COS.BucketURL},
			{"storage.cos.secret_id", s.COS.SecretID},
			{"storage.cos.secret_key", s.COS.SecretKey},
		}
	case upload.ProviderS3:
		required = []struct{ name, value string }{
			{"storage.s3.region", s.S3.Region},
			{"storage.s3.bucket", s.S3.Bucket},
		}
	default:
		return fmt.Errorf("invalid storage.provider %q: must be one of %q, %q, %q, %q, %q", s.Provider,
			upload.ProviderBackend, upload.ProviderOSSPolicy, upload.ProviderOSS, upload.ProviderCOS, upload.ProviderS3)
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required when storage.provider is %q", r.name, s.Provider)
		}
	}
	return nil
}

func (c *Config) validateLookup() error {
	l := &c.Lookup
	if err := normalizeDuration("lookup.ttl", &l.TTL); err != nil {
		return err
	}
	if err := normalizeDuration("lookup.timeout", &l.Timeout); err != nil {
		return err
	}

	l.Refresh = strings.TrimSpace(l.Refresh)
	if l.Refresh != "" {
		if _, err := cron.ParseStandard(l.Refresh); err != nil {
			return fmt.Errorf("invalid lookup.refresh %q: %w", l.Refresh, err)
		}
	}

	l.Redis.Addr = strings.TrimSpace(l.Redis.Addr)
	if l.Redis.DB < 0 {
		return fmt.Errorf("invalid lookup.redis.db %d: must not be negative", l.Redis.DB)
	}
	return nil
}

func (c *Config) validateLog() error {
	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Log.Level = level
	default:
		return fmt.Errorf("invalid log.level %q: must be one of %q, %q, %q, %q", c.Log.Level, "debug", "info", "warn", "error")
	}

	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch format {
	case "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("invalid log.format %q: must be one of %q, %q", c.Log.Format, "text", "json")
	}
	return nil
}

// normalizeDuration trims an optional duration field and checks that a set
// value parses and is positive. Whitespace-only means unset.
func normalizeDuration(name string, value *string) error {
	v := strings.TrimSpace(*value)
	*value = v
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s %q: must be greater than 0", name, v)
	}
	return nil
}

// Duration parses a field already checked by Validate. Empty or invalid
// values yield fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// CountSecretClasses counts how many character classes (lowercase, uppercase,
// digit, symbol) are present in the given secret string.
func CountSecretClasses(secret string) int {
	var lower, upper, digit, symbol int
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = 1
		case unicode.IsUpper(r):
			upper = 1
		case unicode.IsDigit(r):
			digit = 1
		default:
			symbol = 1
		}
	}
	return lower + upper + digit + symbol
}
