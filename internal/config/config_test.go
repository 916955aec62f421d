package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testYAML = `server:
  host: "127.0.0.1"
  port: 3000
  mode: "release"
  csrf_secret: "test-csrf-secret-value"
  view_ttl: "20m"
  max_views: 800
database:
  driver: "postgres"
  sqlite:
    path: "data/test.db"
  postgres:
    host: "db.example.com"
    port: 5433
    user: "admin"
    password: "secret"
    dbname: "testdb"
    sslmode: "require"
  pool:
    max_idle_conns: 5
    max_open_conns: 50
    conn_max_lifetime: "30m"
log:
  level: "info"
  format: "json"
backend:
  base_url: "https://api.productx.test/"
  timeout: "5s"
  success_codes: [0, 200]
  retry:
    max_attempts: 3
    initial_interval: "100ms"
    max_interval: "1s"
    idempotent_only: true
  circuit_breaker:
    failure_threshold: 4
    cool_down: "10s"
  rate_limit:
    enabled: true
    rps: 20
    burst: 40
  auth:
    mode: "static"
    token: "service-token"
storage:
  provider: "cos"
  max_size_mb: 5
  allowed_exts: [".png", ".jpg"]
  cos:
    bucket_url: "https://files-1250000000.cos.ap-guangzhou.myqcloud.com"
    secret_id: "id"
    secret_key: "key"
lookup:
  ttl: "5m"
  refresh: "*/10 * * * *"
  timeout: "20s"
  redis:
    addr: "127.0.0.1:6379"
    db: 2
catalog:
  dir: "resources"
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// validConfig returns a minimal config that passes Validate.
func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080, Mode: "debug"},
		Database: DatabaseConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "data/journal.db"}},
		Log:      LogConfig{Level: "info", Format: "text"},
		Backend:  BackendConfig{BaseURL: "http://localhost:9000"},
		Catalog:  CatalogConfig{Dir: "configs/resources"},
	}
}

func TestLoad_FullYAML(t *testing.T) {
	path := writeTestConfig(t, testYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 3000 || cfg.Server.ViewTTL != "20m" || cfg.Server.MaxViews != 800 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Database.Postgres.Host != "db.example.com" || cfg.Database.Pool.MaxOpenConns != 50 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Backend.BaseURL != "https://api.productx.test" {
		t.Errorf("Backend.BaseURL = %q; trailing slash should be trimmed", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Retry.MaxAttempts != 3 || !cfg.Backend.Retry.IdempotentOnly {
		t.Errorf("Backend.Retry = %+v", cfg.Backend.Retry)
	}
	if cfg.Backend.Auth.Mode != AuthStatic || cfg.Backend.Auth.Token != "service-token" {
		t.Errorf("Backend.Auth = %+v", cfg.Backend.Auth)
	}
	if len(cfg.Backend.SuccessCodes) != 2 {
		t.Errorf("Backend.SuccessCodes = %v", cfg.Backend.SuccessCodes)
	}
	if cfg.Storage.Provider != "cos" || cfg.Storage.MaxSize() != 5<<20 || len(cfg.Storage.AllowedExts) != 2 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Lookup.Redis.Addr != "127.0.0.1:6379" || cfg.Lookup.Redis.DB != 2 || cfg.Lookup.Refresh != "*/10 * * * *" {
		t.Errorf("Lookup = %+v", cfg.Lookup)
	}
	wantDir := filepath.Join(filepath.Dir(path), "resources")
	if cfg.Catalog.Dir != wantDir {
		t.Errorf("Catalog.Dir = %q; want %q", cfg.Catalog.Dir, wantDir)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, testYAML)

	t.Setenv("APP__SERVER__PORT", "9090")
	t.Setenv("APP__DATABASE__DRIVER", "sqlite")
	t.Setenv("APP__DATABASE__POOL__MAX_IDLE_CONNS", "20")
	t.Setenv("APP__BACKEND__BASE_URL", "http://backend.internal:8081")
	t.Setenv("APP__LOOKUP__REDIS__DB", "5")
	t.Setenv("APP__CATALOG__DIR", "/etc/console/resources")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 (env override)", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Pool.MaxIdleConns != 20 {
		t.Errorf("Database = %+v (env override)", cfg.Database)
	}
	if cfg.Backend.BaseURL != "http://backend.internal:8081" {
		t.Errorf("Backend.BaseURL = %q (env override)", cfg.Backend.BaseURL)
	}
	if cfg.Lookup.Redis.DB != 5 {
		t.Errorf("Lookup.Redis.DB = %d; want 5 (env override)", cfg.Lookup.Redis.DB)
	}
	if cfg.Catalog.Dir != "/etc/console/resources" {
		t.Errorf("Catalog.Dir = %q; absolute dir must be kept", cfg.Catalog.Dir)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1 (unchanged)", cfg.Server.Host)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Mode = " debug "
	cfg.Log.Level = "WARN"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Server.Mode != "debug" || cfg.Log.Level != "warn" {
		t.Errorf("normalization failed: mode=%q level=%q", cfg.Server.Mode, cfg.Log.Level)
	}
	if cfg.Backend.Auth.Mode != AuthNone {
		t.Errorf("Backend.Auth.Mode = %q; want %q", cfg.Backend.Auth.Mode, AuthNone)
	}
	if cfg.Storage.Provider != "backend" {
		t.Errorf("Storage.Provider = %q; want backend", cfg.Storage.Provider)
	}
}

func TestValidate_Errors(t *testing.T) {
	strongSecret := "Abcdefghijklmnopqrstuvwxyz0123456789!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"server mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"server port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"server host", func(c *Config) { c.Server.Host = "  " }, "server.host"},
		{"view ttl", func(c *Config) { c.Server.ViewTTL = "soon" }, "server.view_ttl"},
		{"max views", func(c *Config) { c.Server.MaxViews = -1 }, "server.max_views"},
		{"database driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite path", func(c *Config) { c.Database.SQLite.Path = "" }, "database.sqlite.path"},
		{"postgres host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Postgres = PostgresConfig{Port: 5432, User: "u", DBName: "d", SSLMode: "disable"}
		}, "database.postgres.host"},
		{"postgres sslmode release", func(c *Config) {
			c.Server.Mode = "release"
			c.Database.Driver = "postgres"
			c.Database.Postgres = PostgresConfig{Host: "h", Port: 5432, User: "u", DBName: "d", SSLMode: "disable"}
		}, "database.postgres.sslmode"},
		{"pool lifetime", func(c *Config) { c.Database.Pool.ConnMaxLifetime = "-1s" }, "database.pool.conn_max_lifetime"},
		{"backend url missing", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"backend url scheme", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "backend.base_url"},
		{"backend timeout", func(c *Config) { c.Backend.Timeout = "0s" }, "backend.timeout"},
		{"retry attempts", func(c *Config) { c.Backend.Retry.MaxAttempts = -1 }, "backend.retry.max_attempts"},
		{"retry multiplier", func(c *Config) { c.Backend.Retry.Multiplier = 0.5 }, "backend.retry.multiplier"},
		{"breaker cool down", func(c *Config) { c.Backend.CircuitBreaker.CoolDown = "x" }, "backend.circuit_breaker.cool_down"},
		{"rate limit rps", func(c *Config) { c.Backend.RateLimit = RateLimitConfig{Enabled: true, Burst: 1} }, "backend.rate_limit.rps"},
		{"rate limit burst", func(c *Config) { c.Backend.RateLimit = RateLimitConfig{Enabled: true, RPS: 1} }, "backend.rate_limit.burst"},
		{"auth mode", func(c *Config) { c.Backend.Auth.Mode = "oauth" }, "backend.auth.mode"},
		{"static token", func(c *Config) { c.Backend.Auth.Mode = AuthStatic }, "backend.auth.token"},
		{"jwt secret short", func(c *Config) {
			c.Backend.Auth = BackendAuthConfig{Mode: AuthJWT, JWT: JWTConfig{Secret: "short", Subject: "console"}}
		}, "backend.auth.jwt.secret"},
		{"jwt secret weak in release", func(c *Config) {
			c.Server.Mode = "release"
			c.Backend.Auth = BackendAuthConfig{Mode: AuthJWT, JWT: JWTConfig{Secret: strings.Repeat("a", 40), Subject: "console"}}
		}, "character classes"},
		{"jwt subject", func(c *Config) {
			c.Backend.Auth = BackendAuthConfig{Mode: AuthJWT, JWT: JWTConfig{Secret: strongSecret}}
		}, "backend.auth.jwt.subject"},
		{"storage provider", func(c *Config) { c.Storage.Provider = "ftp" }, "storage.provider"},
		{"storage size", func(c *Config) { c.Storage.MaxSizeMB = -1 }, "storage.max_size_mb"},
		{"oss bucket", func(c *Config) {
			c.Storage.Provider = "oss"
			c.Storage.OSS.Endpoint = "oss-cn-hangzhou.aliyuncs.com"
		}, "storage.oss.bucket"},
		{"cos bucket url", func(c *Config) { c.Storage.Provider = "cos" }, "storage.cos.bucket_url"},
		{"s3 region", func(c *Config) { c.Storage.Provider = "s3" }, "storage.s3.region"},
		{"lookup ttl", func(c *Config) { c.Lookup.TTL = "forever" }, "lookup.ttl"},
		{"lookup refresh", func(c *Config) { c.Lookup.Refresh = "every minute" }, "lookup.refresh"},
		{"lookup redis db", func(c *Config) { c.Lookup.Redis.DB = -1 }, "lookup.redis.db"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"catalog dir", func(c *Config) { c.Catalog.Dir = " " }, "catalog.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JWTAccepted(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Mode = "release"
	cfg.Backend.Auth = BackendAuthConfig{
		Mode: " JWT ",
		JWT:  JWTConfig{Secret: "Abcdefghijklmnopqrstuvwxyz0123456789!", Subject: " console ", TTL: "10m"},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Backend.Auth.Mode != AuthJWT || cfg.Backend.Auth.JWT.Subject != "console" {
		t.Errorf("Auth = %+v", cfg.Backend.Auth)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15s", 15 * time.Second},
		{" 2m ", 2 * time.Minute},
		{"", time.Hour},
		{"bad", time.Hour},
		{"-1s", time.Hour},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, time.Hour); got != tt.want {
			t.Errorf("Duration(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestCountSecretClasses(t *testing.T) {
	tests := []struct {
		secret string
		want   int
	}{
		{"", 0},
		{"abc", 1},
		{"abcDEF", 2},
		{"abcDEF123", 3},
		{"abcDEF123!", 4},
	}
	for _, tt := range tests {
		if got := CountSecretClasses(tt.secret); got != tt.want {
			t.Errorf("CountSecretClasses(%q) = %d; want %d", tt.secret, got, tt.want)
		}
	}
}

func TestSetupBackend(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := validConfig()
	cfg.Backend.Auth = BackendAuthConfig{Mode: AuthStatic, Token: "t"}
	cfg.Backend.RateLimit = RateLimitConfig{Enabled: true, RPS: 5, Burst: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	client, err := SetupBackend(&cfg.Backend, logger)
	if err != nil {
		t.Fatalf("SetupBackend() error: %v", err)
	}
	if client.Breaker() == nil {
		t.Error("expected a circuit breaker")
	}
	if !strings.Contains(buf.String(), "backend client ready") {
		t.Errorf("log = %q; want readiness line", buf.String())
	}
}

func TestSetupBackend_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if _, err := SetupBackend(nil, logger); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := SetupBackend(&BackendConfig{BaseURL: "http://x"}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
	_, err := SetupBackend(&BackendConfig{
		BaseURL: "http://x",
		Auth:    BackendAuthConfig{Mode: AuthJWT, JWT: JWTConfig{Secret: "short", Subject: "s"}},
	}, logger)
	if err == nil || !strings.Contains(err.Error(), "signer") {
		t.Errorf("error = %v; want signer failure", err)
	}
}

func TestTokenSource(t *testing.T) {
	ts, err := tokenSource(&BackendAuthConfig{Mode: AuthStatic, Token: "abc"})
	if err != nil {
		t.Fatalf("tokenSource: %v", err)
	}
	tok, err := ts.Token(context.Background())
	if err != nil || tok != "abc" {
		t.Errorf("Token() = %q, %v; want abc", tok, err)
	}

	ts, err = tokenSource(&BackendAuthConfig{Mode: AuthNone})
	if err != nil || ts != nil {
		t.Errorf("none mode = %v, %v; want nil source", ts, err)
	}
}

func TestClientConfig(t *testing.T) {
	got := clientConfig(&BackendConfig{
		BaseURL:   "http://x",
		Timeout:   "3s",
		Retry:     RetryConfig{MaxAttempts: 4, InitialInterval: "50ms"},
		RateLimit: RateLimitConfig{Enabled: false, RPS: 9, Burst: 9},
	})
	if got.Timeout != 3*time.Second || got.Retry.MaxAttempts != 4 || got.Retry.InitialInterval != 50*time.Millisecond {
		t.Errorf("clientConfig = %+v", got)
	}
	if got.RateLimit != 0 {
		t.Errorf("RateLimit = %v; disabled limiter must stay 0", got.RateLimit)
	}
}
