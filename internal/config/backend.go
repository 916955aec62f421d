package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/productx/backoffice/internal/backend"
)

// SetupBackend builds the backend client described by cfg: per-attempt
// timeout, retry policy, circuit breaker, outbound rate limit and the
// configured bearer token source.
func SetupBackend(cfg *BackendConfig, logger *slog.Logger) (*backend.Client, error) {
	if cfg == nil {
		return nil, errors.New("backend config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is nil")
	}

	opts := []backend.Option{
		backend.WithLogger(logger),
		backend.WithHTTPClient(&http.Client{Transport: http.DefaultTransport}),
	}
	tokens, err := tokenSource(&cfg.Auth)
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		opts = append(opts, backend.WithTokenSource(tokens))
	}

	client, err := backend.New(clientConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	logger.Info("backend client ready",
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth", cfg.Auth.Mode),
		slog.Int("max_attempts", max(cfg.Retry.MaxAttempts, 1)),
		slog.Bool("rate_limited", cfg.RateLimit.Enabled),
	)
	return client, nil
}

func clientConfig(cfg *BackendConfig) backend.Config {
	out := backend.Config{
		BaseURL: cfg.BaseURL,
		Timeout: Duration(cfg.Timeout, 10*time.Second),
		Retry: backend.RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: Duration(cfg.Retry.InitialInterval, 0),
			MaxInterval:     Duration(cfg.Retry.MaxInterval, 0),
			Multiplier:      cfg.Retry.Multiplier,
			IdempotentOnly:  cfg.Retry.IdempotentOnly,
		},
		Breaker: backend.BreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			CoolDown:         Duration(cfg.CircuitBreaker.CoolDown, 0),
		},
		SuccessCodes: cfg.SuccessCodes,
	}
	if cfg.RateLimit.Enabled {
		out.RateLimit = cfg.RateLimit.RPS
		out.Burst = cfg.RateLimit.Burst
	}
	return out
}

func tokenSource(cfg *BackendAuthConfig) (backend.TokenSource, error) {
	switch cfg.Mode {
	case AuthStatic:
		return backend.StaticToken(cfg.Token), nil
	case AuthJWT:
		signer, err := backend.NewJWTSigner(backend.JWTConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Subject:  cfg.JWT.Subject,
			Audience: cfg.JWT.Audience,
			Scope:    cfg.JWT.Scope,
			TTL:      Duration(cfg.JWT.TTL, 0),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create service token signer: %w", err)
		}
		return signer, nil
	default:
		return nil, nil
	}
}
