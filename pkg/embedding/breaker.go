package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cortexflow/ragcore/pkg/embedding/providers"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// guardedProvider wraps a provider with a rate limiter and a circuit
// breaker. The limiter smooths request bursts toward the upstream API; the
// breaker sheds load fast once the upstream is failing outright, so fallback
// handling kicks in without waiting out full timeout chains.
type guardedProvider struct {
	provider providers.Provider
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   observability.Logger
}

// GuardConfig tunes the per-provider guard
type GuardConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout"`
}

func defaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 50,
		Burst:             20,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
	}
}

func newGuardedProvider(p providers.Provider, cfg GuardConfig, logger observability.Logger) *guardedProvider {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultGuardConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultGuardConfig().Burst
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultGuardConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultGuardConfig().OpenTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    p.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})

	return &guardedProvider{
		provider: p,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:   logger,
	}
}

// generate runs one batch call through the limiter and breaker. A batch that
// returns per-item errors but succeeds as a call does not count as a breaker
// failure; only whole-call failures trip it.
func (g *guardedProvider) generate(ctx context.Context, req providers.BatchGenerateEmbeddingRequest) (*providers.BatchEmbeddingResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.provider.BatchGenerateEmbeddings(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &providers.ProviderError{
				Provider:    g.provider.Name(),
				Code:        "CIRCUIT_OPEN",
				Message:     "provider circuit breaker is open",
				IsRetryable: true,
			}
		}
		return nil, err
	}
	return result.(*providers.BatchEmbeddingResponse), nil
}
