package main

import (
	"golang.org/x/time/rate"

	"github.com/sells-group/sigval/internal/resilience"
	"github.com/sells-group/sigval/internal/validator"
	"github.com/sells-group/sigval/pkg/recognition"
)

// newValidator wires the recognition client and the orchestrator from
// process configuration. Store clients are built per request inside the
// orchestrator because the endpoint and key arrive on each request.
func newValidator() *validator.Validator {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
	)

	rec := recognition.NewClient(cfg.Recognition.Endpoint,
		recognition.WithRetryConfig(retry),
		recognition.WithBreaker(resilience.NewCircuitBreaker(resilience.FromCircuitConfig(
			cfg.Circuit.FailureThreshold,
			cfg.Circuit.ResetTimeoutSecs,
		))),
		recognition.WithLimiter(rate.NewLimiter(
			rate.Limit(cfg.Recognition.RatePerSecond),
			cfg.Recognition.RateBurst,
		)),
	)

	return validator.New(validator.Config{
		RecognitionEndpoint: cfg.Recognition.Endpoint,
		IntegrationKey:      cfg.Recognition.IntegrationKey,
		Retry:               retry,
	}, rec, nil)
}
