package retry

import (
	"context"

	"go.uber.org/zap"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried
type Operation func() error

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config, logger *zap.Logger) Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		logger.Debug("Transport retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	logger.Debug("Transport retry enabled, using ExponentialBackoffStrategy",
		zap.Int("max_retries", config.MaxRetries),
		zap.Duration("initial_delay", config.InitialDelay),
		zap.Duration("max_delay", config.MaxDelay),
	)

	return NewExponentialBackoffStrategy(
		config.MaxRetries,
		config.InitialDelay,
		config.MaxDelay,
		logger,
	)
}

// NoRetryStrategy runs each request exactly once
type NoRetryStrategy struct{}

// NewNoRetryStrategy creates a new NoRetryStrategy
func NewNoRetryStrategy() *NoRetryStrategy {
	return &NoRetryStrategy{}
}

func (*NoRetryStrategy) Execute(_ context.Context, operation Operation) error {
	return operation()
}

func (*NoRetryStrategy) Name() string {
	return "NoRetry"
}
