package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// New creates a new executor of the specified type.
//
// Supported types:
//   - "constant-arrival-rate" - Fixed iteration rate (open model)
//   - "fixed-iterations" - N sequential iterations on one VU
//
// Returns an uninitialized executor. Call Init() before Run().
func New(executorType Type, logger *zap.Logger) (Executor, error) {
	switch executorType {
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(logger), nil
	case TypeFixedIterations:
		return NewFixedIterations(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInit creates and initializes an executor with the given config.
func CreateAndInit(ctx context.Context, cfg *Config, logger *zap.Logger) (Executor, error) {
	exec, err := New(cfg.Type, logger)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// IsValidType returns true if the type names a supported executor.
func IsValidType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantArrivalRate, TypeFixedIterations:
		return true
	default:
		return false
	}
}

// SupportedTypes returns a list of all supported executor types.
func SupportedTypes() []Type {
	return []Type{TypeConstantArrivalRate, TypeFixedIterations}
}
