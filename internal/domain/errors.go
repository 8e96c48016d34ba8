package domain

import "errors"

var (
	// ErrUnsupportedStrategy is returned when a strategy type has no
	// registered implementation.
	ErrUnsupportedStrategy = errors.New("unsupported strategy type")

	// ErrInsufficientData is returned when the market source supplies fewer
	// candles than the match needs.
	ErrInsufficientData = errors.New("insufficient market data")

	// ErrInvalidConfig is returned for out-of-range engine, match or
	// strategy configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicateStrategy is returned when a strategy joins a match twice.
	ErrDuplicateStrategy = errors.New("duplicate strategy in match")

	// ErrMatchNotRunning is returned when stepping or finalizing a match
	// that is not in the running state.
	ErrMatchNotRunning = errors.New("match is not running")

	// ErrNotFound is returned by stores and services for unknown ids.
	ErrNotFound = errors.New("not found")
)
