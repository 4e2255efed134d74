package sensor

import (
	"time"

	"codeberg.org/mutker/particlectl/internal/errors"
)

// Config holds the duty-cycle timing. Immutable once the controller
// starts.
type Config struct {
	// ReadPeriod is how long the sensor samples per cycle.
	ReadPeriod time.Duration
	// SleepPeriod is how long the fan stays off between cycles.
	SleepPeriod time.Duration
	// SampleInterval is the pause between consecutive samples.
	SampleInterval time.Duration
	// WakeRetry is the backoff after a failed wake attempt.
	WakeRetry time.Duration
	// DegradedRetry is the slower backoff once MaxWakeFailures
	// consecutive wake attempts have failed.
	DegradedRetry time.Duration
	// MaxWakeFailures is the consecutive-failure threshold before the
	// controller treats the device as offline.
	MaxWakeFailures int
	// LogRaw enables per-sample debug log entries.
	LogRaw bool
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ReadPeriod <= 0 || c.SleepPeriod < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "invalid cycle period")
	}
	if c.SampleInterval <= 0 || c.SampleInterval > c.ReadPeriod {
		return errFactory.WithMessage(ErrInvalidConfig, "invalid sample interval")
	}
	if c.WakeRetry <= 0 || c.DegradedRetry <= 0 || c.MaxWakeFailures <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "invalid retry settings")
	}

	return nil
}
