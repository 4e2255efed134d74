package sensor

import "codeberg.org/mutker/particlectl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("sensor_invalid_config")
	ErrNotStarted    = errors.ErrorCode("sensor_not_started")
)
