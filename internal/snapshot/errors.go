package snapshot

import "codeberg.org/mutker/particlectl/internal/errors"

const (
	ErrInvalidPath = errors.ErrorCode("export_invalid_path")
	ErrWriteFailed = errors.ErrorCode("export_write_failed")
)
