// Package snapshot exports the latest reading to a durable JSON file.
// The destination is replaced atomically: consumers either see the
// previous complete snapshot or the new one, never a partial write.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"codeberg.org/mutker/particlectl/internal/errors"
	"codeberg.org/mutker/particlectl/internal/reading"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

type Config struct {
	Path string
	// AfterReplace, when set, runs after each successful rename. This
	// is the seam for external ownership or permission adjustment of
	// the exported file.
	AfterReplace func(path string) error
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Path == "" {
		return errFactory.New(ErrInvalidPath)
	}
	return nil
}

// Writer serializes readings to the configured path. Only one writer
// instance runs per process; the temporary file name is still unique
// to stay safe against a concurrent process instance.
type Writer struct {
	cfg Config
}

func NewWriter(cfg Config) (*Writer, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrWriteFailed, err)
	}

	return &Writer{cfg: cfg}, nil
}

// Write exports one reading. The data is written to a temporary file
// in the destination directory, synced, then renamed into place.
func (w *Writer) Write(r reading.Reading) error {
	errFactory := errors.New()

	dir := filepath.Dir(w.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".particles-*.tmp")
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	tmpName := tmp.Name()

	if err := writeTo(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if err := os.Chmod(tmpName, defaultFilePerm); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if err := os.Rename(tmpName, w.cfg.Path); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if w.cfg.AfterReplace != nil {
		if err := w.cfg.AfterReplace(w.cfg.Path); err != nil {
			return errFactory.Wrap(ErrWriteFailed, err)
		}
	}

	return nil
}

func writeTo(f *os.File, r reading.Reading) error {
	if err := json.NewEncoder(f).Encode(r); err != nil {
		return err
	}

	return f.Sync()
}
