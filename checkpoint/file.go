package checkpoint

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/errors/v5"
)

// Store persists the extraction watermark for one target. Save is called
// exactly once per successful pipeline cycle, after the merge transaction
// commits, never before.
type Store interface {
	Load() (Watermark, error)
	Save(w Watermark) error
}

// PersistError wraps a watermark write failure after a successful merge
// commit. It is fatal for the run: the commit already happened, so losing
// the checkpoint only risks redundant (idempotent) reprocessing, but it
// must never be swallowed.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist checkpoint %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// FileStore keeps the watermark in a single JSON file, conceptually
// {"last_processed": "<RFC3339>"}.
type FileStore struct {
	path string
}

func NewFileStore(dir string, target string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint dir")
	}
	return &FileStore{path: filepath.Join(dir, target+"_checkpoint.json")}, nil
}

// Load returns the persisted watermark, or the epoch default when no
// checkpoint exists yet. Absence is not an error; only unreadable or
// corrupt state is.
func (s *FileStore) Load() (Watermark, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if goerrors.Is(err, os.ErrNotExist) {
			return Epoch(), nil
		}
		return Watermark{}, errors.Wrap(err, "read checkpoint")
	}

	var w Watermark
	if err = json.Unmarshal(b, &w); err != nil {
		return Watermark{}, errors.Wrap(err, "parse checkpoint")
	}

	return w, nil
}

// Save atomically replaces the persisted watermark: the new value is
// written to a temp file in the same directory and renamed over the old
// one, so no reader ever observes a partial write.
func (s *FileStore) Save(w Watermark) error {
	b, err := json.Marshal(w)
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp")
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &PersistError{Path: s.path, Err: err}
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &PersistError{Path: s.path, Err: err}
	}

	if err = os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return &PersistError{Path: s.path, Err: err}
	}

	return nil
}
