package outbreak

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"outbreakcast/ml"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrCorruptModel  = errors.New("model artifact unreadable")
)

// ModelStore persists one classifier per country.
type ModelStore interface {
	// Load returns ErrModelNotFound when no artifact exists for country.
	Load(country string) (ml.Classifier, error)
	Save(country string, model ml.Classifier) error
}

// FileStore keeps artifacts as model_<key>.model files in one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("model directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Path(country string) string {
	return filepath.Join(s.dir, ModelFilename(country))
}

func (s *FileStore) Load(country string) (ml.Classifier, error) {
	path := s.Path(country)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorruptModel, path, err)
	}
	defer file.Close()

	model, err := ml.DecodeModel(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptModel, path, err)
	}
	return model, nil
}

// Save writes the artifact to a temporary file in the same directory and
// renames it into place, so readers see either the old or the new model.
func (s *FileStore) Save(country string, model ml.Classifier) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+ModelKey(country)+"-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := ml.EncodeModel(tmp, model); err != nil {
		tmp.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(country)); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}
