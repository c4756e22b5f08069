package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("stored file not found")

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// LocalStorage keeps uploaded files on disk under a base directory. Stored
// objects are addressed by a relative, slash-separated key.
type LocalStorage struct {
	baseDir string
	now     func() time.Time
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./media"
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: abs, now: time.Now}, nil
}

// Save copies r into a new object. pathHint is a slash-separated prefix plus
// the original file name (e.g. "documents/photo/portrait.png"); the stored key
// is dated and made unique so concurrent uploads never overwrite each other.
func (s *LocalStorage) Save(ctx context.Context, r io.Reader, pathHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := s.keyFor(pathHint)
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create stored file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write stored file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close stored file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("commit stored file: %w", err)
	}
	return key, nil
}

// Exists reports whether the object is present.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat stored file: %w", err)
	}
	return true, nil
}

// Size returns the object size in bytes.
func (s *LocalStorage) Size(_ context.Context, key string) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat stored file: %w", err)
	}
	return info.Size(), nil
}

// Open returns a read handle for the stored object.
func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return file, nil
}

// Delete removes a stored object. Missing objects are not an error.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stored file: %w", err)
	}
	return nil
}

func (s *LocalStorage) keyFor(pathHint string) string {
	hint := strings.Trim(path.Clean("/"+filepath.ToSlash(pathHint)), "/")
	dir, name := path.Split(hint)

	ext := strings.ToLower(path.Ext(name))
	base := unsafeNameChars.ReplaceAllString(strings.TrimSuffix(name, path.Ext(name)), "_")
	if len(base) > 48 {
		base = base[:48]
	}
	if base == "" {
		base = "file"
	}

	dated := s.now().UTC().Format("2006/01")
	return path.Join(dir, dated, fmt.Sprintf("%s-%s%s", uuid.NewString(), base, ext))
}

// resolve maps a key to a path inside baseDir, refusing keys that escape it.
func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	target := filepath.Join(s.baseDir, filepath.FromSlash(path.Clean("/"+key)))
	if target != s.baseDir && !strings.HasPrefix(target, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key escapes base directory")
	}
	return target, nil
}
