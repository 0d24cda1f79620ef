// Package staging holds uploaded files between submission and parsing.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Stager stores an upload durably and hands back a handle the worker can
// re-open. Remove succeeds when the handle is already gone.
type Stager interface {
	Stage(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Remove(ctx context.Context, handle string) error
}

type LocalStager struct {
	Dir string
}

func NewLocalStager(dir string) (*LocalStager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "bulkops-staging")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return &LocalStager{Dir: dir}, nil
}

// Stage copies r into a new file under Dir and fsyncs it before returning.
// The file keeps the extension of name so the parser can be chosen from it.
func (s *LocalStager) Stage(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.Dir, "import-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	path := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("sync staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

func (s *LocalStager) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	path, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged file %s: %w", path, err)
	}
	return file, nil
}

func (s *LocalStager) Remove(ctx context.Context, handle string) error {
	path, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged file %s: %w", path, err)
	}
	return nil
}

// Exists reports whether handle still has a staged file.
func (s *LocalStager) Exists(handle string) bool {
	path, err := s.resolve(handle)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *LocalStager) resolve(handle string) (string, error) {
	path := handle
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, handle)
	}
	rel, err := filepath.Rel(s.Dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("handle %q is outside the staging dir", handle)
	}
	return path, nil
}
