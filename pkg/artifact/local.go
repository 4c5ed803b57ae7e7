package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// In-flight puts stage under this prefix before renaming into place.
const putStagePrefix = ".put-"

// LocalStorage stores artifacts on the local filesystem. All operations are
// confined to the storage root, so a hostile key can never escape it.
type LocalStorage struct {
	root       string
	baseURL    string
	putTimeout time.Duration
}

var _ Storage = (*LocalStorage)(nil)

// LocalOption configures LocalStorage.
type LocalOption func(*LocalStorage)

// WithLocalPutTimeout bounds a single Put. Without it the caller's context
// deadline applies.
func WithLocalPutTimeout(timeout time.Duration) LocalOption {
	return func(s *LocalStorage) {
		s.putTimeout = timeout
	}
}

// NewLocalStorage creates filesystem-backed artifact storage rooted at
// baseDir, creating the directory if needed. baseURL prefixes public URLs
// (e.g. "/artifacts/").
func NewLocalStorage(baseDir, baseURL string, opts ...LocalOption) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, ErrInvalidConfig
	}

	root, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve base directory: %v", ErrInvalidConfig, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	s := &LocalStorage{root: root, baseURL: baseURL}
	if s.baseURL != "" && !strings.HasSuffix(s.baseURL, "/") {
		s.baseURL += "/"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ctxReader fails the copy as soon as ctx ends, so a huge render stream
// cannot outlive its job.
type ctxReader struct {
	ctx context.Context
	src io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.src.Read(p)
}

// Put streams r into a file under the storage root. The artifact appears
// atomically: concurrent readers see the previous content or the new one,
// never a half-written file.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, opts ...PutOption) (*Artifact, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNilReader
	}
	if s.putTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.putTimeout)
		defer cancel()
	}

	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}

	contentType, body, err := resolveContentType(key, r, po.contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact stream: %w", err)
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	written, err := s.stageFile(ctx, absPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to write artifact %s: %w", key, err)
	}

	return &Artifact{
		Key:         key,
		Size:        written,
		ContentType: contentType,
		URL:         s.URL(key),
	}, nil
}

// stageFile writes src to a temp file next to the target and renames it into
// place. The temp file is removed on any failure.
func (s *LocalStorage) stageFile(ctx context.Context, absPath string, src io.Reader) (written int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(absPath), putStagePrefix+"*")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err = io.Copy(tmp, &ctxReader{ctx: ctx, src: src})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}

	// CreateTemp uses 0600; stored artifacts are world-readable
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, err
	}
	return written, os.Rename(tmp.Name(), absPath)
}

// Delete removes a single artifact.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	absPath, err := s.resolvePath(key)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	case err != nil:
		return fmt.Errorf("failed to stat artifact: %w", err)
	case info.IsDir():
		return fmt.Errorf("%w: %s addresses a prefix, use DeletePrefix", ErrInvalidKey, key)
	}

	if err := os.Remove(absPath); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// DeletePrefix removes every artifact under the given prefix.
func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return err
	}
	absPath, err := s.statPrefix(prefix)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(absPath); err != nil {
		return fmt.Errorf("failed to delete prefix: %w", err)
	}
	return nil
}

// Exists reports whether an artifact is stored under key.
func (s *LocalStorage) Exists(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}
	key, err := cleanKey(key)
	if err != nil {
		return false
	}
	absPath, err := s.resolvePath(key)
	if err != nil {
		return false
	}

	info, err := os.Stat(absPath)
	return err == nil && !info.IsDir()
}

// List returns the artifacts directly under the given prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	dir, err := s.statPrefix(prefix)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prefix: %w", err)
	}

	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		// nested prefixes and staged puts are not listable artifacts
		if entry.IsDir() || strings.HasPrefix(entry.Name(), putStagePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// entry vanished between readdir and stat
			continue
		}
		key := entry.Name()
		if prefix != "" {
			key = prefix + "/" + key
		}
		objects = append(objects, Object{Key: key, Size: info.Size()})
	}
	return objects, nil
}

// URL returns the public URL for an artifact.
func (s *LocalStorage) URL(key string) string {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	return s.baseURL + key
}

// resolvePath maps a cleaned key onto the filesystem and verifies the result
// stays inside the storage root.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if absPath != s.root && !strings.HasPrefix(absPath, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return absPath, nil
}

// statPrefix resolves a cleaned prefix to its directory. A missing path maps
// to ErrPrefixNotFound, a file to ErrInvalidKey.
func (s *LocalStorage) statPrefix(prefix string) (string, error) {
	absPath, err := s.resolvePath(prefix)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	switch {
	case os.IsNotExist(err):
		return "", fmt.Errorf("%w: %s", ErrPrefixNotFound, prefix)
	case err != nil:
		return "", fmt.Errorf("failed to stat prefix: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: %s addresses an artifact", ErrInvalidKey, prefix)
	}
	return absPath, nil
}
