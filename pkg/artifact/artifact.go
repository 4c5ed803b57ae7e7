package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
)

// Artifact describes a stored render output.
type Artifact struct {
	Key         string
	Size        int64
	ContentType string
	URL         string
}

// Object is one stored artifact in a listing.
type Object struct {
	Key  string
	Size int64
}

// Storage stores rendered outputs. Keys are slash-separated paths relative
// to the storage root ("renders/<job-id>.mp4"); implementations confine all
// operations to that root.
type Storage interface {
	// Put streams an artifact to storage and returns its metadata
	Put(ctx context.Context, key string, r io.Reader, opts ...PutOption) (*Artifact, error)
	// Delete removes a single artifact
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every artifact under the given key prefix
	DeletePrefix(ctx context.Context, prefix string) error
	// Exists reports whether an artifact is stored under key
	Exists(ctx context.Context, key string) bool
	// List returns the artifacts directly under the given prefix
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL returns the public URL for an artifact
	URL(key string) string
}

// PutOption configures a single Put call
type PutOption func(*putOptions)

type putOptions struct {
	contentType string
}

// WithContentType sets the stored content type explicitly, skipping
// extension and content detection.
func WithContentType(ct string) PutOption {
	return func(o *putOptions) {
		if ct != "" {
			o.contentType = ct
		}
	}
}

// cleanKey normalizes a storage key and rejects anything that could escape
// the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	if strings.Contains(key, "\x00") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// cleanPrefix normalizes a listing/deletion prefix. An empty prefix is
// allowed and addresses the storage root.
func cleanPrefix(prefix string) (string, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", nil
	}
	cleaned, err := cleanKey(prefix)
	if err != nil {
		return "", err
	}
	return cleaned, nil
}

// resolveContentType picks the stored content type: an explicit option wins,
// then the key's extension, then detection from the stream's first bytes.
// The returned reader replays any bytes consumed by detection.
func resolveContentType(key string, r io.Reader, explicit string) (string, io.Reader, error) {
	if explicit != "" {
		return explicit, r, nil
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct, r, nil
	}

	// http.DetectContentType reads at most 512 bytes
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	return http.DetectContentType(buf[:n]), io.MultiReader(bytes.NewReader(buf[:n]), r), nil
}
