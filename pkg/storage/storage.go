// Package storage abstracts where install artifacts (kernels, initramfs
// images, OS images) live. The HTTP file endpoint streams whatever a Store
// hands it, so a site can keep artifacts on local disk, behind an HTTP
// mirror, or in an S3 bucket without the boot plane caring.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
)

// ErrNotFound reports a path the store does not hold.
var ErrNotFound = fmt.Errorf("artifact not found")

// Handle is an open artifact. SHA256 is the lowercase hex digest when the
// origin can provide one cheaply, empty otherwise; callers omit checksum
// headers when it is empty.
type Handle struct {
	Content io.ReadCloser
	Size    int64
	SHA256  string
}

// Store serves install artifacts by relative path.
type Store interface {
	// Open returns the artifact at path. Unknown paths return ErrNotFound.
	Open(ctx context.Context, path string) (*Handle, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// WaitReady pings the store with exponential backoff until it answers or the
// deadline passes. Called once at startup so a slow artifact origin delays
// boot rather than failing it.
func WaitReady(ctx context.Context, log logr.Logger, s Store, maxWait time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := s.Ping(ctx); err != nil {
			log.Info("artifact store not ready, retrying", "err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
	)
	return err
}

type digestEntry struct {
	modTime time.Time
	size    int64
	sum     string
}

// Local serves artifacts from a directory tree. Digests are computed on first
// open and cached until the file's size or mtime changes.
type Local struct {
	// Root is the artifact directory.
	Root string

	mu      sync.Mutex
	digests map[string]digestEntry
}

// NewLocal returns a Local store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Root: dir, digests: make(map[string]digestEntry)}
}

func (l *Local) Open(_ context.Context, path string) (*Handle, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(full)
	if err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	sum, err := l.digest(full, fi)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &Handle{Content: f, Size: fi.Size(), SHA256: sum}, nil
}

func (l *Local) Ping(context.Context) error {
	fi, err := os.Stat(l.Root)
	if err != nil {
		return fmt.Errorf("artifact root %s: %w", l.Root, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("artifact root %s is not a directory", l.Root)
	}
	return nil
}

// resolve joins path under Root and rejects escapes.
func (l *Local) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(l.Root, cleaned)
	if full != l.Root && !strings.HasPrefix(full, l.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return full, nil
}

func (l *Local) digest(full string, fi os.FileInfo) (string, error) {
	l.mu.Lock()
	if e, ok := l.digests[full]; ok && e.modTime.Equal(fi.ModTime()) && e.size == fi.Size() {
		l.mu.Unlock()
		return e.sum, nil
	}
	l.mu.Unlock()

	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", full, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	l.mu.Lock()
	l.digests[full] = digestEntry{modTime: fi.ModTime(), size: fi.Size(), sum: sum}
	l.mu.Unlock()
	return sum, nil
}
