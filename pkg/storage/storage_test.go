package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestLocalOpen(t *testing.T) {
	root := t.TempDir()
	payload := []byte("vmlinuz contents")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "images", "vmlinuz"), payload, 0o644))

	l := NewLocal(root)
	h, err := l.Open(context.Background(), "images/vmlinuz")
	require.NoError(t, err)
	defer h.Content.Close()

	require.EqualValues(t, len(payload), h.Size)
	wantSum := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(wantSum[:]), h.SHA256)

	got, err := io.ReadAll(h.Content)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestLocalOpenNotFound(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Open(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalOpenRejectsEscape(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside"), []byte("x"), 0o644))

	l := NewLocal(filepath.Join(root, "sub"))
	require.NoError(t, os.MkdirAll(l.Root, 0o755))
	_, err := l.Open(context.Background(), "../inside")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDigestCache(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "img")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	l := NewLocal(root)
	h1, err := l.Open(context.Background(), "img")
	require.NoError(t, err)
	h1.Content.Close()

	// Rewrite with a different mtime; the digest must follow the content.
	require.NoError(t, os.WriteFile(path, []byte("two"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	h2, err := l.Open(context.Background(), "img")
	require.NoError(t, err)
	h2.Content.Close()
	require.NotEqual(t, h1.SHA256, h2.SHA256)
}

func TestHTTPOpen(t *testing.T) {
	payload := []byte("initrd contents")
	sum := sha256.Sum256(payload)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/initrd.img":
			w.Header().Set("X-Checksum-SHA256", hex.EncodeToString(sum[:]))
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	handle, err := h.Open(context.Background(), "images/initrd.img")
	require.NoError(t, err)
	defer handle.Content.Close()

	require.EqualValues(t, len(payload), handle.Size)
	require.Equal(t, hex.EncodeToString(sum[:]), handle.SHA256)

	_, err = h.Open(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDigestFromHeaders(t *testing.T) {
	sum := "4ca7134a9a4dcbf2ccbfcbb8b7a6f102ad2183fc4d913500ab5977bbbf27299c"

	tests := map[string]struct {
		hdr  http.Header
		want string
	}{
		"checksum header": {hdr: http.Header{"X-Checksum-Sha256": {sum}}, want: sum},
		"sha256 etag":     {hdr: http.Header{"Etag": {`"` + sum + `"`}}, want: sum},
		"md5 etag":        {hdr: http.Header{"Etag": {`"d41d8cd98f00b204e9800998ecf8427e"`}}, want: ""},
		"nothing":         {hdr: http.Header{}, want: ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, digestFromHeaders(tc.hdr))
		})
	}
}

func TestWaitReady(t *testing.T) {
	l := NewLocal(t.TempDir())
	require.NoError(t, WaitReady(context.Background(), logr.Discard(), l, time.Second))

	missing := NewLocal(filepath.Join(t.TempDir(), "never"))
	require.Error(t, WaitReady(context.Background(), logr.Discard(), missing, 50*time.Millisecond))
}
