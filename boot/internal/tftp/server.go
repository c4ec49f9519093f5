package tftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/boot/internal/metric"
)

// Server is a read-only TFTP server. Each accepted RRQ runs on its own
// goroutine with its own ephemeral UDP socket.
type Server struct {
	// Log is used to log messages. logr.Discard() can be used if no logging
	// is desired.
	Log logr.Logger

	// Handler resolves filenames, typically a *ServeMux.
	Handler Handler

	// Timeout is the per-block ACK timeout when the client negotiates none.
	Timeout time.Duration

	// Retries bounds per-block retransmission. Zero means the default of 5.
	Retries int
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr netip.AddrPort) error {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return fmt.Errorf("binding TFTP listener %s: %w", addr, err)
	}

	return s.Serve(ctx, conn)
}

// Serve reads requests off conn until ctx is cancelled or the socket fails.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	s.Log.Info("tftp server listening", "addr", conn.LocalAddr())

	buf := make([]byte, 65536)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("reading TFTP request: %w", err)
		}

		req, err := parseRequest(buf[:n])
		if err != nil {
			// Mid-transfer packets landing on the request socket have an
			// unknown TID by definition.
			s.replyError(conn, peer, ErrCodeUnknownTID, "not a request")
			continue
		}
		if req.op == opWRQ {
			s.Log.V(1).Info("rejecting write request", "peer", peer, "filename", req.filename)
			s.replyError(conn, peer, ErrCodeAccessViolation, "writes are not permitted")
			continue
		}
		if req.mode != "octet" {
			s.replyError(conn, peer, ErrCodeIllegalOp, "only octet mode is supported")
			continue
		}

		go s.handleRead(ctx, peer, req)
	}
}

// handleRead serves one RRQ on a fresh socket.
func (s *Server) handleRead(ctx context.Context, peer *net.UDPAddr, req *request) {
	log := s.Log.WithValues("peer", peer.String(), "filename", req.filename)

	// A fresh ephemeral port is this transfer's TID.
	conn, err := net.DialUDP("udp", nil, peer)
	if err != nil {
		log.Error(err, "failed to open transfer socket")
		return
	}

	src, size, err := s.Handler.OpenFile(strings.TrimPrefix(req.filename, "/"))
	if err != nil {
		code := errToCode(err)
		log.V(1).Info("tftp open failed", "code", code, "err", err.Error())
		metric.TFTPErrors.WithLabelValues(fmt.Sprint(code)).Inc()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = conn.Write(packERROR(code, err.Error()))
		_ = conn.Close()
		return
	}

	neg := negotiate(req.opts, size)
	if s.Timeout > 0 && neg.timeout == defaultTimeout {
		neg.timeout = s.Timeout
	}
	retries := s.Retries
	if retries <= 0 {
		retries = maxRetransmits
	}

	metric.TFTPTransfersStarted.Inc()
	log.Info("tftp transfer starting", "size", size, "blksize", neg.blockSize)

	t := &transfer{
		log:     log,
		conn:    conn,
		src:     src,
		neg:     neg,
		retries: retries,
	}
	start := time.Now()
	if err := t.run(ctx); err != nil {
		log.V(1).Info("tftp transfer failed", "err", err.Error())
		return
	}
	log.Info("tftp transfer complete", "duration", time.Since(start).String())
}

func (s *Server) replyError(conn *net.UDPConn, peer *net.UDPAddr, code uint16, msg string) {
	metric.TFTPErrors.WithLabelValues(fmt.Sprint(code)).Inc()
	if _, err := conn.WriteToUDP(packERROR(code, msg), peer); err != nil {
		s.Log.V(1).Info("failed sending TFTP error", "err", err)
	}
}

// RootHandler serves files from a rooted directory tree. Requests resolving
// outside the root after symlink resolution are access violations, unless
// the target lands inside one of the Allow roots. Pi node trees link shared
// firmware and deploy files from sibling directories.
type RootHandler struct {
	Root  string
	Allow []string
}

func (h RootHandler) OpenFile(filename string) (io.ReadCloser, int64, error) {
	path, err := SecureJoin(h.Root, filename, h.Allow...)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, 0, ErrNotFound
	}

	return f, fi.Size(), nil
}

// SecureJoin joins filename onto root and verifies the result stays inside
// root, or inside one of the allow roots, after symlink resolution. Escapes
// return ErrAccessViolation.
func SecureJoin(root, filename string, allow ...string) (string, error) {
	cleaned := filepath.Clean("/" + filename)
	path := filepath.Join(root, cleaned)

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}

	// Resolve the deepest existing ancestor so a dangling final element
	// still gets its directory checked.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		dirResolved, dirErr := filepath.EvalSymlinks(filepath.Dir(path))
		if dirErr != nil {
			return "", ErrNotFound
		}
		resolved = filepath.Join(dirResolved, filepath.Base(path))
	}

	if within(resolved, rootResolved) {
		return resolved, nil
	}
	for _, a := range allow {
		aResolved, err := filepath.EvalSymlinks(a)
		if err != nil {
			continue
		}
		if within(resolved, aResolved) {
			return resolved, nil
		}
	}

	return "", ErrAccessViolation
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
