package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/boot/internal/metric"
)

// transferState tracks where a transfer is in its lifecycle.
type transferState int

const (
	stateWaitRequest transferState = iota
	stateWaitOackAck
	stateSending
	stateClosed
)

// transfer is one read transfer on its own ephemeral UDP socket (the TID).
// Concurrent transfers share nothing.
type transfer struct {
	log     logr.Logger
	conn    *net.UDPConn
	src     io.Reader
	neg     negotiated
	retries int

	state transferState
	block uint16
}

// run drives the transfer to completion. The source reader and the socket are
// closed before return on every path.
func (t *transfer) run(ctx context.Context) error {
	defer func() {
		t.state = stateClosed
		_ = t.conn.Close()
		if c, ok := t.src.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	// Cancellation unblocks the socket reads below.
	stop := context.AfterFunc(ctx, func() { _ = t.conn.Close() })
	defer stop()

	if len(t.neg.accepted) > 0 {
		// RFC 2347: OACK first, then wait for the client's ACK of block 0
		// before any DATA moves.
		t.state = stateWaitOackAck
		if err := t.sendAndAwaitAck(packOACK(t.neg.accepted), 0); err != nil {
			t.abort(ErrCodeUndefined, "option negotiation failed")
			return fmt.Errorf("awaiting OACK ack: %w", err)
		}
	}

	t.state = stateSending
	buf := make([]byte, t.neg.blockSize)
	for {
		n, err := io.ReadFull(t.src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.abort(ErrCodeUndefined, "read failed")
			return fmt.Errorf("reading source: %w", err)
		}

		// Block numbers wrap modulo 2^16 for files over 65535 blocks.
		t.block++
		if err := t.sendAndAwaitAck(packDATA(t.block, buf[:n]), t.block); err != nil {
			t.abort(ErrCodeUndefined, "timeout waiting for ACK")
			return fmt.Errorf("block %d: %w", t.block, err)
		}
		metric.TFTPBytesSent.Add(float64(n))

		// The final DATA is shorter than the block size, possibly empty.
		if n < t.neg.blockSize {
			return nil
		}
	}
}

// sendAndAwaitAck sends pkt and waits for an ACK carrying block, retransmitting
// up to the retry bound on timeout. Stale ACKs for earlier blocks are ignored.
func (t *transfer) sendAndAwaitAck(pkt []byte, block uint16) error {
	rbuf := make([]byte, 1024)
	for attempt := 0; attempt <= t.retries; attempt++ {
		if _, err := t.conn.Write(pkt); err != nil {
			return fmt.Errorf("sending packet: %w", err)
		}

		deadline := time.Now().Add(t.neg.timeout)
		for {
			if err := t.conn.SetReadDeadline(deadline); err != nil {
				return err
			}
			n, err := t.conn.Read(rbuf)
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					break // retransmit
				}
				return err
			}
			got, err := parseAck(rbuf[:n])
			if err != nil {
				return err
			}
			if got == block {
				return nil
			}
			// A duplicate ACK for an older block; keep waiting within the
			// same deadline (Sorcerer's Apprentice avoidance).
		}
	}

	return fmt.Errorf("no ACK for block %d after %d attempts", block, t.retries+1)
}

// abort sends a best-effort ERROR to the client.
func (t *transfer) abort(code uint16, msg string) {
	metric.TFTPErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := t.conn.Write(packERROR(code, msg)); err != nil {
		t.log.V(1).Info("failed sending TFTP error", "err", err)
	}
}

// errToCode maps handler errors to TFTP error codes.
func errToCode(err error) uint16 {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ErrCodeFileNotFound
	case errors.Is(err, ErrAccessViolation), errors.Is(err, os.ErrPermission):
		return ErrCodeAccessViolation
	default:
		return ErrCodeUndefined
	}
}
