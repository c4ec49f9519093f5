// Package tftp is a wire-level TFTP server: RFC 1350 base protocol, RFC 2347
// option negotiation, RFC 2348 blksize. Read-only; every write request is
// rejected. Requests are routed to handlers through a regex ServeMux.
package tftp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	opRRQ   = uint16(1) // read request
	opWRQ   = uint16(2) // write request
	opDATA  = uint16(3) // data
	opACK   = uint16(4) // acknowledgement
	opERROR = uint16(5) // error
	opOACK  = uint16(6) // option acknowledgment
)

const (
	ErrCodeUndefined       = uint16(0) // not defined, see error message
	ErrCodeFileNotFound    = uint16(1) // file not found
	ErrCodeAccessViolation = uint16(2) // access violation
	ErrCodeIllegalOp       = uint16(4) // illegal TFTP operation
	ErrCodeUnknownTID      = uint16(5) // unknown transfer ID
	ErrCodeBadOptions      = uint16(8) // bad options
)

// request is a parsed RRQ or WRQ.
type request struct {
	op       uint16
	filename string
	mode     string
	// opts preserves the client's option order so the OACK enumerates
	// accepted options in the order they were offered.
	opts []requestOption
}

type requestOption struct {
	name  string
	value string
}

// parseRequest decodes an RRQ or WRQ datagram.
func parseRequest(b []byte) (*request, error) {
	if len(b) < 4 {
		return nil, errors.New("request too short")
	}
	op := binary.BigEndian.Uint16(b[:2])
	if op != opRRQ && op != opWRQ {
		return nil, fmt.Errorf("opcode %d is not a request", op)
	}

	rest := b[2:]
	filename, rest, err := netasciiString(rest)
	if err != nil {
		return nil, fmt.Errorf("reading filename: %w", err)
	}
	mode, rest, err := netasciiString(rest)
	if err != nil {
		return nil, fmt.Errorf("reading mode: %w", err)
	}

	req := &request{op: op, filename: filename, mode: strings.ToLower(mode)}
	for len(rest) > 0 {
		name, r, err := netasciiString(rest)
		if err != nil {
			return nil, fmt.Errorf("reading option name: %w", err)
		}
		value, r, err := netasciiString(r)
		if err != nil {
			return nil, fmt.Errorf("reading option %q value: %w", name, err)
		}
		req.opts = append(req.opts, requestOption{name: strings.ToLower(name), value: value})
		rest = r
	}

	return req, nil
}

// netasciiString reads one NUL-terminated printable string from bs.
func netasciiString(bs []byte) (string, []byte, error) {
	for i, b := range bs {
		if b == 0 {
			return string(bs[:i]), bs[i+1:], nil
		} else if b < 0x20 || b > 0x7e {
			return "", nil, fmt.Errorf("invalid netascii byte %q at offset %d", b, i)
		}
	}
	return "", nil, errors.New("no null terminated string found")
}

// packDATA builds a DATA packet. payload may be empty for the zero-length
// final block.
func packDATA(block uint16, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(b[:2], opDATA)
	binary.BigEndian.PutUint16(b[2:4], block)
	copy(b[4:], payload)
	return b
}

// packERROR builds an ERROR packet.
func packERROR(code uint16, msg string) []byte {
	var b bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[:2], opERROR)
	binary.BigEndian.PutUint16(hdr[2:4], code)
	b.Write(hdr[:])
	b.WriteString(msg)
	b.WriteByte(0)
	return b.Bytes()
}

// packOACK builds an OACK enumerating the accepted options in order.
func packOACK(opts []requestOption) []byte {
	var b bytes.Buffer
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], opOACK)
	b.Write(hdr[:])
	for _, o := range opts {
		b.WriteString(o.name)
		b.WriteByte(0)
		b.WriteString(o.value)
		b.WriteByte(0)
	}
	return b.Bytes()
}

// parseAck decodes an ACK or ERROR sent by the client mid-transfer. A client
// ERROR is surfaced as a non-nil error with its message.
func parseAck(b []byte) (uint16, error) {
	if len(b) < 4 {
		return 0, errors.New("packet too short")
	}
	switch op := binary.BigEndian.Uint16(b[:2]); op {
	case opACK:
		return binary.BigEndian.Uint16(b[2:4]), nil
	case opERROR:
		code := binary.BigEndian.Uint16(b[2:4])
		msg, _, _ := netasciiString(b[4:])
		return 0, fmt.Errorf("client error %d: %s", code, msg)
	default:
		return 0, fmt.Errorf("unexpected opcode %d, want ACK", op)
	}
}
