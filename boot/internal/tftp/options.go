package tftp

import (
	"strconv"
	"time"
)

const (
	// defaultBlockSize is the RFC 1350 block size used when the client offers
	// no blksize option.
	defaultBlockSize = 512
	// minBlockSize and maxBlockSize bound the RFC 2348 blksize option.
	minBlockSize = 8
	maxBlockSize = 65464

	defaultTimeout = 5 * time.Second
	// maxRetransmits bounds per-block retransmission before the transfer is
	// abandoned with an ERROR.
	maxRetransmits = 5
)

// negotiated holds the per-transfer parameters after option processing.
type negotiated struct {
	blockSize int
	timeout   time.Duration
	// accepted are the options echoed in the OACK, in the client's order.
	// Empty means the client offered nothing and no OACK is sent.
	accepted []requestOption
}

// negotiate applies RFC 2347 option processing for a read of size fileSize.
// Unknown options are ignored, out-of-range values are clamped, tsize is
// answered with the real file size.
func negotiate(opts []requestOption, fileSize int64) negotiated {
	n := negotiated{blockSize: defaultBlockSize, timeout: defaultTimeout}

	for _, o := range opts {
		switch o.name {
		case "blksize":
			size, err := strconv.Atoi(o.value)
			if err != nil || size < minBlockSize {
				continue
			}
			if size > maxBlockSize {
				size = maxBlockSize
			}
			n.blockSize = size
			n.accepted = append(n.accepted, requestOption{name: "blksize", value: strconv.Itoa(size)})
		case "timeout":
			secs, err := strconv.Atoi(o.value)
			if err != nil || secs < 1 || secs > 255 {
				continue
			}
			n.timeout = time.Duration(secs) * time.Second
			n.accepted = append(n.accepted, requestOption{name: "timeout", value: strconv.Itoa(secs)})
		case "tsize":
			// On RRQ the client sends tsize=0 and the server answers with the
			// actual size.
			n.accepted = append(n.accepted, requestOption{name: "tsize", value: strconv.FormatInt(fileSize, 10)})
		}
	}

	return n
}
