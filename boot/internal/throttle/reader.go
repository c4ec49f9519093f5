package throttle

import (
	"io"
	"sync"
	"time"
)

const (
	// chunkSize bounds how much a single Read emits regardless of budget.
	chunkSize = 256 * 1024
	// slicePause is the cooperative yield between allocation slices.
	slicePause = 10 * time.Millisecond
	// maxSliceSeconds clamps the interval credited to an idle stream so a
	// long stall does not bank a huge budget.
	maxSliceSeconds = 1.0
)

// Reader wraps a byte stream and paces it by the throttler's allocations.
// Close always unregisters the transfer, whatever state the stream is in.
type Reader struct {
	th  *Throttler
	id  string
	src io.ReadCloser

	lastSlice time.Time
	closeOnce sync.Once
	closeErr  error
}

// NewReader registers a transfer of totalBytes and returns the paced stream.
func NewReader(th *Throttler, id string, totalBytes int64, src io.ReadCloser) *Reader {
	th.Register(id, totalBytes)
	return &Reader{th: th, id: id, src: src, lastSlice: time.Now()}
}

func (r *Reader) Read(p []byte) (int, error) {
	delta := time.Since(r.lastSlice).Seconds()
	if delta < slicePause.Seconds() {
		delta = slicePause.Seconds()
	}
	if delta > maxSliceSeconds {
		delta = maxSliceSeconds
	}

	allowed := r.th.GetAllowedBytes(r.id, delta)
	if allowed <= 0 {
		// Either unregistered or the budget says the file is complete;
		// let the source report EOF or remaining bytes on its own terms.
		allowed = 1
	}
	limit := int64(len(p))
	if allowed < limit {
		limit = allowed
	}
	if limit > chunkSize {
		limit = chunkSize
	}

	n, err := r.src.Read(p[:limit])
	if n > 0 {
		r.th.RecordProgress(r.id, int64(n))
	}
	r.lastSlice = time.Now()
	if err == nil {
		time.Sleep(slicePause)
	}
	return n, err
}

// Close unregisters the transfer and closes the source. Unregistration is
// unconditional; a second Close is a no-op.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.th.Unregister(r.id)
		r.closeErr = r.src.Close()
	})
	return r.closeErr
}
