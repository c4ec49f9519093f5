// Package throttle rations egress bandwidth across concurrent file streams.
// Each stream registers with its total size; every allocation slice the
// throttler hands it a byte budget proportional to its priority, which favours
// small files and streams that are almost done so they finish and free their
// slot.
package throttle

import (
	"math"
	"sync"

	"github.com/pureboot/pureboot/boot/internal/metric"
)

const (
	// smallFileBytes is the size under which a transfer earns the
	// small-file bonus.
	smallFileBytes = 10 * 1024 * 1024
	// nearCompletionFraction is the progress point past which a transfer
	// earns the near-completion bonus.
	nearCompletionFraction = 0.8
	// minBandwidth is the per-transfer floor, 1 Mbps in bytes.
	minBandwidth = 125000
)

type transfer struct {
	totalBytes       int64
	transferredBytes int64
	priority         float64
}

// Throttler divides a configured total bandwidth between registered
// transfers. All state lives behind one mutex; allocations are cheap enough
// that recomputing priorities inline costs less than any cleverness would.
type Throttler struct {
	mu        sync.Mutex
	transfers map[string]*transfer

	// totalBandwidth is the egress budget in bytes per second.
	totalBandwidth int64
}

// NewThrottler returns a throttler with the given total bandwidth in bytes
// per second.
func NewThrottler(bytesPerSecond int64) *Throttler {
	return &Throttler{
		transfers:      make(map[string]*transfer),
		totalBandwidth: bytesPerSecond,
	}
}

// Register adds a transfer. Registering an id twice resets its progress.
func (t *Throttler) Register(id string, totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := &transfer{totalBytes: totalBytes}
	tr.priority = priorityOf(tr)
	t.transfers[id] = tr
	metric.ThrottleActiveTransfers.Set(float64(len(t.transfers)))
}

// Unregister removes a transfer. Unknown ids are a no-op.
func (t *Throttler) Unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.transfers, id)
	metric.ThrottleActiveTransfers.Set(float64(len(t.transfers)))
}

// RecordProgress adds sent bytes to a transfer and recomputes its priority.
func (t *Throttler) RecordProgress(id string, sent int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.transfers[id]
	if !ok {
		return
	}
	tr.transferredBytes += sent
	if tr.transferredBytes > tr.totalBytes {
		tr.transferredBytes = tr.totalBytes
	}
	tr.priority = priorityOf(tr)
}

// GetAllowedBytes returns the byte budget for a transfer over an interval of
// deltaSeconds. Unregistered transfers get nothing; registered ones get a
// priority-weighted share of the total, floored at 1 Mbps and capped by the
// bytes they have left.
func (t *Throttler) GetAllowedBytes(id string, deltaSeconds float64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.transfers[id]
	if !ok {
		return 0
	}

	var sum float64
	for _, other := range t.transfers {
		sum += other.priority
	}
	share := tr.priority / sum

	allowed := int64(math.Floor(float64(t.totalBandwidth) * deltaSeconds * share))
	if floor := int64(math.Floor(minBandwidth * deltaSeconds)); allowed < floor {
		allowed = floor
	}
	if remaining := tr.totalBytes - tr.transferredBytes; allowed > remaining {
		allowed = remaining
	}
	metric.ThrottleAllocatedBytes.Add(float64(allowed))
	return allowed
}

// ActiveTransferCount reports how many transfers are registered. The count is
// advisory; it may be stale by the time the caller looks at it.
func (t *Throttler) ActiveTransferCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.transfers)
}

func priorityOf(tr *transfer) float64 {
	p := 1.0
	if tr.totalBytes < smallFileBytes {
		p += 1 - float64(tr.totalBytes)/float64(smallFileBytes)
	}
	if tr.totalBytes > 0 {
		if progress := float64(tr.transferredBytes) / float64(tr.totalBytes); progress > nearCompletionFraction {
			p += (progress - nearCompletionFraction) / (1 - nearCompletionFraction)
		}
	}
	return p
}
