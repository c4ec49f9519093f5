// Package memory is an in-memory node registry. It backs tests and small
// single-controller deployments where persistence is handled elsewhere.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pureboot/pureboot/pkg/backend"
	"github.com/pureboot/pureboot/pkg/data"
)

// Backend is a mutex-guarded map registry. The zero value is not usable; call
// New.
type Backend struct {
	mu        sync.RWMutex
	nodes     map[string]*data.Node
	byMAC     map[string]string
	bySerial  map[string]string
	workflows map[string]*data.Workflow
	stateLog  []data.StateLogEntry
}

// New returns an empty registry.
func New() *Backend {
	return &Backend{
		nodes:     make(map[string]*data.Node),
		byMAC:     make(map[string]string),
		bySerial:  make(map[string]string),
		workflows: make(map[string]*data.Workflow),
	}
}

func (b *Backend) GetByID(_ context.Context, id string) (*data.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, backend.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (b *Backend) GetByMAC(_ context.Context, mac string) (*data.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byMAC[mac]
	if !ok {
		return nil, fmt.Errorf("node with mac %q: %w", mac, backend.ErrNotFound)
	}
	cp := *b.nodes[id]
	return &cp, nil
}

func (b *Backend) GetBySerial(_ context.Context, serial string) (*data.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.bySerial[serial]
	if !ok {
		return nil, fmt.Errorf("node with serial %q: %w", serial, backend.ErrNotFound)
	}
	cp := *b.nodes[id]
	return &cp, nil
}

// Register creates a node. Duplicate MAC addresses and serial numbers are
// rejected with ErrConflict.
func (b *Backend) Register(_ context.Context, node *data.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[node.ID]; ok {
		return fmt.Errorf("node %q: %w", node.ID, backend.ErrConflict)
	}
	if node.MACAddress != "" {
		if _, ok := b.byMAC[node.MACAddress]; ok {
			return fmt.Errorf("mac %q: %w", node.MACAddress, backend.ErrConflict)
		}
	}
	if node.SerialNumber != "" {
		if _, ok := b.bySerial[node.SerialNumber]; ok {
			return fmt.Errorf("serial %q: %w", node.SerialNumber, backend.ErrConflict)
		}
	}
	cp := *node
	b.nodes[cp.ID] = &cp
	if cp.MACAddress != "" {
		b.byMAC[cp.MACAddress] = cp.ID
	}
	if cp.SerialNumber != "" {
		b.bySerial[cp.SerialNumber] = cp.ID
	}
	return nil
}

// Update replaces an existing node.
func (b *Backend) Update(_ context.Context, node *data.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.nodes[node.ID]
	if !ok {
		return fmt.Errorf("node %q: %w", node.ID, backend.ErrNotFound)
	}
	if old.MACAddress != node.MACAddress {
		delete(b.byMAC, old.MACAddress)
		if node.MACAddress != "" {
			b.byMAC[node.MACAddress] = node.ID
		}
	}
	if old.SerialNumber != node.SerialNumber {
		delete(b.bySerial, old.SerialNumber)
		if node.SerialNumber != "" {
			b.bySerial[node.SerialNumber] = node.ID
		}
	}
	cp := *node
	b.nodes[cp.ID] = &cp
	return nil
}

// Touch records that a node was seen, optionally updating its observed IP.
func (b *Backend) Touch(_ context.Context, id, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	if !ok {
		return fmt.Errorf("node %q: %w", id, backend.ErrNotFound)
	}
	n.LastSeenAt = time.Now().UTC()
	if ip != "" {
		n.IPAddress = ip
	}
	return nil
}

func (b *Backend) List(_ context.Context) ([]*data.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*data.Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Backend) GetWorkflow(_ context.Context, id string) (*data.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	w, ok := b.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, backend.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

// PutWorkflow stores a workflow definition. Workflows normally come from an
// external collaborator; this exists for wiring and tests.
func (b *Backend) PutWorkflow(_ context.Context, w *data.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *w
	b.workflows[cp.ID] = &cp
	return nil
}

// Workflows returns a copy of every stored workflow definition.
func (b *Backend) Workflows(_ context.Context) ([]*data.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*data.Workflow, 0, len(b.workflows))
	for _, w := range b.workflows {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// Append adds one state log entry. The log is append-only.
func (b *Backend) Append(_ context.Context, entry data.StateLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateLog = append(b.stateLog, entry)
	return nil
}

// StateLog returns a copy of the accumulated state log.
func (b *Backend) StateLog() []data.StateLogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]data.StateLogEntry{}, b.stateLog...)
}
