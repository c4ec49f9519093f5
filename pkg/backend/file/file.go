// Package file is a YAML-file backed node registry. The file is read at
// startup and watched with fsnotify so that out-of-band edits are picked up
// without a restart, matching how small sites manage their inventory by hand.
// Mutations made through the registry are written back atomically.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/pkg/backend/memory"
	"github.com/pureboot/pureboot/pkg/data"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of the registry file.
type document struct {
	Nodes     []*data.Node     `yaml:"nodes"`
	Workflows []*data.Workflow `yaml:"workflows"`
}

// Backend persists nodes and workflows in one YAML file and state log entries
// in a JSON-lines sidecar next to it. Reads are served from an in-memory
// registry that is replaced wholesale on reload.
type Backend struct {
	Log logr.Logger

	path    string
	logPath string

	mu  sync.RWMutex
	mem *memory.Backend
}

// NewBackend loads the registry file and starts watching it. The watch stops
// when ctx is cancelled.
func NewBackend(ctx context.Context, log logr.Logger, path string) (*Backend, error) {
	b := &Backend{
		Log:     log,
		path:    path,
		logPath: path + ".statelog",
	}
	if err := b.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename which
	// drops a file-level watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %q: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := b.reload(); err != nil {
					log.Error(err, "reloading registry file", "path", path)
					continue
				}
				log.Info("registry file reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "registry file watcher")
			}
		}
	}()

	return b, nil
}

func (b *Backend) reload() error {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("reading registry file %q: %w", b.path, err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing registry file %q: %w", b.path, err)
	}

	mem := memory.New()
	for _, n := range doc.Nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if err := mem.Register(context.Background(), n); err != nil {
			return err
		}
	}
	for _, w := range doc.Workflows {
		if err := w.Validate(); err != nil {
			return err
		}
		if err := mem.PutWorkflow(context.Background(), w); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.mem = mem
	b.mu.Unlock()
	return nil
}

func (b *Backend) snapshot() *memory.Backend {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mem
}

// persist writes the current registry content back to disk, write-and-rename.
func (b *Backend) persist(ctx context.Context) error {
	mem := b.snapshot()
	nodes, err := mem.List(ctx)
	if err != nil {
		return err
	}
	workflows, err := mem.Workflows(ctx)
	if err != nil {
		return err
	}
	doc := document{Nodes: nodes, Workflows: workflows}
	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing registry file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("renaming registry file: %w", err)
	}
	return nil
}

func (b *Backend) GetByID(ctx context.Context, id string) (*data.Node, error) {
	return b.snapshot().GetByID(ctx, id)
}

func (b *Backend) GetByMAC(ctx context.Context, mac string) (*data.Node, error) {
	return b.snapshot().GetByMAC(ctx, mac)
}

func (b *Backend) GetBySerial(ctx context.Context, serial string) (*data.Node, error) {
	return b.snapshot().GetBySerial(ctx, serial)
}

func (b *Backend) Register(ctx context.Context, node *data.Node) error {
	if err := b.snapshot().Register(ctx, node); err != nil {
		return err
	}
	return b.persist(ctx)
}

func (b *Backend) Update(ctx context.Context, node *data.Node) error {
	if err := b.snapshot().Update(ctx, node); err != nil {
		return err
	}
	return b.persist(ctx)
}

func (b *Backend) Touch(ctx context.Context, id, ip string) error {
	// last_seen churn is not worth an fsync per packet; it lands on the next
	// persisted mutation.
	return b.snapshot().Touch(ctx, id, ip)
}

func (b *Backend) List(ctx context.Context) ([]*data.Node, error) {
	return b.snapshot().List(ctx)
}

func (b *Backend) GetWorkflow(ctx context.Context, id string) (*data.Workflow, error) {
	return b.snapshot().GetWorkflow(ctx, id)
}

// Append writes one state log entry as a JSON line. The sidecar is append-only.
func (b *Backend) Append(ctx context.Context, entry data.StateLogEntry) error {
	if err := b.snapshot().Append(ctx, entry); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling state log entry: %w", err)
	}
	f, err := os.OpenFile(b.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening state log %q: %w", b.logPath, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("appending state log: %w", err)
	}
	return nil
}
