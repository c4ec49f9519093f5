// Package noop is a registry that knows nothing and records nothing. It lets
// the boot plane run in pure dispatch mode: every machine is treated as
// unknown and handled by the auto-registration path, or ignored when
// auto-registration is off.
package noop

import (
	"context"
	"fmt"

	"github.com/pureboot/pureboot/pkg/backend"
	"github.com/pureboot/pureboot/pkg/data"
)

// Backend implements the registry interfaces with not-found lookups and
// discarded writes.
type Backend struct{}

func (Backend) GetByID(_ context.Context, id string) (*data.Node, error) {
	return nil, fmt.Errorf("node %q: %w", id, backend.ErrNotFound)
}

func (Backend) GetByMAC(_ context.Context, mac string) (*data.Node, error) {
	return nil, fmt.Errorf("node with mac %q: %w", mac, backend.ErrNotFound)
}

func (Backend) GetBySerial(_ context.Context, serial string) (*data.Node, error) {
	return nil, fmt.Errorf("node with serial %q: %w", serial, backend.ErrNotFound)
}

func (Backend) Register(_ context.Context, _ *data.Node) error { return nil }

func (Backend) Update(_ context.Context, _ *data.Node) error { return nil }

func (Backend) Touch(_ context.Context, _, _ string) error { return nil }

func (Backend) List(_ context.Context) ([]*data.Node, error) { return nil, nil }

func (Backend) GetWorkflow(_ context.Context, id string) (*data.Workflow, error) {
	return nil, fmt.Errorf("workflow %q: %w", id, backend.ErrNotFound)
}

func (Backend) Append(_ context.Context, _ data.StateLogEntry) error { return nil }
