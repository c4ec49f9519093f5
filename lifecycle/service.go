package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/pkg/data"
)

// Registry is the slice of the node registry the lifecycle service needs.
type Registry interface {
	GetByID(ctx context.Context, id string) (*data.Node, error)
	Update(ctx context.Context, node *data.Node) error
}

// LogStore appends node state log entries. Entries are append-only; there is no
// read or delete path here.
type LogStore interface {
	Append(ctx context.Context, entry data.StateLogEntry) error
}

// Service validates and applies node state transitions. All transitions for a
// given node are serialised by a per-node mutex, so a write completes and its
// log entry is committed before any later transition on the same node starts.
type Service struct {
	Registry Registry
	Log      LogStore
	Logger   logr.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService returns a Service wired to the given registry and log store.
func NewService(reg Registry, log LogStore, logger logr.Logger) *Service {
	return &Service{
		Registry: reg,
		Log:      log,
		Logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// TransitionRequest carries everything about one requested state change.
type TransitionRequest struct {
	NodeID      string
	To          data.State
	TriggeredBy data.TriggeredBy
	UserID      string
	Comment     string
	Metadata    map[string]any
	// Force bypasses the install retry bound. A forced retry resets
	// install_attempts to zero and clears last_install_error.
	Force bool
}

func (s *Service) nodeLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Transition applies one state change. It validates the edge against the
// transition table, enforces the install retry bound, persists the node and
// appends the audit record. A failed log append bubbles to the caller; there is
// no rollback here, the caller's transaction boundary decides.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*data.Node, error) {
	lock := s.nodeLock(req.NodeID)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.Registry.GetByID(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}

	from := node.State
	if !CanTransition(from, req.To) {
		return nil, &InvalidTransitionError{From: from, To: req.To}
	}

	meta := map[string]any{}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	if from == data.StateInstallFailed && req.To == data.StatePending {
		if node.InstallAttempts >= MaxInstallAttempts && !req.Force {
			return nil, &RetryBoundError{Attempts: node.InstallAttempts}
		}
		if req.Force {
			node.InstallAttempts = 0
			node.LastInstallError = ""
			meta["forced"] = true
		}
	} else if req.Force {
		meta["forced"] = true
	}

	if req.To == data.StateInstalled {
		node.InstallAttempts = 0
		node.LastInstallError = ""
	}

	node.State = req.To
	node.StateChangedAt = time.Now().UTC()
	if err := s.Registry.Update(ctx, node); err != nil {
		return nil, fmt.Errorf("persisting node %s: %w", node.ID, err)
	}

	if len(meta) == 0 {
		meta = nil
	}
	entry := data.StateLogEntry{
		NodeID:      node.ID,
		FromState:   from,
		ToState:     req.To,
		TriggeredBy: req.TriggeredBy,
		UserID:      req.UserID,
		Comment:     req.Comment,
		Metadata:    meta,
		CreatedAt:   node.StateChangedAt,
	}
	if err := s.Log.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending state log for node %s: %w", node.ID, err)
	}

	s.Logger.Info("node state transition",
		"node", node.ID, "from", from.String(), "to", req.To.String(),
		"triggeredBy", string(req.TriggeredBy), "forced", req.Force)

	return node, nil
}

// ReportInstallFailed handles a failure report from a node in installing.
// Attempts are incremented; when the bound is reached the node transitions to
// install_failed and the error lands in the log entry metadata. Below the bound
// the node stays in installing and only a warning is logged, no transition
// record is written.
func (s *Service) ReportInstallFailed(ctx context.Context, nodeID, errMsg string) (*data.Node, error) {
	lock := s.nodeLock(nodeID)
	lock.Lock()

	node, err := s.Registry.GetByID(ctx, nodeID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if node.State != data.StateInstalling {
		lock.Unlock()
		return nil, &InvalidTransitionError{From: node.State, To: data.StateInstallFailed}
	}

	node.InstallAttempts++
	node.LastInstallError = errMsg
	attempts := node.InstallAttempts
	if err := s.Registry.Update(ctx, node); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("persisting node %s: %w", node.ID, err)
	}
	lock.Unlock()

	if attempts < MaxInstallAttempts {
		s.Logger.Info("install attempt failed, node will retry",
			"node", node.ID, "attempt", attempts, "maxAttempts", MaxInstallAttempts, "error", errMsg)
		return node, nil
	}

	return s.Transition(ctx, TransitionRequest{
		NodeID:      nodeID,
		To:          data.StateInstallFailed,
		TriggeredBy: data.TriggeredByNodeReport,
		Metadata:    map[string]any{"error": errMsg, "attempt": attempts},
	})
}

// ReportInstalled handles a success report from a node in installing.
func (s *Service) ReportInstalled(ctx context.Context, nodeID string) (*data.Node, error) {
	return s.Transition(ctx, TransitionRequest{
		NodeID:      nodeID,
		To:          data.StateInstalled,
		TriggeredBy: data.TriggeredByNodeReport,
	})
}
