// Package lifecycle implements the node state machine: a table of admissible
// transitions, the bounded install retry policy, and the transition service
// that applies state changes and appends the audit log.
package lifecycle

import (
	"fmt"

	"github.com/pureboot/pureboot/pkg/data"
)

// MaxInstallAttempts bounds the install_failed -> pending retry loop. Once a
// node has failed this many installs it stays in install_failed until an
// operator forces it back to pending.
const MaxInstallAttempts = 3

// transitions is the base table of admissible (from, to) edges. Retirement of
// any non-retired node is an admin-override rule layered on top of this table
// by CanTransition, not an entry here.
var transitions = map[data.State][]data.State{
	data.StateDiscovered:     {data.StatePending, data.StateCloningTarget},
	data.StatePending:        {data.StateInstalling},
	data.StateInstalling:     {data.StateInstalled, data.StateInstallFailed},
	data.StateInstallFailed:  {data.StatePending},
	data.StateInstalled:      {data.StateActive, data.StateReprovision, data.StateRetired},
	data.StateActive:         {data.StateReprovision, data.StateDeprovisioning, data.StateMigrating, data.StateServingSource, data.StateCloningTarget},
	data.StateReprovision:    {data.StatePending},
	data.StateDeprovisioning: {data.StateRetired},
	data.StateMigrating:      {data.StateActive},
	data.StateServingSource:  {data.StateActive},
	data.StateCloningTarget:  {data.StateInstalled},
	data.StateRetired:        {},
}

// InvalidTransitionError is returned when a requested (from, to) pair is not in
// the admissible set.
type InvalidTransitionError struct {
	From data.State
	To   data.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// RetryBoundError is returned when install_failed -> pending is requested on a
// node that has exhausted its install attempts and force was not set.
type RetryBoundError struct {
	Attempts int
}

func (e *RetryBoundError) Error() string {
	return fmt.Sprintf("install retry cap reached (%d of %d attempts); retry requires force", e.Attempts, MaxInstallAttempts)
}

// CanTransition reports whether from -> to is admissible. Retirement is always
// admissible from any non-terminal state (admin override); retired is terminal.
func CanTransition(from, to data.State) bool {
	if from == data.StateRetired {
		return false
	}
	if to == data.StateRetired {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionsFrom returns the admissible target states for a given state,
// including the retirement overlay.
func TransitionsFrom(from data.State) []data.State {
	if from == data.StateRetired {
		return nil
	}
	out := append([]data.State{}, transitions[from]...)
	hasRetired := false
	for _, t := range out {
		if t == data.StateRetired {
			hasRetired = true
		}
	}
	if !hasRetired {
		out = append(out, data.StateRetired)
	}
	return out
}
