package lifecycle

import (
	"testing"

	"github.com/pureboot/pureboot/pkg/data"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := map[string]struct {
		from data.State
		to   data.State
		want bool
	}{
		"discovered to pending":         {data.StateDiscovered, data.StatePending, true},
		"pending to installing":         {data.StatePending, data.StateInstalling, true},
		"installing to installed":       {data.StateInstalling, data.StateInstalled, true},
		"installing to install_failed":  {data.StateInstalling, data.StateInstallFailed, true},
		"install_failed to pending":     {data.StateInstallFailed, data.StatePending, true},
		"installed to active":           {data.StateInstalled, data.StateActive, true},
		"active to reprovision":         {data.StateActive, data.StateReprovision, true},
		"active to migrating":           {data.StateActive, data.StateMigrating, true},
		"migrating to active":           {data.StateMigrating, data.StateActive, true},
		"serving_source to active":      {data.StateServingSource, data.StateActive, true},
		"cloning_target to installed":   {data.StateCloningTarget, data.StateInstalled, true},
		"reprovision to pending":        {data.StateReprovision, data.StatePending, true},
		"deprovisioning to retired":     {data.StateDeprovisioning, data.StateRetired, true},
		"discovered to installing":      {data.StateDiscovered, data.StateInstalling, false},
		"pending to installed":          {data.StatePending, data.StateInstalled, false},
		"installed to pending":          {data.StateInstalled, data.StatePending, false},
		"active to installing":          {data.StateActive, data.StateInstalling, false},
		"install_failed to installing":  {data.StateInstallFailed, data.StateInstalling, false},
		"retirement from discovered":    {data.StateDiscovered, data.StateRetired, true},
		"retirement from pending":       {data.StatePending, data.StateRetired, true},
		"retirement from active":        {data.StateActive, data.StateRetired, true},
		"retirement from installing":    {data.StateInstalling, data.StateRetired, true},
		"retired is terminal":           {data.StateRetired, data.StatePending, false},
		"retired to retired is invalid": {data.StateRetired, data.StateRetired, false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionsFrom(t *testing.T) {
	got := TransitionsFrom(data.StatePending)
	require.ElementsMatch(t, []data.State{data.StateInstalling, data.StateRetired}, got)

	// installed already lists retired; the overlay must not duplicate it.
	got = TransitionsFrom(data.StateInstalled)
	require.ElementsMatch(t, []data.State{data.StateActive, data.StateReprovision, data.StateRetired}, got)

	require.Nil(t, TransitionsFrom(data.StateRetired))
}
