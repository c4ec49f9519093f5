package flag

import (
	"testing"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/stretchr/testify/require"
)

func TestRegisterBoolFlag(t *testing.T) {
	fs := &Set{FlagSet: ff.NewFlagSet("test")}
	var b bool
	fs.Register(Config{Name: "enabled", Usage: "turn it on"}, ffval.NewValueDefault(&b, b))

	// Bool flags take no argument.
	require.NoError(t, fs.Parse([]string{"--enabled"}))
	require.True(t, b)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	fs := &Set{FlagSet: ff.NewFlagSet("test")}
	var s string
	fs.Register(Config{Name: "name", Usage: "first"}, ffval.NewValueDefault(&s, s))
	require.Panics(t, func() {
		fs.Register(Config{Name: "name", Usage: "second"}, ffval.NewValueDefault(&s, s))
	})
}

func TestRegisterGlobalParses(t *testing.T) {
	fs := &Set{FlagSet: ff.NewFlagSet("test")}
	gc := &GlobalConfig{Backend: "memory"}
	RegisterGlobal(fs, gc)

	err := fs.Parse([]string{
		"--backend", "file",
		"--backend-file-path", "/etc/pureboot/registry.yaml",
		"--public-ipv4", "192.168.2.1",
		"--log-level", "2",
	})
	require.NoError(t, err)
	require.Equal(t, "file", gc.Backend)
	require.Equal(t, "/etc/pureboot/registry.yaml", gc.BackendFilePath)
	require.Equal(t, "192.168.2.1", gc.PublicIP.String())
	require.Equal(t, 2, gc.LogLevel)
}
