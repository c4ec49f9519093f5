package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/pkg/data"
	"github.com/stretchr/testify/require"
)

func TestAutoexec(t *testing.T) {
	got, err := Autoexec(Data{ServerURL: "http://192.168.2.1"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "#!ipxe"))
	require.Contains(t, got, "dhcp || goto retry")
	require.Contains(t, got, "chain --replace http://192.168.2.1/api/v1/ipxe/boot.ipxe")
}

func TestBoot(t *testing.T) {
	got, err := Boot(Data{ServerURL: "http://192.168.2.1"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "#!ipxe"))
	require.Contains(t, got, "chain --replace http://192.168.2.1/api/v1/boot?mac=${mac:hexhyp}")
	require.Contains(t, got, "sleep 5")
}

func TestRenderAction(t *testing.T) {
	d := Data{ServerURL: "http://192.168.2.1"}

	tests := map[string]struct {
		action data.BootAction
		want   []string
	}{
		"local boot": {
			action: data.BootAction{Kind: data.ActionLocalBoot},
			want:   []string{"#!ipxe", "exit"},
		},
		"install": {
			action: data.BootAction{
				Kind: data.ActionInstallIPXE,
				InstallIPXE: &data.InstallIPXE{
					KernelURL: "http://192.168.2.1/files/vmlinuz",
					InitrdURL: "http://192.168.2.1/files/initrd.img",
					Cmdline:   "console=tty1 pureboot.node_id=n1",
				},
			},
			want: []string{
				"#!ipxe",
				"kernel http://192.168.2.1/files/vmlinuz console=tty1 pureboot.node_id=n1",
				"initrd http://192.168.2.1/files/initrd.img",
				"boot",
			},
		},
		"pending retry": {
			action: data.BootAction{Kind: data.ActionPendingRetry, RetryAfter: 5},
			want:   []string{"#!ipxe", "sleep 5", "chain --replace http://192.168.2.1/api/v1/boot?mac=${mac:hexhyp}"},
		},
		"wait falls through to local boot": {
			action: data.BootAction{Kind: data.ActionWait},
			want:   []string{"#!ipxe", "exit"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := RenderAction(tc.action, d)
			require.NoError(t, err)
			for _, want := range tc.want {
				require.Contains(t, got, want)
			}
		})
	}
}

func TestRenderActionInstallMissingParams(t *testing.T) {
	_, err := RenderAction(data.BootAction{Kind: data.ActionInstallIPXE}, Data{ServerURL: "http://x"})
	require.Error(t, err)
}

func TestSyncerWritesOnlyOnChange(t *testing.T) {
	root := t.TempDir()
	s := &Syncer{
		Log:        logr.Discard(),
		TFTPRoot:   root,
		ScriptData: Data{ServerURL: "http://192.168.2.1"},
	}

	require.NoError(t, s.Sync(context.Background()))
	for _, rel := range []string{"autoexec.ipxe", "bios/boot.ipxe", "uefi/boot.ipxe"} {
		fi, err := os.Stat(filepath.Join(root, rel))
		require.NoError(t, err, rel)
		require.Positive(t, fi.Size(), rel)
	}

	before, err := os.Stat(filepath.Join(root, "autoexec.ipxe"))
	require.NoError(t, err)

	// Same content again: the file must not be rewritten.
	require.NoError(t, s.Sync(context.Background()))
	after, err := os.Stat(filepath.Join(root, "autoexec.ipxe"))
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())

	// A server IP change rewrites the scripts.
	s.ScriptData.ServerURL = "http://10.0.0.1"
	require.NoError(t, s.Sync(context.Background()))
	content, err := os.ReadFile(filepath.Join(root, "autoexec.ipxe"))
	require.NoError(t, err)
	require.Contains(t, string(content), "http://10.0.0.1")
}
