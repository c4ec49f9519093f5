package pi

import (
	"strings"
	"testing"

	"github.com/pureboot/pureboot/pkg/data"
	"github.com/stretchr/testify/require"
)

func TestCmdline(t *testing.T) {
	tests := map[string]struct {
		params      CmdlineParams
		want        []string
		wantAbsent  []string
		wantExactly string
	}{
		"discovered default root": {
			params: CmdlineParams{Serial: "d83add36", State: data.StateDiscovered},
			wantExactly: "console=serial0,115200 console=tty1 ip=dhcp " +
				"pureboot.serial=d83add36 pureboot.state=discovered " +
				"root=/dev/ram0 rootfstype=ramfs quiet loglevel=4\n",
		},
		"server url included when configured": {
			params: CmdlineParams{Serial: "d83add36", State: data.StatePending, ServerURL: "http://192.168.2.1"},
			want:   []string{"pureboot.url=http://192.168.2.1"},
		},
		"installing with image workflow": {
			params: CmdlineParams{
				Serial:      "d83add36",
				State:       data.StateInstalling,
				ServerURL:   "http://srv",
				NodeID:      "n1",
				MAC:         "b8:27:eb:00:00:01",
				CallbackURL: "http://srv/api/v1/nodes/n1/installed",
				Workflow: &data.Workflow{
					InstallMethod: data.InstallMethodImage,
					ImageURL:      "http://srv/img.xz",
					TargetDevice:  "/dev/mmcblk0",
				},
			},
			want: []string{
				"pureboot.mode=install",
				"pureboot.image_url=http://srv/img.xz",
				"pureboot.target=/dev/mmcblk0",
				"pureboot.node_id=n1",
				"pureboot.mac=b8:27:eb:00:00:01",
				"pureboot.callback=http://srv/api/v1/nodes/n1/installed",
				"root=/dev/ram0",
				"rootfstype=ramfs",
			},
		},
		"nfs workflow": {
			params: CmdlineParams{
				Serial: "d83add36",
				State:  data.StateActive,
				Workflow: &data.Workflow{
					InstallMethod: data.InstallMethodNFS,
					NFSServer:     "192.168.2.1",
					NFSPath:       "/export/pi",
				},
			},
			want:       []string{"root=/dev/nfs", "nfsroot=192.168.2.1:/export/pi,vers=4,tcp", "rw"},
			wantAbsent: []string{"root=/dev/ram0"},
		},
		"installing without image url falls back to ram root": {
			params: CmdlineParams{
				Serial:   "d83add36",
				State:    data.StateInstalling,
				Workflow: &data.Workflow{InstallMethod: data.InstallMethodImage},
			},
			want:       []string{"root=/dev/ram0"},
			wantAbsent: []string{"pureboot.mode=install"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := Cmdline(tc.params)
			require.True(t, strings.HasSuffix(got, "quiet loglevel=4\n"), "missing terminator: %q", got)
			require.Equal(t, 1, strings.Count(got, "\n"), "must be a single line")
			if tc.wantExactly != "" {
				require.Equal(t, tc.wantExactly, got)
			}
			for _, w := range tc.want {
				require.Contains(t, got, w)
			}
			for _, w := range tc.wantAbsent {
				require.NotContains(t, got, w)
			}
		})
	}
}

func TestDiscoveryCmdline(t *testing.T) {
	got := DiscoveryCmdline("http://192.168.2.1")
	require.Contains(t, got, "pureboot.mode=discovery")
	require.Contains(t, got, "pureboot.state=discovered")
	require.Contains(t, got, "pureboot.url=http://192.168.2.1")
	require.True(t, strings.HasSuffix(got, "quiet loglevel=4\n"))
}

func TestNormalizeSerial(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"valid":           {in: "d83add36", want: "d83add36"},
		"uppercase":       {in: "D83ADD36", want: "d83add36"},
		"whitespace":      {in: " d83add36\n", want: "d83add36"},
		"too short":       {in: "d83add3", wantErr: true},
		"too long":        {in: "d83add360", wantErr: true},
		"non hex":         {in: "d83addzz", wantErr: true},
		"path traversal":  {in: "../../etc", wantErr: true},
		"empty":           {in: "", wantErr: true},
		"embedded slash":  {in: "d83a/d36", wantErr: true},
		"null byte trick": {in: "d83add3\x00", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NormalizeSerial(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
