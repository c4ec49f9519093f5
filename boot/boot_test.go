package boot

import (
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pureboot/pureboot/boot/internal/dhcp/handler/proxy"
	"github.com/pureboot/pureboot/boot/internal/pi"
	"github.com/pureboot/pureboot/boot/internal/tftp"
	"github.com/pureboot/pureboot/pkg/data"
	"github.com/stretchr/testify/require"
)

func testPiManager(t *testing.T) *pi.Manager {
	t.Helper()
	root := t.TempDir()
	firmware := filepath.Join(root, "firmware")
	deploy := filepath.Join(root, "deploy")
	require.NoError(t, os.MkdirAll(firmware, 0o755))
	require.NoError(t, os.MkdirAll(deploy, 0o755))

	for _, f := range []string{"start4.elf", "fixup4.dat", "bcm2711-rpi-4-b.dtb"} {
		require.NoError(t, os.WriteFile(filepath.Join(firmware, f), []byte(f), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "kernel8.img"), []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "initramfs.img"), []byte("initramfs"), 0o644))

	return &pi.Manager{
		Log:         logr.Discard(),
		NodesDir:    filepath.Join(root, "nodes"),
		FirmwareDir: firmware,
		DeployDir:   deploy,
		ServerURL:   "http://192.168.2.1",
	}
}

func readAll(t *testing.T, h tftp.HandlerFunc, filename string) string {
	t.Helper()
	rc, _, err := h(filename)
	require.NoError(t, err, filename)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(body)
}

// A node tree is mostly symlinks into the shared firmware and deploy
// directories; serving must follow them even though they leave the per-node
// root.
func TestPiNodeHandlerServesLinkedFirmware(t *testing.T) {
	m := testPiManager(t)
	n := &data.Node{
		ID:           "n1",
		SerialNumber: "d83add36",
		BootMode:     data.BootModePi,
		PiModel:      data.PiModel4,
		State:        data.StateDiscovered,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))

	h := piNodeHandler(m)

	require.Contains(t, readAll(t, h, "d83add36/config.txt"), "kernel=kernel8.img")
	require.Equal(t, "start4.elf", readAll(t, h, "d83add36/start4.elf"))
	require.Equal(t, "bcm2711-rpi-4-b.dtb", readAll(t, h, "d83add36/bcm2711-rpi-4-b.dtb"))
	require.Equal(t, "kernel", readAll(t, h, "d83add36/kernel8.img"))
	require.Equal(t, "initramfs", readAll(t, h, "d83add36/initramfs.img"))
}

func TestPiNodeHandlerUnknownSerialFallsBackToDiscovery(t *testing.T) {
	m := testPiManager(t)
	require.NoError(t, m.EnsureDiscoveryTree())

	h := piNodeHandler(m)

	body := readAll(t, h, "0000beef/cmdline.txt")
	require.Contains(t, body, "pureboot.mode=discovery")
	require.Equal(t, "start4.elf", readAll(t, h, "0000beef/start4.elf"))
}

func TestPiNodeHandlerRejectsEscapingSymlink(t *testing.T) {
	m := testPiManager(t)
	n := &data.Node{
		SerialNumber: "d83add36",
		BootMode:     data.BootModePi,
		PiModel:      data.PiModel4,
		State:        data.StateDiscovered,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))

	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(m.NodesDir, "d83add36", "evil")))

	h := piNodeHandler(m)
	_, _, err := h("d83add36/evil")
	require.ErrorIs(t, err, tftp.ErrAccessViolation)
}

func TestDHCPHandlerInjectsClientMAC(t *testing.T) {
	c := &Config{
		ServerURL: "http://192.168.2.1:8080",
		DHCP: DHCPConfig{
			IPAddr: netip.MustParseAddr("192.168.2.1"),
		},
	}
	dh, err := c.dhcpHandler(logr.Discard())
	require.NoError(t, err)

	ph, ok := dh.(*proxy.Handler)
	require.True(t, ok)

	pkt := &dhcpv4.DHCPv4{ClientHWAddr: net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}}
	u := ph.Netboot.ScriptURL(pkt)
	require.Equal(t, "/api/v1/boot", u.Path)
	require.Equal(t, "de:ad:be:ef:00:01", u.Query().Get("mac"))
}
