package pi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/pkg/data"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	firmware := filepath.Join(root, "firmware")
	deploy := filepath.Join(root, "deploy")
	require.NoError(t, os.MkdirAll(firmware, 0o755))
	require.NoError(t, os.MkdirAll(deploy, 0o755))

	shared := []string{
		"bootcode.bin", "start.elf", "fixup.dat", "start4.elf", "fixup4.dat",
		"bcm2710-rpi-3-b.dtb", "bcm2710-rpi-3-b-plus.dtb", "bcm2710-rpi-cm3.dtb",
		"bcm2711-rpi-4-b.dtb", "bcm2712-rpi-5-b.dtb",
	}
	for _, f := range shared {
		require.NoError(t, os.WriteFile(filepath.Join(firmware, f), []byte(f), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "kernel8.img"), []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "initramfs.img"), []byte("initramfs"), 0o644))

	return &Manager{
		Log:         logr.Discard(),
		NodesDir:    filepath.Join(root, "nodes"),
		FirmwareDir: firmware,
		DeployDir:   deploy,
		ServerURL:   "http://192.168.2.1",
	}
}

func requireSymlink(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Lstat(path)
	require.NoError(t, err, path)
	require.NotZero(t, fi.Mode()&os.ModeSymlink, "%s must be a symlink", path)
}

func requireRegular(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Lstat(path)
	require.NoError(t, err, path)
	require.True(t, fi.Mode().IsRegular(), "%s must be a regular file", path)
}

func TestEnsureNodeTreePi4(t *testing.T) {
	m := testManager(t)
	n := &data.Node{
		ID:           "n1",
		SerialNumber: "d83add36",
		BootMode:     data.BootModePi,
		PiModel:      data.PiModel4,
		State:        data.StateDiscovered,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))

	dir := filepath.Join(m.NodesDir, "d83add36")
	for _, f := range []string{"start4.elf", "fixup4.dat", "bcm2711-rpi-4-b.dtb", "kernel8.img", "initramfs.img"} {
		requireSymlink(t, filepath.Join(dir, f))
	}
	requireRegular(t, filepath.Join(dir, "config.txt"))
	requireRegular(t, filepath.Join(dir, "cmdline.txt"))

	// Pi 4 needs no bootcode.bin; it must not be linked.
	_, err := os.Lstat(filepath.Join(dir, "bootcode.bin"))
	require.True(t, os.IsNotExist(err))

	config, err := os.ReadFile(filepath.Join(dir, "config.txt"))
	require.NoError(t, err)
	require.Contains(t, string(config), "device_tree=bcm2711-rpi-4-b.dtb")
	require.Contains(t, string(config), "kernel=kernel8.img")

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline.txt"))
	require.NoError(t, err)
	require.Contains(t, string(cmdline), "pureboot.serial=d83add36")
	require.Contains(t, string(cmdline), "pureboot.state=discovered")
}

func TestEnsureNodeTreePi3(t *testing.T) {
	m := testManager(t)
	n := &data.Node{
		SerialNumber: "0000beef",
		BootMode:     data.BootModePi,
		PiModel:      data.PiModel3,
		State:        data.StatePending,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))

	dir := filepath.Join(m.NodesDir, "0000beef")
	for _, f := range []string{"bootcode.bin", "start.elf", "fixup.dat", "bcm2710-rpi-3-b.dtb"} {
		requireSymlink(t, filepath.Join(dir, f))
	}
}

func TestEnsureNodeTreeRejectsBadSerial(t *testing.T) {
	m := testManager(t)
	n := &data.Node{SerialNumber: "../evil", PiModel: data.PiModel4}
	require.Error(t, m.EnsureNodeTree(n, nil, ""))
}

func TestEnsureNodeTreeSurvivesMissingFirmware(t *testing.T) {
	m := testManager(t)
	// Dangling symlink targets must not block registration.
	require.NoError(t, os.Remove(filepath.Join(m.FirmwareDir, "start4.elf")))

	n := &data.Node{
		SerialNumber: "d83add36",
		PiModel:      data.PiModel4,
		State:        data.StateDiscovered,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))
	requireRegular(t, filepath.Join(m.NodesDir, "d83add36", "cmdline.txt"))
}

func TestWriteCmdlineOnStateChange(t *testing.T) {
	m := testManager(t)
	n := &data.Node{
		ID:           "n1",
		SerialNumber: "d83add36",
		PiModel:      data.PiModel4,
		State:        data.StatePending,
	}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))

	n.State = data.StateInstalling
	wf := &data.Workflow{
		InstallMethod: data.InstallMethodImage,
		ImageURL:      "http://srv/img.xz",
		TargetDevice:  "/dev/mmcblk0",
	}
	require.NoError(t, m.WriteCmdline(n, wf, "http://srv/api/v1/nodes/n1/installed"))

	cmdline, err := os.ReadFile(filepath.Join(m.NodesDir, "d83add36", "cmdline.txt"))
	require.NoError(t, err)
	require.Contains(t, string(cmdline), "pureboot.mode=install")
	require.Contains(t, string(cmdline), "pureboot.image_url=http://srv/img.xz")
	require.Contains(t, string(cmdline), "pureboot.callback=http://srv/api/v1/nodes/n1/installed")
}

func TestEnsureDiscoveryTree(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.EnsureDiscoveryTree())

	dir := filepath.Join(m.NodesDir, DiscoveryDirName)
	// Union of every model's firmware.
	for _, f := range []string{"bootcode.bin", "start.elf", "fixup.dat", "start4.elf", "fixup4.dat", "bcm2711-rpi-4-b.dtb", "bcm2712-rpi-5-b.dtb"} {
		requireSymlink(t, filepath.Join(dir, f))
	}

	config, err := os.ReadFile(filepath.Join(dir, "config.txt"))
	require.NoError(t, err)
	require.NotContains(t, string(config), "device_tree=")

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline.txt"))
	require.NoError(t, err)
	require.Contains(t, string(cmdline), "pureboot.mode=discovery")
	require.Contains(t, string(cmdline), "pureboot.state=discovered")
}

func TestRemoveNodeTree(t *testing.T) {
	m := testManager(t)
	n := &data.Node{SerialNumber: "d83add36", PiModel: data.PiModel4, State: data.StateRetired}
	require.NoError(t, m.EnsureNodeTree(n, nil, ""))
	require.NoError(t, m.RemoveNodeTree("d83add36"))
	_, err := os.Stat(filepath.Join(m.NodesDir, "d83add36"))
	require.True(t, os.IsNotExist(err))

	require.Error(t, m.RemoveNodeTree("../nodes"))
}
