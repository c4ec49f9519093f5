package pi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pureboot/pureboot/pkg/data"
)

// DiscoveryDirName is the tree served to Pi clients with no registered node.
const DiscoveryDirName = "discovery"

// Manager materialises per-node TFTP trees. All shared artifacts are linked
// in by symlink so a firmware or deploy update propagates to every node
// without rewriting trees; only config.txt and cmdline.txt are regular files.
type Manager struct {
	Log logr.Logger

	// NodesDir is the directory holding one tree per serial.
	NodesDir string
	// FirmwareDir holds the shared boot ROM firmware and DTBs.
	FirmwareDir string
	// DeployDir holds the shared kernel8.img and initramfs.img.
	DeployDir string
	// ServerURL is the control plane base URL baked into cmdline.txt,
	// empty when no URL is configured.
	ServerURL string
}

// EnsureNodeTree creates or refreshes <nodes_dir>/<serial>/ for a node.
// Symlink failures are logged and skipped so a partial firmware set does not
// block registration; the tree is recreated on the next call.
func (m *Manager) EnsureNodeTree(n *data.Node, wf *data.Workflow, callbackURL string) error {
	serial, err := NormalizeSerial(n.SerialNumber)
	if err != nil {
		return err
	}
	files, err := FirmwareFiles(n.PiModel)
	if err != nil {
		return err
	}
	dtb, err := DTB(n.PiModel)
	if err != nil {
		return err
	}

	dir := filepath.Join(m.NodesDir, serial)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating node tree %s: %w", serial, err)
	}

	for _, f := range files {
		m.link(filepath.Join(m.FirmwareDir, f), filepath.Join(dir, f))
	}
	m.link(filepath.Join(m.FirmwareDir, dtb), filepath.Join(dir, dtb))
	m.link(filepath.Join(m.DeployDir, "kernel8.img"), filepath.Join(dir, "kernel8.img"))
	m.link(filepath.Join(m.DeployDir, "initramfs.img"), filepath.Join(dir, "initramfs.img"))

	if err := writeFileAtomic(filepath.Join(dir, "config.txt"), []byte(configTxt(n.PiModel, dtb))); err != nil {
		return err
	}
	return m.writeCmdline(dir, n, wf, callbackURL)
}

// WriteCmdline regenerates only cmdline.txt, for state transitions on a node
// whose tree already exists.
func (m *Manager) WriteCmdline(n *data.Node, wf *data.Workflow, callbackURL string) error {
	serial, err := NormalizeSerial(n.SerialNumber)
	if err != nil {
		return err
	}
	return m.writeCmdline(filepath.Join(m.NodesDir, serial), n, wf, callbackURL)
}

func (m *Manager) writeCmdline(dir string, n *data.Node, wf *data.Workflow, callbackURL string) error {
	serial := filepath.Base(dir)
	line := Cmdline(CmdlineParams{
		Serial:      serial,
		State:       n.State,
		ServerURL:   m.ServerURL,
		NodeID:      n.ID,
		MAC:         n.MACAddress,
		CallbackURL: callbackURL,
		Workflow:    wf,
	})
	return writeFileAtomic(filepath.Join(dir, "cmdline.txt"), []byte(line))
}

// RemoveNodeTree deletes the tree for a serial, for deprovisioned nodes.
func (m *Manager) RemoveNodeTree(serial string) error {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(m.NodesDir, serial))
}

// EnsureDiscoveryTree builds the shared tree unknown Pi clients boot from. It
// carries the firmware union of every supported model; config.txt names no
// DTB so the boot ROM picks the right one itself.
func (m *Manager) EnsureDiscoveryTree() error {
	dir := filepath.Join(m.NodesDir, DiscoveryDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating discovery tree: %w", err)
	}

	seen := map[string]bool{}
	for _, model := range Models() {
		files, _ := FirmwareFiles(model)
		dtb, _ := DTB(model)
		for _, f := range append(files, dtb) {
			if seen[f] {
				continue
			}
			seen[f] = true
			m.link(filepath.Join(m.FirmwareDir, f), filepath.Join(dir, f))
		}
	}
	m.link(filepath.Join(m.DeployDir, "kernel8.img"), filepath.Join(dir, "kernel8.img"))
	m.link(filepath.Join(m.DeployDir, "initramfs.img"), filepath.Join(dir, "initramfs.img"))

	if err := writeFileAtomic(filepath.Join(dir, "config.txt"), []byte(discoveryConfigTxt())); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "cmdline.txt"), []byte(DiscoveryCmdline(m.ServerURL)))
}

// link replaces dst with a symlink to src, logging failures instead of
// returning them.
func (m *Manager) link(src, dst string) {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		m.Log.Info("removing stale tree entry failed", "path", dst, "err", err)
		return
	}
	if err := os.Symlink(src, dst); err != nil {
		m.Log.Info("symlink failed, continuing", "src", src, "dst", dst, "err", err)
	}
}

func configTxt(model data.PiModel, dtb string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# generated for %s\n", model)
	b.WriteString("arm_64bit=1\n")
	b.WriteString("kernel=kernel8.img\n")
	b.WriteString("initramfs initramfs.img followkernel\n")
	fmt.Fprintf(&b, "device_tree=%s\n", dtb)
	b.WriteString("enable_uart=1\n")
	b.WriteString("uart_2ndstage=1\n")
	b.WriteString("gpu_mem=16\n")
	b.WriteString("boot_delay=0\n")
	b.WriteString("disable_splash=1\n")
	return b.String()
}

func discoveryConfigTxt() string {
	var b strings.Builder
	b.WriteString("# generated for discovery\n")
	b.WriteString("arm_64bit=1\n")
	b.WriteString("kernel=kernel8.img\n")
	b.WriteString("initramfs initramfs.img followkernel\n")
	b.WriteString("enable_uart=1\n")
	b.WriteString("uart_2ndstage=1\n")
	b.WriteString("gpu_mem=16\n")
	b.WriteString("boot_delay=0\n")
	b.WriteString("disable_splash=1\n")
	return b.String()
}

func writeFileAtomic(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return nil
}
