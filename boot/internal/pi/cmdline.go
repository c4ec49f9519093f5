package pi

import (
	"fmt"
	"strings"

	"github.com/pureboot/pureboot/pkg/constant"
	"github.com/pureboot/pureboot/pkg/data"
)

// CmdlineParams carries everything the kernel command line generator can
// encode. Workflow may be nil; the optional identity fields are emitted only
// when set.
type CmdlineParams struct {
	Serial      string
	State       data.State
	ServerURL   string
	NodeID      string
	MAC         string
	CallbackURL string
	Workflow    *data.Workflow
}

// Cmdline renders the single-line kernel command line for a node. The
// pureboot.* keys are the contract with the deploy environment; the root=
// selection follows the node's state and workflow.
func Cmdline(p CmdlineParams) string {
	args := []string{
		"console=serial0,115200",
		"console=tty1",
		"ip=dhcp",
		kv(constant.CmdlineKeySerial, p.Serial),
		kv(constant.CmdlineKeyState, p.State.String()),
	}
	if p.ServerURL != "" {
		args = append(args, kv(constant.CmdlineKeyURL, p.ServerURL))
	}

	switch {
	case p.State == data.StateInstalling && p.Workflow != nil && p.Workflow.ImageURL != "":
		args = append(args,
			kv(constant.CmdlineKeyMode, "install"),
			kv(constant.CmdlineKeyImageURL, p.Workflow.ImageURL),
		)
		if p.Workflow.TargetDevice != "" {
			args = append(args, kv(constant.CmdlineKeyTarget, p.Workflow.TargetDevice))
		}
		if p.NodeID != "" {
			args = append(args, kv(constant.CmdlineKeyNodeID, p.NodeID))
		}
		if p.MAC != "" {
			args = append(args, kv(constant.CmdlineKeyMAC, p.MAC))
		}
		if p.CallbackURL != "" {
			args = append(args, kv(constant.CmdlineKeyCallback, p.CallbackURL))
		}
		args = append(args, "root=/dev/ram0", "rootfstype=ramfs")
	case p.Workflow != nil && p.Workflow.NFSServer != "" && p.Workflow.NFSPath != "":
		args = append(args,
			"root=/dev/nfs",
			fmt.Sprintf("nfsroot=%s:%s,vers=4,tcp", p.Workflow.NFSServer, p.Workflow.NFSPath),
			"rw",
		)
	default:
		args = append(args, "root=/dev/ram0", "rootfstype=ramfs")
	}

	args = append(args, "quiet", "loglevel=4")
	return strings.Join(args, " ") + "\n"
}

// DiscoveryCmdline renders the command line for the shared discovery tree.
func DiscoveryCmdline(serverURL string) string {
	args := []string{
		"console=serial0,115200",
		"console=tty1",
		"ip=dhcp",
		kv(constant.CmdlineKeyMode, "discovery"),
		kv(constant.CmdlineKeyState, data.StateDiscovered.String()),
	}
	if serverURL != "" {
		args = append(args, kv(constant.CmdlineKeyURL, serverURL))
	}
	args = append(args, "root=/dev/ram0", "rootfstype=ramfs", "quiet", "loglevel=4")
	return strings.Join(args, " ") + "\n"
}

func kv(key, value string) string {
	return key + "=" + value
}
