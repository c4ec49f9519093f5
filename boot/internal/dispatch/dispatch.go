// Package dispatch decides what a booting node gets. Given an identity (MAC
// for x86, serial for Pi) it looks the node up, walks its lifecycle state,
// and returns a tagged BootAction; rendering to iPXE text or JSON happens at
// the HTTP edge.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-logr/logr"
	"github.com/oklog/ulid/v2"
	"github.com/pureboot/pureboot/boot/internal/ipxe/vars"
	"github.com/pureboot/pureboot/boot/internal/pi"
	"github.com/pureboot/pureboot/lifecycle"
	"github.com/pureboot/pureboot/pkg/backend"
	"github.com/pureboot/pureboot/pkg/constant"
	"github.com/pureboot/pureboot/pkg/data"
)

// ErrBadIdentity reports a malformed MAC or serial. The HTTP edge maps it to
// a 400.
var ErrBadIdentity = errors.New("malformed node identity")

// Registry is the slice of the node registry dispatch needs.
type Registry interface {
	GetByMAC(ctx context.Context, mac string) (*data.Node, error)
	GetBySerial(ctx context.Context, serial string) (*data.Node, error)
	Register(ctx context.Context, node *data.Node) error
	Touch(ctx context.Context, id, ip string) error
	GetWorkflow(ctx context.Context, id string) (*data.Workflow, error)
}

// Lifecycle applies state transitions for dispatch decisions.
type Lifecycle interface {
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*data.Node, error)
}

// PiLayout materialises Pi TFTP trees.
type PiLayout interface {
	EnsureNodeTree(n *data.Node, wf *data.Workflow, callbackURL string) error
	WriteCmdline(n *data.Node, wf *data.Workflow, callbackURL string) error
}

// Resolver turns (identity, state) into a BootAction.
type Resolver struct {
	Log       logr.Logger
	Backend   Registry
	Lifecycle Lifecycle
	// Pi is nil when the Pi plane is disabled; Pi resolution then answers
	// not-found for every serial.
	Pi PiLayout

	// ServerURL is the externally reachable control plane base URL, with
	// the bind-address-to-primary-IP substitution already applied.
	ServerURL string
	// AutoRegister creates discovered nodes for unknown identities.
	AutoRegister bool
	// RetrySeconds paces parked clients chaining back.
	RetrySeconds int

	// DefaultPiModel is assumed for auto-registered Pi nodes until an
	// operator corrects it. The tree is rebuilt on the next dispatch after
	// a model change.
	DefaultPiModel data.PiModel
}

// ResolveIPXE answers an x86 iPXE client identified by MAC.
func (r *Resolver) ResolveIPXE(ctx context.Context, mac, clientIP string) (data.BootAction, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return data.BootAction{}, fmt.Errorf("%w: %q", ErrBadIdentity, mac)
	}
	canonical := strings.ToLower(hw.String())

	node, err := r.Backend.GetByMAC(ctx, canonical)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		if r.AutoRegister {
			if err := r.registerX86(ctx, canonical, clientIP); err != nil {
				return data.BootAction{}, err
			}
		}
		return data.BootAction{Kind: data.ActionLocalBoot}, nil
	case err != nil:
		return data.BootAction{}, err
	}

	if err := r.Backend.Touch(ctx, node.ID, clientIP); err != nil {
		r.Log.Info("touch failed", "node", node.ID, "err", err)
	}

	switch node.State {
	case data.StatePending:
		return r.resolveX86Pending(ctx, node)
	default:
		// discovered, installing, installed, active, install_failed and
		// everything else boots from local disk.
		return data.BootAction{Kind: data.ActionLocalBoot}, nil
	}
}

func (r *Resolver) resolveX86Pending(ctx context.Context, node *data.Node) (data.BootAction, error) {
	if node.WorkflowID == "" {
		return data.BootAction{Kind: data.ActionPendingRetry, RetryAfter: r.RetrySeconds}, nil
	}
	wf, err := r.Backend.GetWorkflow(ctx, node.WorkflowID)
	if errors.Is(err, backend.ErrNotFound) {
		r.Log.Info("node references unknown workflow", "node", node.ID, "workflow", node.WorkflowID)
		return data.BootAction{Kind: data.ActionPendingRetry, RetryAfter: r.RetrySeconds}, nil
	}
	if err != nil {
		return data.BootAction{}, err
	}

	if wf.InstallMethod != data.InstallMethodKernel {
		// Methods without an iPXE rendering fall through to local boot.
		r.Log.Info("workflow method has no ipxe rendering, local booting",
			"node", node.ID, "method", string(wf.InstallMethod))
		return data.BootAction{Kind: data.ActionLocalBoot}, nil
	}

	action := data.BootAction{
		Kind: data.ActionInstallIPXE,
		InstallIPXE: &data.InstallIPXE{
			KernelURL: r.artifactURL(wf.KernelPath),
			InitrdURL: r.artifactURL(wf.InitrdPath),
			Cmdline:   r.installCmdline(node, wf),
		},
	}

	if _, err := r.Lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		NodeID:      node.ID,
		To:          data.StateInstalling,
		TriggeredBy: data.TriggeredBySystem,
		Comment:     "install script dispatched",
	}); err != nil {
		return data.BootAction{}, err
	}
	return action, nil
}

// ResolvePi answers a Pi deploy environment identified by serial. The node is
// returned alongside the action so the HTTP edge can report its state.
func (r *Resolver) ResolvePi(ctx context.Context, serial, clientIP string) (data.BootAction, *data.Node, error) {
	serial, err := pi.NormalizeSerial(serial)
	if err != nil {
		return data.BootAction{}, nil, fmt.Errorf("%w: %v", ErrBadIdentity, err)
	}

	node, err := r.Backend.GetBySerial(ctx, serial)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		if !r.AutoRegister {
			return data.BootAction{}, nil, err
		}
		return r.registerPi(ctx, serial, clientIP)
	case err != nil:
		return data.BootAction{}, nil, err
	}

	if err := r.Backend.Touch(ctx, node.ID, clientIP); err != nil {
		r.Log.Info("touch failed", "node", node.ID, "err", err)
	}

	switch node.State {
	case data.StateDiscovered:
		return data.BootAction{
			Kind:       data.ActionDiscovered,
			Discovered: &data.Discovered{Message: "node discovered, awaiting operator approval"},
		}, node, nil
	case data.StatePending:
		return r.resolvePiPending(ctx, node)
	case data.StateInstalling:
		return data.BootAction{Kind: data.ActionWait}, node, nil
	case data.StateInstallFailed:
		return data.BootAction{
			Kind:       data.ActionDiscovered,
			Discovered: &data.Discovered{Message: "install failed: " + node.LastInstallError},
		}, node, nil
	default:
		// installed, active, retired and the migration states run their
		// local OS.
		return data.BootAction{Kind: data.ActionLocalBoot}, node, nil
	}
}

func (r *Resolver) resolvePiPending(ctx context.Context, node *data.Node) (data.BootAction, *data.Node, error) {
	if node.WorkflowID == "" {
		return data.BootAction{
			Kind:       data.ActionDiscovered,
			Discovered: &data.Discovered{Message: "node pending, no workflow assigned"},
		}, node, nil
	}
	wf, err := r.Backend.GetWorkflow(ctx, node.WorkflowID)
	if err != nil {
		return data.BootAction{}, nil, err
	}

	callback := r.callbackURL(node.ID)
	var action data.BootAction
	switch {
	case wf.InstallMethod == data.InstallMethodImage && wf.ImageURL != "":
		action = data.BootAction{
			Kind: data.ActionDeployImage,
			DeployImage: &data.DeployImage{
				ImageURL:     wf.ImageURL,
				TargetDevice: wf.TargetDevice,
				CallbackURL:  callback,
			},
		}
	case wf.InstallMethod == data.InstallMethodNFS && wf.NFSServer != "" && wf.NFSPath != "":
		action = data.BootAction{
			Kind: data.ActionNFSBoot,
			NFSBoot: &data.NFSBoot{
				Server:      wf.NFSServer,
				Path:        wf.NFSPath,
				CallbackURL: callback,
			},
		}
	default:
		r.Log.Info("workflow method has no pi rendering, local booting",
			"node", node.ID, "method", string(wf.InstallMethod))
		return data.BootAction{Kind: data.ActionLocalBoot}, node, nil
	}

	updated, err := r.Lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		NodeID:      node.ID,
		To:          data.StateInstalling,
		TriggeredBy: data.TriggeredBySystem,
		Comment:     "deploy action dispatched",
	})
	if err != nil {
		return data.BootAction{}, nil, err
	}
	if r.Pi != nil {
		if err := r.Pi.WriteCmdline(updated, wf, callback); err != nil {
			r.Log.Error(err, "rewriting cmdline", "node", updated.ID)
		}
	}
	return action, updated, nil
}

func (r *Resolver) registerX86(ctx context.Context, mac, clientIP string) error {
	node := &data.Node{
		ID:           ulid.Make().String(),
		MACAddress:   mac,
		Architecture: data.ArchX8664,
		State:        data.StateDiscovered,
		IPAddress:    clientIP,
	}
	if err := r.Backend.Register(ctx, node); err != nil && !errors.Is(err, backend.ErrConflict) {
		return err
	}
	r.Log.Info("auto-registered node", "node", node.ID, "mac", mac)
	return nil
}

func (r *Resolver) registerPi(ctx context.Context, serial, clientIP string) (data.BootAction, *data.Node, error) {
	model := r.DefaultPiModel
	if model == "" {
		model = data.PiModel4
	}
	node := &data.Node{
		ID:           ulid.Make().String(),
		SerialNumber: serial,
		Architecture: data.ArchAarch64,
		BootMode:     data.BootModePi,
		PiModel:      model,
		State:        data.StateDiscovered,
		IPAddress:    clientIP,
	}
	if err := r.Backend.Register(ctx, node); err != nil && !errors.Is(err, backend.ErrConflict) {
		return data.BootAction{}, nil, err
	}
	if r.Pi != nil {
		if err := r.Pi.EnsureNodeTree(node, nil, ""); err != nil {
			r.Log.Error(err, "materialising tree for new node", "serial", serial)
		}
	}
	r.Log.Info("auto-registered pi node", "node", node.ID, "serial", serial)
	return data.BootAction{
		Kind:       data.ActionDiscovered,
		Discovered: &data.Discovered{Message: "node discovered, awaiting operator approval"},
	}, node, nil
}

func (r *Resolver) callbackURL(nodeID string) string {
	return r.ServerURL + "/api/v1/nodes/" + nodeID + "/installed"
}

// artifactURL makes a workflow path absolute. Paths that are already URLs
// pass through; everything else is served from the throttled file endpoint.
func (r *Resolver) artifactURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return r.ServerURL + "/files/" + strings.TrimPrefix(path, "/")
}

// installCmdline resolves workflow placeholders and appends the pureboot.*
// contract keys the deploy environment needs to report back.
func (r *Resolver) installCmdline(node *data.Node, wf *data.Workflow) string {
	resolved := vars.Resolve(wf.Cmdline, vars.Context{
		Node: map[string]string{
			"id":       node.ID,
			"mac":      node.MACAddress,
			"serial":   node.SerialNumber,
			"hostname": node.Hostname,
			"ip":       node.IPAddress,
			"state":    node.State.String(),
			"arch":     string(node.Architecture),
		},
		Workflow: map[string]string{
			"id":              wf.ID,
			"install_method":  string(wf.InstallMethod),
			"kernel_path":     wf.KernelPath,
			"initrd_path":     wf.InitrdPath,
			"boot_url":        wf.BootURL,
			"image_url":       wf.ImageURL,
			"target_device":   wf.TargetDevice,
			"nfs_server":      wf.NFSServer,
			"nfs_path":        wf.NFSPath,
			"post_script_url": wf.PostScriptURL,
		},
		Server: map[string]string{"url": r.ServerURL},
		Meta:   node.Metadata,
	})

	extra := []string{
		constant.CmdlineKeyNodeID + "=" + node.ID,
		constant.CmdlineKeyMAC + "=" + node.MACAddress,
		constant.CmdlineKeyCallback + "=" + r.callbackURL(node.ID),
	}
	if resolved == "" {
		return strings.Join(extra, " ")
	}
	return resolved + " " + strings.Join(extra, " ")
}
