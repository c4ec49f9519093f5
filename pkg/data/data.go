// Package data holds the entities shared between the boot plane, the lifecycle
// service and the registry backends. These structs are the API between
// components; none of them carry behavior beyond validation and formatting.
package data

import (
	"time"
)

// State is the lifecycle state of a node.
type State string

const (
	StateDiscovered     State = "discovered"
	StatePending        State = "pending"
	StateInstalling     State = "installing"
	StateInstalled      State = "installed"
	StateInstallFailed  State = "install_failed"
	StateActive         State = "active"
	StateReprovision    State = "reprovision"
	StateDeprovisioning State = "deprovisioning"
	StateMigrating      State = "migrating"
	StateServingSource  State = "serving_source"
	StateCloningTarget  State = "cloning_target"
	StateRetired        State = "retired"
)

func (s State) String() string {
	return string(s)
}

// States returns every known lifecycle state.
func States() []State {
	return []State{
		StateDiscovered, StatePending, StateInstalling, StateInstalled,
		StateInstallFailed, StateActive, StateReprovision, StateDeprovisioning,
		StateMigrating, StateServingSource, StateCloningTarget, StateRetired,
	}
}

// Architecture is the CPU architecture of a node.
type Architecture string

const (
	ArchX8664   Architecture = "x86_64"
	ArchAarch64 Architecture = "aarch64"
	ArchArm64   Architecture = "arm64"
)

// BootMode is how a node's firmware network boots.
type BootMode string

const (
	BootModeBIOS BootMode = "bios"
	BootModeUEFI BootMode = "uefi"
	BootModePi   BootMode = "pi"
)

// PiModel identifies a supported Raspberry Pi board.
type PiModel string

const (
	PiModel3   PiModel = "pi3"
	PiModel3BP PiModel = "pi3b+"
	PiModelCM3 PiModel = "cm3"
	PiModel4   PiModel = "pi4"
	PiModel5   PiModel = "pi5"
)

// Node is the central entity of the control plane. Identity is either a MAC
// address (x86 family) or a Raspberry Pi serial number; both are unique when
// present. State and the install counters are mutated only by the lifecycle
// service; observation fields are mutated by report and registration handlers.
type Node struct {
	ID           string       `json:"id" yaml:"id"`
	MACAddress   string       `json:"mac_address,omitempty" yaml:"mac_address,omitempty" validate:"omitempty,mac"`
	SerialNumber string       `json:"serial_number,omitempty" yaml:"serial_number,omitempty" validate:"omitempty,piserial"`
	Architecture Architecture `json:"architecture" yaml:"architecture"`
	BootMode     BootMode     `json:"boot_mode" yaml:"boot_mode"`
	PiModel      PiModel      `json:"pi_model,omitempty" yaml:"pi_model,omitempty"`

	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	GroupID    string `json:"group_id,omitempty" yaml:"group_id,omitempty"`

	State            State     `json:"state" yaml:"state"`
	StateChangedAt   time.Time `json:"state_changed_at" yaml:"state_changed_at"`
	InstallAttempts  int       `json:"install_attempts" yaml:"install_attempts"`
	LastInstallError string    `json:"last_install_error,omitempty" yaml:"last_install_error,omitempty"`

	IPAddress  string    `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Hostname   string    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at" yaml:"last_seen_at"`

	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsPi reports whether the node boots through the Raspberry Pi boot ROM.
func (n *Node) IsPi() bool {
	return n.BootMode == BootModePi
}

// TriggeredBy identifies what caused a state transition.
type TriggeredBy string

const (
	TriggeredByAdmin      TriggeredBy = "admin"
	TriggeredBySystem     TriggeredBy = "system"
	TriggeredByNodeReport TriggeredBy = "node_report"
)

// StateLogEntry is one append-only record of a node state change. Entries are
// never mutated or deleted.
type StateLogEntry struct {
	NodeID      string         `json:"node_id" yaml:"node_id"`
	FromState   State          `json:"from_state" yaml:"from_state"`
	ToState     State          `json:"to_state" yaml:"to_state"`
	TriggeredBy TriggeredBy    `json:"triggered_by" yaml:"triggered_by"`
	UserID      string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Comment     string         `json:"comment,omitempty" yaml:"comment,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// InstallMethod selects how a workflow installs an OS onto a node.
type InstallMethod string

const (
	InstallMethodKernel  InstallMethod = "kernel"
	InstallMethodSanboot InstallMethod = "sanboot"
	InstallMethodChain   InstallMethod = "chain"
	InstallMethodImage   InstallMethod = "image"
	InstallMethodNFS     InstallMethod = "nfs"
	InstallMethodDeploy  InstallMethod = "deploy"
)

// Workflow describes an OS installation recipe. Workflows are consumed from an
// external collaborator; the core reads them and never writes them. Cmdline may
// contain ${namespace.key} placeholders resolved at script render time.
type Workflow struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	InstallMethod InstallMethod `json:"install_method" yaml:"install_method"`

	KernelPath    string `json:"kernel_path,omitempty" yaml:"kernel_path,omitempty"`
	InitrdPath    string `json:"initrd_path,omitempty" yaml:"initrd_path,omitempty"`
	Cmdline       string `json:"cmdline,omitempty" yaml:"cmdline,omitempty"`
	BootURL       string `json:"boot_url,omitempty" yaml:"boot_url,omitempty" validate:"omitempty,http_url"`
	ImageURL      string `json:"image_url,omitempty" yaml:"image_url,omitempty" validate:"omitempty,http_url"`
	TargetDevice  string `json:"target_device,omitempty" yaml:"target_device,omitempty"`
	NFSServer     string `json:"nfs_server,omitempty" yaml:"nfs_server,omitempty"`
	NFSPath       string `json:"nfs_path,omitempty" yaml:"nfs_path,omitempty"`
	PostScriptURL string `json:"post_script_url,omitempty" yaml:"post_script_url,omitempty" validate:"omitempty,http_url"`
}
