package data

// BootAction is the tagged union of every answer the boot dispatch resolver can
// hand a node. Exactly one variant field is non-nil; Kind names it. Variants
// are rendered to the wire (iPXE text or JSON) at the HTTP edge only.
type BootAction struct {
	Kind BootActionKind

	InstallIPXE *InstallIPXE
	DeployImage *DeployImage
	NFSBoot     *NFSBoot
	Discovered  *Discovered
	// PendingRetry carries the delay, in seconds, before the client should
	// chain back to the boot endpoint.
	RetryAfter int
}

// BootActionKind tags a BootAction variant.
type BootActionKind string

const (
	ActionLocalBoot    BootActionKind = "local_boot"
	ActionInstallIPXE  BootActionKind = "install_ipxe"
	ActionDeployImage  BootActionKind = "deploy_image"
	ActionNFSBoot      BootActionKind = "nfs_boot"
	ActionPendingRetry BootActionKind = "pending_retry"
	ActionWait         BootActionKind = "wait"
	ActionDiscovered   BootActionKind = "discovered"
)

// InstallIPXE is a rendered kernel/initrd/cmdline triple for an x86 install.
type InstallIPXE struct {
	KernelURL string
	InitrdURL string
	Cmdline   string
}

// DeployImage tells a Pi deploy environment to stream an image onto a device.
type DeployImage struct {
	ImageURL     string
	TargetDevice string
	CallbackURL  string
}

// NFSBoot tells a Pi deploy environment to pivot to an NFS root.
type NFSBoot struct {
	Server      string
	Path        string
	CallbackURL string
}

// Discovered carries the operator-facing message shown to freshly seen nodes.
type Discovered struct {
	Message string
}
