package flag

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"time"

	"github.com/ccoveille/go-safecast/v2"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/pureboot/pureboot/boot"
	"github.com/pureboot/pureboot/pkg/data"
	ntip "github.com/pureboot/pureboot/pkg/flag/netip"
	furl "github.com/pureboot/pureboot/pkg/flag/url"
	"github.com/pureboot/pureboot/pkg/storage"
)

type BootConfig struct {
	Config *boot.Config
	// Ports are split out from the bind addresses so that -bind-address can
	// rewrite the host part of every listener after parsing. Convert puts
	// them back together into netip.AddrPort values.
	DHCPPort int
	TFTPPort int
	HTTPPort int
	// ServerURL overrides the externally reachable base URL derived from the
	// public IP and the HTTP port.
	ServerURL url.URL
	// ThrottleBandwidthBps is the total egress budget in bytes per second.
	// Zero disables throttling.
	ThrottleBandwidthBps int
	Storage              StorageConfig
}

// StorageConfig collects the artifact store flags. Convert builds the
// concrete store from them.
type StorageConfig struct {
	Backend      string
	LocalDir     string
	HTTPBaseURL  url.URL
	S3           storage.S3Config
	ReadyTimeout time.Duration
}

func RegisterBootFlags(fs *Set, bc *BootConfig) {
	// The order in which flags are registered here is the order they will appear in the help text.
	// DHCP flags
	fs.Register(DHCPEnabled, ffval.NewValueDefault(&bc.Config.DHCP.Enabled, bc.Config.DHCP.Enabled))
	fs.Register(DHCPBindInterface, ffval.NewValueDefault(&bc.Config.DHCP.BindInterface, bc.Config.DHCP.BindInterface))
	fs.Register(DHCPPort, ffval.NewValueDefault(&bc.DHCPPort, bc.DHCPPort))
	fs.Register(DHCPIPForPacket, &ntip.Addr{Addr: &bc.Config.DHCP.IPAddr})
	fs.Register(DHCPTftpAddr, &ntip.AddrPort{AddrPort: &bc.Config.DHCP.TFTPAddr})

	// TFTP flags
	fs.Register(TFTPEnabled, ffval.NewValueDefault(&bc.Config.TFTP.Enabled, bc.Config.TFTP.Enabled))
	fs.Register(TFTPPort, ffval.NewValueDefault(&bc.TFTPPort, bc.TFTPPort))
	fs.Register(TFTPRootDir, ffval.NewValueDefault(&bc.Config.TFTP.RootDir, bc.Config.TFTP.RootDir))
	fs.Register(TFTPTimeout, ffval.NewValueDefault(&bc.Config.TFTP.Timeout, bc.Config.TFTP.Timeout))
	fs.Register(TFTPRetries, ffval.NewValueDefault(&bc.Config.TFTP.Retries, bc.Config.TFTP.Retries))

	// HTTP flags
	fs.Register(HTTPEnabled, ffval.NewValueDefault(&bc.Config.HTTP.Enabled, bc.Config.HTTP.Enabled))
	fs.Register(HTTPPort, ffval.NewValueDefault(&bc.HTTPPort, bc.HTTPPort))
	fs.Register(ServerURL, &furl.URL{URL: &bc.ServerURL})

	// Pi flags
	fs.Register(PiEnabled, ffval.NewValueDefault(&bc.Config.Pi.Enabled, bc.Config.Pi.Enabled))
	fs.Register(PiNodesDir, ffval.NewValueDefault(&bc.Config.Pi.NodesDir, bc.Config.Pi.NodesDir))
	fs.Register(PiFirmwareDir, ffval.NewValueDefault(&bc.Config.Pi.FirmwareDir, bc.Config.Pi.FirmwareDir))
	fs.Register(PiDeployDir, ffval.NewValueDefault(&bc.Config.Pi.DeployDir, bc.Config.Pi.DeployDir))
	fs.Register(PiDefaultModel, &ffval.Enum[data.PiModel]{
		ParseFunc: piModelParser,
		Valid:     []data.PiModel{data.PiModel3, data.PiModel3BP, data.PiModelCM3, data.PiModel4, data.PiModel5},
		Pointer:   &bc.Config.Pi.DefaultModel,
		Default:   bc.Config.Pi.DefaultModel,
	})

	// Dispatch flags
	fs.Register(DispatchAutoRegister, ffval.NewValueDefault(&bc.Config.Dispatch.AutoRegister, bc.Config.Dispatch.AutoRegister))
	fs.Register(DispatchRetrySeconds, ffval.NewValueDefault(&bc.Config.Dispatch.RetrySeconds, bc.Config.Dispatch.RetrySeconds))

	// Throttle flags
	fs.Register(ThrottleBandwidth, ffval.NewValueDefault(&bc.ThrottleBandwidthBps, bc.ThrottleBandwidthBps))

	// Storage flags
	fs.Register(StorageBackend, ffval.NewEnum(&bc.Storage.Backend, "local", "none", "http", "s3"))
	fs.Register(StorageLocalDir, ffval.NewValueDefault(&bc.Storage.LocalDir, bc.Storage.LocalDir))
	fs.Register(StorageHTTPURL, &furl.URL{URL: &bc.Storage.HTTPBaseURL})
	fs.Register(StorageS3Bucket, ffval.NewValueDefault(&bc.Storage.S3.Bucket, bc.Storage.S3.Bucket))
	fs.Register(StorageS3Prefix, ffval.NewValueDefault(&bc.Storage.S3.Prefix, bc.Storage.S3.Prefix))
	fs.Register(StorageS3Region, ffval.NewValueDefault(&bc.Storage.S3.Region, bc.Storage.S3.Region))
	fs.Register(StorageS3Endpoint, ffval.NewValueDefault(&bc.Storage.S3.EndpointURL, bc.Storage.S3.EndpointURL))
	fs.Register(StorageS3AccessKey, ffval.NewValueDefault(&bc.Storage.S3.AccessKey, bc.Storage.S3.AccessKey))
	fs.Register(StorageS3SecretKey, ffval.NewValueDefault(&bc.Storage.S3.SecretKey, bc.Storage.S3.SecretKey))
	fs.Register(StorageReadyTimeout, ffval.NewValueDefault(&bc.Storage.ReadyTimeout, bc.Storage.ReadyTimeout))
}

// Convert CLI specific fields to boot.Config fields.
func (bc *BootConfig) Convert(ctx context.Context, trustedProxies *[]netip.Prefix, publicIP netip.Addr, bindAddr netip.Addr) error {
	bc.Config.HTTP.TrustedProxies = ntip.ToPrefixList(trustedProxies).Slice()

	if !bindAddr.IsValid() {
		bindAddr = netip.IPv4Unspecified()
	}
	dhcpPort, err := safecast.Convert[uint16](bc.DHCPPort)
	if err != nil {
		return fmt.Errorf("invalid dhcp port %d: %w", bc.DHCPPort, err)
	}
	tftpPort, err := safecast.Convert[uint16](bc.TFTPPort)
	if err != nil {
		return fmt.Errorf("invalid tftp port %d: %w", bc.TFTPPort, err)
	}
	httpPort, err := safecast.Convert[uint16](bc.HTTPPort)
	if err != nil {
		return fmt.Errorf("invalid http port %d: %w", bc.HTTPPort, err)
	}
	bc.Config.DHCP.BindAddr = netip.AddrPortFrom(bindAddr, dhcpPort)
	bc.Config.TFTP.BindAddr = netip.AddrPortFrom(bindAddr, tftpPort)
	bc.Config.HTTP.BindAddr = netip.AddrPortFrom(bindAddr, httpPort)

	// the order of precedence is: CLI flag, publicIP.
	if !bc.Config.DHCP.IPAddr.IsValid() || bc.Config.DHCP.IPAddr.IsUnspecified() {
		bc.Config.DHCP.IPAddr = publicIP
	}

	bc.Config.ServerURL = func() string {
		if bc.ServerURL.Host != "" {
			return bc.ServerURL.String()
		}
		addr := publicIP
		if !addr.IsValid() || addr.IsUnspecified() {
			addr = bindAddr
		}
		return fmt.Sprintf("http://%s", netip.AddrPortFrom(addr, httpPort))
	}()

	bw, err := safecast.Convert[int64](bc.ThrottleBandwidthBps)
	if err != nil {
		return fmt.Errorf("invalid throttle bandwidth %d: %w", bc.ThrottleBandwidthBps, err)
	}
	bc.Config.Throttle.TotalBandwidthBps = bw

	store, err := bc.buildStore(ctx)
	if err != nil {
		return err
	}
	bc.Config.Storage.Store = store
	bc.Config.Storage.ReadyTimeout = bc.Storage.ReadyTimeout

	return nil
}

func (bc *BootConfig) buildStore(ctx context.Context) (storage.Store, error) {
	switch bc.Storage.Backend {
	case "", "none":
		return nil, nil
	case "local":
		dir := bc.Storage.LocalDir
		if dir == "" {
			dir = bc.Config.TFTP.RootDir
		}
		return storage.NewLocal(dir), nil
	case "http":
		if bc.Storage.HTTPBaseURL.Host == "" {
			return nil, fmt.Errorf("storage backend %q requires -storage-http-url", bc.Storage.Backend)
		}
		return storage.NewHTTP(bc.Storage.HTTPBaseURL.String()), nil
	case "s3":
		if bc.Storage.S3.Bucket == "" {
			return nil, fmt.Errorf("storage backend %q requires -storage-s3-bucket", bc.Storage.Backend)
		}
		return storage.NewS3(ctx, bc.Storage.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", bc.Storage.Backend)
	}
}

func piModelParser(s string) (data.PiModel, error) {
	switch data.PiModel(s) {
	case data.PiModel3:
		return data.PiModel3, nil
	case data.PiModel3BP:
		return data.PiModel3BP, nil
	case data.PiModelCM3:
		return data.PiModelCM3, nil
	case data.PiModel4:
		return data.PiModel4, nil
	case data.PiModel5:
		return data.PiModel5, nil
	case "":
		return data.PiModel4, nil // data.PiModel4 is the default
	default:
		return "", fmt.Errorf("invalid pi model: %s, must be one of: [%s, %s, %s, %s, %s]", s, data.PiModel3, data.PiModel3BP, data.PiModelCM3, data.PiModel4, data.PiModel5)
	}
}

// DHCP flags.
var DHCPEnabled = Config{
	Name:  "dhcp-enabled",
	Usage: "[dhcp] enable the proxy-DHCP responder",
}

var DHCPBindInterface = Config{
	Name:  "dhcp-bind-interface",
	Usage: "[dhcp] interface to bind the DHCP listener to",
}

var DHCPPort = Config{
	Name:  "dhcp-port",
	Usage: "[dhcp] UDP port for the DHCP listener",
}

var DHCPIPForPacket = Config{
	Name:  "dhcp-ip-for-packet",
	Usage: "[dhcp] server identifier IP placed in DHCP responses",
}

var DHCPTftpAddr = Config{
	Name:  "dhcp-tftp-addr",
	Usage: "[dhcp] TFTP server ip:port advertised to raw firmware clients",
}

// TFTP flags.
var TFTPEnabled = Config{
	Name:  "tftp-enabled",
	Usage: "[tftp] enable the TFTP server",
}

var TFTPPort = Config{
	Name:  "tftp-port",
	Usage: "[tftp] UDP port for the TFTP listener",
}

var TFTPRootDir = Config{
	Name:  "tftp-root-dir",
	Usage: "[tftp] directory holding stage-1 binaries, chain scripts and Pi trees",
}

var TFTPTimeout = Config{
	Name:  "tftp-timeout",
	Usage: "[tftp] per-block retransmit timeout",
}

var TFTPRetries = Config{
	Name:  "tftp-retries",
	Usage: "[tftp] retransmit attempts per block before aborting",
}

// HTTP flags.
var HTTPEnabled = Config{
	Name:  "http-enabled",
	Usage: "[http] enable the HTTP surface",
}

var HTTPPort = Config{
	Name:  "http-port",
	Usage: "[http] TCP port for the HTTP listener",
}

var ServerURL = Config{
	Name:  "server-url",
	Usage: "[http] externally reachable base URL, defaults to http://<public-ipv4>:<http-port>",
}

// Pi flags.
var PiEnabled = Config{
	Name:  "pi-enabled",
	Usage: "[pi] enable the Raspberry Pi boot orchestrator",
}

var PiNodesDir = Config{
	Name:  "pi-nodes-dir",
	Usage: "[pi] directory for per-node boot trees, defaults to <tftp-root-dir>/nodes",
}

var PiFirmwareDir = Config{
	Name:  "pi-firmware-dir",
	Usage: "[pi] directory holding the shared Pi firmware blobs, defaults to <tftp-root-dir>/firmware",
}

var PiDeployDir = Config{
	Name:  "pi-deploy-dir",
	Usage: "[pi] directory holding the deploy kernel and initramfs, defaults to <tftp-root-dir>/deploy",
}

var PiDefaultModel = Config{
	Name:  "pi-default-model",
	Usage: "[pi] board model assumed for auto-registered nodes (pi3, pi3b+, cm3, pi4, pi5)",
}

// Dispatch flags.
var DispatchAutoRegister = Config{
	Name:  "auto-register",
	Usage: "[dispatch] register unknown machines on first contact",
}

var DispatchRetrySeconds = Config{
	Name:  "retry-seconds",
	Usage: "[dispatch] delay before a parked client re-chains",
}

// Throttle flags.
var ThrottleBandwidth = Config{
	Name:  "throttle-bandwidth-bps",
	Usage: "[throttle] total artifact egress budget in bytes per second, 0 disables throttling",
}

// Storage flags.
var StorageBackend = Config{
	Name:  "storage-backend",
	Usage: "[storage] artifact store to use (none, local, http, s3)",
}

var StorageLocalDir = Config{
	Name:  "storage-local-dir",
	Usage: "[storage] directory for the local store, defaults to <tftp-root-dir>",
}

var StorageHTTPURL = Config{
	Name:  "storage-http-url",
	Usage: "[storage] base URL of the upstream HTTP mirror",
}

var StorageS3Bucket = Config{
	Name:  "storage-s3-bucket",
	Usage: "[storage] S3 bucket name",
}

var StorageS3Prefix = Config{
	Name:  "storage-s3-prefix",
	Usage: "[storage] key prefix inside the S3 bucket",
}

var StorageS3Region = Config{
	Name:  "storage-s3-region",
	Usage: "[storage] S3 region",
}

var StorageS3Endpoint = Config{
	Name:  "storage-s3-endpoint",
	Usage: "[storage] S3 endpoint URL, for MinIO and other S3-compatible stores",
}

var StorageS3AccessKey = Config{
	Name:  "storage-s3-access-key",
	Usage: "[storage] S3 access key, falls back to the SDK credential chain when empty",
}

var StorageS3SecretKey = Config{
	Name:  "storage-s3-secret-key",
	Usage: "[storage] S3 secret key",
}

var StorageReadyTimeout = Config{
	Name:  "storage-ready-timeout",
	Usage: "[storage] how long to wait for the artifact store at startup",
}
