// Package boot wires the whole boot plane together: the proxy-DHCP
// responder, the TFTP server, the Pi layout manager, and the HTTP surface
// (iPXE scripts, Pi dispatch JSON, report callbacks, throttled artifacts).
package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/pureboot/pureboot/boot/internal/api"
	"github.com/pureboot/pureboot/boot/internal/dhcp"
	"github.com/pureboot/pureboot/boot/internal/dhcp/handler/proxy"
	"github.com/pureboot/pureboot/boot/internal/dhcp/server"
	"github.com/pureboot/pureboot/boot/internal/dispatch"
	httpsrv "github.com/pureboot/pureboot/boot/internal/http"
	"github.com/pureboot/pureboot/boot/internal/ipxe/script"
	"github.com/pureboot/pureboot/boot/internal/metric"
	"github.com/pureboot/pureboot/boot/internal/pi"
	"github.com/pureboot/pureboot/boot/internal/tftp"
	"github.com/pureboot/pureboot/boot/internal/throttle"
	"github.com/pureboot/pureboot/lifecycle"
	"github.com/pureboot/pureboot/pkg/backend/noop"
	"github.com/pureboot/pureboot/pkg/constant"
	"github.com/pureboot/pureboot/pkg/data"
	"github.com/pureboot/pureboot/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Backend is the full registry surface the boot plane consumes. The concrete
// implementations live under pkg/backend.
type Backend interface {
	dispatch.Registry
	api.Registry
	lifecycle.Registry
	lifecycle.LogStore
}

// DHCPConfig configures the proxy-DHCP responder.
type DHCPConfig struct {
	Enabled       bool
	BindAddr      netip.AddrPort
	BindInterface string
	// IPAddr is the server identifier placed in option 54.
	IPAddr netip.Addr
	// TFTPAddr is advertised to raw firmware clients in option 66.
	TFTPAddr netip.AddrPort
}

// TFTPConfig configures the TFTP server.
type TFTPConfig struct {
	Enabled  bool
	BindAddr netip.AddrPort
	// RootDir holds the stage-1 binaries, chain scripts and the Pi trees.
	RootDir string
	Timeout time.Duration
	Retries int
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Enabled        bool
	BindAddr       netip.AddrPort
	TrustedProxies []string
	GitRev         string
}

// PiConfig configures the Pi boot orchestrator. Directories default to
// subtrees of the TFTP root when empty.
type PiConfig struct {
	Enabled     bool
	NodesDir    string
	FirmwareDir string
	DeployDir   string
	// DefaultModel is assumed for auto-registered nodes.
	DefaultModel data.PiModel
}

// DispatchConfig configures the boot dispatch resolver.
type DispatchConfig struct {
	AutoRegister bool
	RetrySeconds int
}

// ThrottleConfig configures the egress bandwidth throttler. Zero disables
// throttling.
type ThrottleConfig struct {
	TotalBandwidthBps int64
}

// StorageConfig carries the artifact store, built by the cmd layer.
type StorageConfig struct {
	Store storage.Store
	// ReadyTimeout bounds the startup ping.
	ReadyTimeout time.Duration
}

// Config is the top-level boot plane configuration.
type Config struct {
	Logger  logr.Logger
	Backend Backend

	// ServerURL is the externally reachable base URL of the HTTP surface,
	// with any 0.0.0.0 bind already substituted by the primary IP.
	ServerURL string

	DHCP     DHCPConfig
	TFTP     TFTPConfig
	HTTP     HTTPConfig
	Pi       PiConfig
	Dispatch DispatchConfig
	Throttle ThrottleConfig
	Storage  StorageConfig

	OTELEnabled bool
}

// Start runs every enabled listener until ctx is cancelled or one of them
// fails. It blocks.
func (c *Config) Start(ctx context.Context, log logr.Logger) error {
	c.Logger = log
	if c.Backend == nil {
		c.Backend = noop.Backend{}
		log.Info("no backend provided, using noop backend")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	metric.Init()

	scriptData := script.Data{ServerURL: c.ServerURL, RetrySeconds: c.Dispatch.RetrySeconds}

	var piMgr *pi.Manager
	if c.Pi.Enabled {
		piMgr = &pi.Manager{
			Log:         log,
			NodesDir:    orDefault(c.Pi.NodesDir, filepath.Join(c.TFTP.RootDir, "nodes")),
			FirmwareDir: orDefault(c.Pi.FirmwareDir, filepath.Join(c.TFTP.RootDir, "firmware")),
			DeployDir:   orDefault(c.Pi.DeployDir, filepath.Join(c.TFTP.RootDir, "deploy")),
			ServerURL:   c.ServerURL,
		}
		if err := piMgr.EnsureDiscoveryTree(); err != nil {
			return fmt.Errorf("building pi discovery tree: %w", err)
		}
	}

	if c.TFTP.Enabled {
		syncer := &script.Syncer{Log: log, TFTPRoot: c.TFTP.RootDir, ScriptData: scriptData}
		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("syncing tftp scripts: %w", err)
		}
	}

	if c.Storage.Store != nil {
		timeout := c.Storage.ReadyTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		if err := storage.WaitReady(ctx, log, c.Storage.Store, timeout); err != nil {
			return fmt.Errorf("artifact store not ready: %w", err)
		}
	}

	svc := lifecycle.NewService(c.Backend, c.Backend, log)

	var throttler *throttle.Throttler
	if c.Throttle.TotalBandwidthBps > 0 {
		throttler = throttle.NewThrottler(c.Throttle.TotalBandwidthBps)
	}

	resolver := &dispatch.Resolver{
		Log:            log,
		Backend:        c.Backend,
		Lifecycle:      svc,
		ServerURL:      c.ServerURL,
		AutoRegister:   c.Dispatch.AutoRegister,
		RetrySeconds:   c.Dispatch.RetrySeconds,
		DefaultPiModel: c.Pi.DefaultModel,
	}
	if piMgr != nil {
		resolver.Pi = piMgr
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.DHCP.Enabled {
		dh, err := c.dhcpHandler(log)
		if err != nil {
			return fmt.Errorf("creating dhcp handler: %w", err)
		}
		log.Info("starting proxy-dhcp server", "bind_addr", c.DHCP.BindAddr.String())
		g.Go(func() error {
			conn, err := server4.NewIPv4UDPConn(c.DHCP.BindInterface, net.UDPAddrFromAddrPort(c.DHCP.BindAddr))
			if err != nil {
				return err
			}
			defer conn.Close()
			ds := &server.DHCP{Logger: log, Conn: conn, Handlers: []server.Handler{dh}}
			return ds.Serve(ctx)
		})
	}

	if c.TFTP.Enabled {
		ts := &tftp.Server{
			Log:     log,
			Handler: c.tftpMux(piMgr),
			Timeout: c.TFTP.Timeout,
			Retries: c.TFTP.Retries,
		}
		log.Info("starting tftp server", "bind_addr", c.TFTP.BindAddr.String(), "root", c.TFTP.RootDir)
		g.Go(func() error {
			return ts.ListenAndServe(ctx, c.TFTP.BindAddr)
		})
	}

	if c.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		if err := engine.SetTrustedProxies(c.HTTP.TrustedProxies); err != nil {
			return fmt.Errorf("configuring trusted proxies: %w", err)
		}
		apiHandler := &api.Handler{
			Log:        log,
			Dispatch:   resolver,
			Lifecycle:  svc,
			Registry:   c.Backend,
			Store:      c.Storage.Store,
			Throttler:  throttler,
			ScriptData: scriptData,
		}
		apiHandler.RegisterRoutes(engine)

		hs := &httpsrv.Config{Logger: log, GitRev: c.HTTP.GitRev}
		log.Info("starting http server", "bind_addr", c.HTTP.BindAddr.String())
		g.Go(func() error {
			return hs.Serve(ctx, c.HTTP.BindAddr.String(), engine)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("running boot plane services: %w", err)
	}
	log.Info("boot plane shutting down", "reason", ctx.Err())
	return nil
}

func (c *Config) dhcpHandler(log logr.Logger) (server.Handler, error) {
	scriptURL, err := url.Parse(c.ServerURL + "/api/v1/boot")
	if err != nil {
		return nil, fmt.Errorf("parsing script URL: %w", err)
	}
	tftpAddr := c.DHCP.TFTPAddr
	if !tftpAddr.IsValid() {
		tftpAddr = netip.AddrPortFrom(c.DHCP.IPAddr, 69)
	}
	return &proxy.Handler{
		Log:    log,
		IPAddr: c.DHCP.IPAddr,
		Netboot: proxy.Netboot{
			TFTPServer: tftpAddr,
			// The client MAC rides in the script URL so iPXE-capable
			// firmware skips the generic chain script and lands on its
			// node's dispatch directly.
			ScriptURL: func(pkt *dhcpv4.DHCPv4) *url.URL {
				u := *scriptURL
				q := u.Query()
				q.Set("mac", dhcp.FormatMac(pkt.ClientHWAddr, constant.MacAddrFormatColon))
				u.RawQuery = q.Encode()
				return &u
			},
		},
		OTELEnabled: c.OTELEnabled,
	}, nil
}

// tftpMux routes Pi per-node paths into the nodes tree (falling back to the
// discovery tree for unknown serials) and everything else into the TFTP root.
func (c *Config) tftpMux(piMgr *pi.Manager) tftp.Handler {
	mux := tftp.NewServeMux()
	if piMgr != nil {
		mux.HandleFunc(`^[0-9a-f]{8}/`, piNodeHandler(piMgr))
	}
	mux.SetDefaultHandler(tftp.RootHandler{Root: c.TFTP.RootDir})
	return mux
}

// piNodeHandler serves <serial>/<file> requests. A serial with no
// materialised tree is answered from the shared discovery tree so unknown
// boards can boot into the discovery environment. Node trees symlink
// firmware and deploy files from the shared directories, so those roots are
// allowed targets for symlink resolution.
func piNodeHandler(piMgr *pi.Manager) tftp.HandlerFunc {
	return func(filename string) (io.ReadCloser, int64, error) {
		serial, rest, ok := strings.Cut(filename, "/")
		if !ok || rest == "" {
			return nil, 0, tftp.ErrNotFound
		}
		if _, err := os.Stat(filepath.Join(piMgr.NodesDir, serial)); err != nil {
			serial = pi.DiscoveryDirName
		}
		h := tftp.RootHandler{
			Root:  filepath.Join(piMgr.NodesDir, serial),
			Allow: []string{piMgr.FirmwareDir, piMgr.DeployDir},
		}
		return h.OpenFile(rest)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
