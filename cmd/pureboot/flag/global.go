package flag

import (
	"net/netip"

	"github.com/peterbourgon/ff/v4/ffval"
	ntip "github.com/pureboot/pureboot/pkg/flag/netip"
)

type GlobalConfig struct {
	LogLevel        int
	Backend         string
	BackendFilePath string
	TrustedProxies  []netip.Prefix
	PublicIP        netip.Addr
	BindAddr        netip.Addr
	OTELEnabled     bool
}

func RegisterGlobal(fs *Set, gc *GlobalConfig) {
	fs.Register(BackendConfig, ffval.NewEnum(&gc.Backend, "memory", "file", "none"))
	fs.Register(BackendFilePath, ffval.NewValueDefault(&gc.BackendFilePath, gc.BackendFilePath))
	fs.Register(BindAddr, &ntip.Addr{Addr: &gc.BindAddr})
	fs.Register(LogLevelConfig, ffval.NewValueDefault(&gc.LogLevel, gc.LogLevel))
	fs.Register(OTELEnabled, ffval.NewValueDefault(&gc.OTELEnabled, gc.OTELEnabled))
	fs.Register(PublicIP, &ntip.Addr{Addr: &gc.PublicIP})
	fs.Register(TrustedProxies, &ntip.PrefixList{PrefixList: &gc.TrustedProxies})
}

// All these flags are used by more than one component or are used to create
// objects that more than one component consumes.
var LogLevelConfig = Config{
	Name:  "log-level",
	Usage: "the higher the number the more verbose",
}

// Backend flags.
var BackendConfig = Config{
	Name:  "backend",
	Usage: "node registry backend to use (memory, file, none)",
}

var BackendFilePath = Config{
	Name:  "backend-file-path",
	Usage: "[file] path to the registry YAML file",
}

// Shared flags.
var TrustedProxies = Config{
	Name:  "trusted-proxies",
	Usage: "list of trusted proxies in CIDR notation",
}

var PublicIP = Config{
	Name:  "public-ipv4",
	Usage: "public IPv4 address clients use to reach this server",
}

var BindAddr = Config{
	Name:  "bind-address",
	Usage: "IP address to which to bind all listeners",
}

var OTELEnabled = Config{
	Name:  "otel-enabled",
	Usage: "[otel] enable OpenTelemetry tracing",
}
