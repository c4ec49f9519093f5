package boot

import (
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/pureboot/pureboot/pkg/data"
)

const (
	// DefaultHTTPPort is the port the HTTP surface listens on when no bind
	// address is given.
	DefaultHTTPPort = 8080

	defaultTFTPRoot     = "/var/lib/pureboot/tftp"
	defaultRetrySeconds = 10
)

// NewConfig merges c with the boot plane defaults. Zero fields in the
// defaults take their value from c; the caller mutates the returned Config
// afterwards, typically through CLI flags.
func NewConfig(c Config) *Config {
	defaults := &Config{
		DHCP: DHCPConfig{
			Enabled: true,
		},
		TFTP: TFTPConfig{
			Enabled: true,
			RootDir: defaultTFTPRoot,
			Timeout: 5 * time.Second,
			Retries: 5,
		},
		HTTP: HTTPConfig{
			Enabled: true,
		},
		Pi: PiConfig{
			Enabled:      true,
			DefaultModel: data.PiModel4,
		},
		Dispatch: DispatchConfig{
			AutoRegister: true,
			RetrySeconds: defaultRetrySeconds,
		},
		Storage: StorageConfig{
			ReadyTimeout: time.Minute,
		},
	}

	if err := mergo.Merge(defaults, &c); err != nil {
		panic(fmt.Sprintf("failed to merge config: %v", err))
	}

	return defaults
}
