package script

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
)

// Syncer keeps the chain scripts in the TFTP root current. It runs at startup
// and whenever the server's primary IP changes; files are rewritten only when
// their content actually differs, write-and-rename so TFTP readers never see
// a torn file.
type Syncer struct {
	Log logr.Logger

	// TFTPRoot is the directory the TFTP server serves from.
	TFTPRoot string

	// ScriptData parameterises the rendered scripts.
	ScriptData Data
}

// Sync renders and installs autoexec.ipxe, bios/boot.ipxe and uefi/boot.ipxe.
func (s *Syncer) Sync(ctx context.Context) error {
	autoexec, err := Autoexec(s.ScriptData)
	if err != nil {
		return err
	}
	boot, err := Boot(s.ScriptData)
	if err != nil {
		return err
	}

	files := map[string]string{
		"autoexec.ipxe":  autoexec,
		"bios/boot.ipxe": boot,
		"uefi/boot.ipxe": boot,
	}
	for rel, content := range files {
		if err := s.install(ctx, rel, []byte(content)); err != nil {
			return fmt.Errorf("syncing %s: %w", rel, err)
		}
	}

	return nil
}

func (s *Syncer) install(ctx context.Context, rel string, content []byte) error {
	path := filepath.Join(s.TFTPRoot, rel)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		s.Log.V(1).Info("tftp script unchanged", "path", rel)
		return nil
	}

	return retry.Do(
		func() error {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			tmp := path + ".tmp"
			if err := os.WriteFile(tmp, content, 0o644); err != nil {
				return err
			}
			if err := os.Rename(tmp, path); err != nil {
				return err
			}
			s.Log.Info("tftp script updated", "path", rel, "bytes", len(content))
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
}
