package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/pureboot/pureboot/boot"
	"github.com/pureboot/pureboot/cmd/pureboot/flag"
	"github.com/pureboot/pureboot/pkg/backend/file"
	"github.com/pureboot/pureboot/pkg/backend/memory"
	"github.com/pureboot/pureboot/pkg/backend/noop"
	"golang.org/x/sync/errgroup"
)

func Execute(ctx context.Context, args []string) error {
	globals := &flag.GlobalConfig{
		Backend:         "memory",
		BackendFilePath: "/var/lib/pureboot/registry.yaml",
		PublicIP:        detectPublicIPv4(),
	}

	bc := &flag.BootConfig{
		Config:   boot.NewConfig(boot.Config{}),
		DHCPPort: 67,
		TFTPPort: 69,
		HTTPPort: boot.DefaultHTTPPort,
		Storage: flag.StorageConfig{
			Backend:      "local",
			ReadyTimeout: time.Minute,
		},
	}

	// order here determines the help output.
	bfs := ff.NewFlagSet("boot - proxy-DHCP, TFTP, Pi and HTTP boot plane")
	gfs := ff.NewFlagSet("globals").SetParent(bfs)
	flag.RegisterBootFlags(&flag.Set{FlagSet: bfs}, bc)
	flag.RegisterGlobal(&flag.Set{FlagSet: gfs}, globals)

	cli := &ff.Command{
		Name:     "pureboot",
		Usage:    "pureboot [flags]",
		LongHelp: "PureBoot network boot and lifecycle controller.",
		Flags:    gfs,
	}

	if err := cli.Parse(args, ff.WithEnvVarPrefix("PUREBOOT")); err != nil {
		e := errors.New(ffhelp.Command(cli).String())
		if !errors.Is(err, ff.ErrHelp) {
			e = fmt.Errorf("%w\n%s", e, err)
		}

		return e
	}

	if err := bc.Convert(ctx, &globals.TrustedProxies, globals.PublicIP, globals.BindAddr); err != nil {
		return err
	}
	bc.Config.OTELEnabled = globals.OTELEnabled
	bc.Config.HTTP.GitRev = gitRevision()

	log := defaultLogger(globals.LogLevel)
	log.Info("starting pureboot",
		"version", gitRevision(),
		"publicIP", globals.PublicIP,
		"serverURL", bc.Config.ServerURL,
		"backend", globals.Backend,
		"storageBackend", bc.Storage.Backend,
	)

	switch globals.Backend {
	case "memory":
		bc.Config.Backend = memory.New()
	case "file":
		b, err := file.NewBackend(ctx, log, globals.BackendFilePath)
		if err != nil {
			return fmt.Errorf("failed to create file backend: %w", err)
		}
		bc.Config.Backend = b
	case "none":
		bc.Config.Backend = noop.Backend{}
	default:
		return fmt.Errorf("unknown backend %q", globals.Backend)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := bc.Config.Start(ctx, log.WithValues("service", "boot")); err != nil {
			return fmt.Errorf("failed to start boot service: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
