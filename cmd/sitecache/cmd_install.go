package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/sitecache/host"
	"github.com/unkn0wn-root/sitecache/internal/app"
	"github.com/unkn0wn-root/sitecache/internal/config"
	"github.com/unkn0wn-root/sitecache/internal/logging"
)

var cmdInstall = &cobra.Command{
	Use:   "install",
	Short: "Install the configured version once and report the result",
	Long: `
The "install" command fetches the configured manifest from the origin into the
configured storage and activates it, deleting every older generation. With
--dry-run the storage backend is replaced by process memory, so nothing
outlives the command.

EXIT STATUS
===========

Exit status is 0 if every manifest entry was installed, and non-zero otherwise.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd.Context(), globalOptions, installOptions, cmd.OutOrStdout())
	},
}

// InstallOptions bundles all options for the install command.
type InstallOptions struct {
	DryRun bool
}

var installOptions InstallOptions

func init() {
	cmdRoot.AddCommand(cmdInstall)

	f := cmdInstall.Flags()
	f.BoolVar(&installOptions.DryRun, "dry-run", false, "install into process memory instead of the configured storage")
}

func runInstall(ctx context.Context, gopts GlobalOptions, opts InstallOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewLoader().LoadFile(gopts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.DryRun {
		cfg.Storage.Backend = "memory"
		cfg.GenStore.Backend = "local"
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	reg := host.NewRegistration(a.Log)
	if err := a.Register(ctx, reg); err != nil {
		logger.Error("install failed", zap.String("version", cfg.Version), zap.Error(err))
		return err
	}

	gc, err := a.Storage.Open(ctx, cfg.Version)
	if err != nil {
		return err
	}
	keys, err := gc.Keys(ctx)
	if err != nil {
		return err
	}
	sort.Strings(keys)
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "installed %s: %d entries\n", cfg.Version, len(keys))
	for _, k := range keys {
		fmt.Fprintf(out, "  %s\n", k)
	}
	return nil
}
