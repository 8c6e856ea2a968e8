package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// GlobalOptions are shared by every command.
type GlobalOptions struct {
	ConfigPath string
}

var globalOptions GlobalOptions

var cmdRoot = &cobra.Command{
	Use:   "sitecache",
	Short: "Offline-first cache in front of a website",
	Long: `
sitecache installs a versioned snapshot of a site's manifest into a cache
generation, then serves the site: documents network-first with a cached
fallback, assets cache-first.
`,
	Version:           version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
		os.Exit(0)
	},
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.StringVarP(&globalOptions.ConfigPath, "config", "c", "sitecache.yaml", "path to the YAML config file")
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
