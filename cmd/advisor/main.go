package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "advisor",
		Short:         "Taiwan 36-hour forecast with an LLM weather advisory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "config", "directory holding {ENV_NAME}.yaml and secrets.yaml")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "write structured logs to stderr")

	root.AddCommand(
		newLocationsCmd(opts),
		newForecastCmd(opts),
		newAdviseCmd(opts),
	)
	return root
}

type rootOptions struct {
	configDir string
	verbose   bool
}
