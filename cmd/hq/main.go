// Command hq is the operator CLI for the message engine: sending and reading
// messages, inspecting threads, exporting and staging transfer bundles, and
// migrating configs between transports.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/public/hq"
)

var (
	flagConfig string
	flagHQRoot string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:           "hq",
		Short:         "Cross-HQ agent messaging and artifact exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $HIAMP_CONFIG_PATH)")
	root.PersistentFlags().StringVar(&flagHQRoot, "hq-root", ".", "HQ root directory")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(
		newSendCmd(),
		newInboxCmd(),
		newReplyCmd(),
		newThreadCmd(),
		newShareCmd(),
		newMigrateCmd(),
		newExportCmd(),
		newPreviewCmd(),
		newStageCmd(),
		newRejectCmd(),
	)

	if err := root.Execute(); err != nil {
		printError(err)
		if isUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// newEngine wires the embedded engine from the global flags.
func newEngine() (*hq.Engine, error) {
	return hq.New(hq.Options{
		ConfigPath: flagConfig,
		HQRoot:     flagHQRoot,
		Debug:      flagDebug,
	})
}

// printError renders the one-line error shape: the message, the code in
// brackets when present, and per-field lines for validation failures.
func printError(err error) {
	var f *fault.Fault
	if errors.As(err, &f) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", f.Message)
		fmt.Fprintf(os.Stderr, "[%s]\n", f.Code)
		if f.Code == fault.CodeConfigValidation && f.Detail != "" {
			for _, line := range strings.Split(f.Detail, "; ") {
				fmt.Fprintf(os.Stderr, "  %s\n", line)
			}
		} else if f.Detail != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", f.Detail)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
}

func isUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") ||
		strings.HasPrefix(msg, "required flag") ||
		strings.HasPrefix(msg, "invalid argument") ||
		strings.HasPrefix(msg, "accepts ")
}
