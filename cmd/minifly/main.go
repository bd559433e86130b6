package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "minifly",
	Short: "Minifly - a local emulator of the Fly.io Machines API",
	Long: `Minifly runs apps, machines and volumes against a local container
runtime, exposing the same Machines-API shape production tooling expects,
so fly.toml-style manifests and flyctl-alike workflows can be exercised
entirely offline.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"minifly version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
}

// exitCodeFor maps a top-level command error to one of the process exit
// codes production tooling scripts against.
func exitCodeFor(err error) int {
	switch e := err.(type) {
	case *exitError:
		return e.code
	default:
		return 1
	}
}

// exitError carries a specific process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
