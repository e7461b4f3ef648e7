// Package cli implements the stampede command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFatal      = 1
	ExitThresholds = 99
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func fatal(format string, args ...interface{}) error {
	return &ExitError{Code: ExitFatal, Err: fmt.Errorf(format, args...)}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "stampede",
		Short:   "Ramp virtual users against an HTTP endpoint and judge the run by thresholds",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Long: `Stampede replays records from a dataset file against a single HTTP endpoint,
ramping the number of virtual users through a stage plan. Each request carries
a fresh ID. Latency and failure thresholds decide whether the run passes and
can abort it early.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Main runs the CLI with args and returns the process exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code != ExitThresholds && exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitFatal
}

// Execute is called by main.main.
func Execute() int {
	return Main(os.Args[1:], os.Stdout, os.Stderr)
}

// addOverlayFlags registers the flags the config loader binds.
func addOverlayFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	fs.String("target", "", "Target address, host:port or full URL (env TARGET_URL)")
	fs.String("dataset", "", "Dataset file (JSON or CSV)")
	fs.String("select", "", "gjson path of the record array inside the dataset")
	fs.String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	fs.Int("start-vus", 0, "VUs at the start of the plan")
	fs.Float64("max-rps", 0, "Cap on requests per second across all VUs (0 = unlimited)")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (console, json)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}
