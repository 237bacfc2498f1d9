package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/eos"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

// Exit codes reported by the binary.
const (
	ExitFailure      = 1
	ExitPolicyDenied = 3
	ExitTransport    = 4
	ExitDevice       = 5
)

// globalOptions carries the persistent flags. Device flags override the
// configuration file.
type globalOptions struct {
	configPath      string
	verbose         bool
	jsonOutput      bool
	host            string
	port            int
	user            string
	password        string
	environment     string
	journalPath     string
	noJournal       bool
	metricsTextfile string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "netconverge",
		Short: "netconverge - EOS interface and switchport reconciler",
		Long: `netconverge drives the interface and switchport configuration of an
Arista EOS switch to a desired state over SSH.

Each run reads the current state, computes the attributes that differ,
compiles the minimal CLI command list and applies it in a configuration
session. Check mode reports the commands without touching the device.

Features:
  - Idempotent reconcile of interfaces and switchports
  - Lifecycle states: configured, unconfigured, default
  - Rego command guard evaluated before every apply
  - SQLite run journal with drift detection
  - startup-config backup before changes`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.host, "host", "", "device host (overrides config)")
	flags.IntVar(&opts.port, "port", 0, "device SSH port (overrides config)")
	flags.StringVarP(&opts.user, "user", "u", "", "device user (overrides config)")
	flags.StringVar(&opts.password, "password", "", "device password (prefer $NETCONVERGE_PASSWORD)")
	flags.StringVar(&opts.environment, "environment", "", "environment passed to policies (overrides config)")
	flags.StringVar(&opts.journalPath, "journal", "", "run journal path (overrides config)")
	flags.BoolVar(&opts.noJournal, "no-journal", false, "do not record runs in the journal")
	flags.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(newReconcileCommand(opts))
	rootCmd.AddCommand(newShowCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newPolicyCommand(opts))
	rootCmd.AddCommand(newBackupCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))

	return rootCmd
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var transportErr *ssh.TransportError
	var commandErr *eos.CommandError
	switch {
	case engine.Code(err) == engine.ErrCodePolicyDenied:
		return ExitPolicyDenied
	case errors.As(err, &transportErr):
		return ExitTransport
	case errors.As(err, &commandErr):
		return ExitDevice
	default:
		return ExitFailure
	}
}

// errorCode names an error for the journal.
func errorCode(err error) string {
	if code := engine.Code(err); code != "" {
		return code
	}
	var transportErr *ssh.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.IsAuthError {
			return "AUTH_ERROR"
		}
		return "TRANSPORT_ERROR"
	}
	var commandErr *eos.CommandError
	if errors.As(err, &commandErr) {
		return "DEVICE_REJECTED"
	}
	return ""
}
