// Package cli implements the cobra-based CLI commands for portlock.
//
// Each subcommand (init, allocate, release, exec, list, reclaim, scan) is
// defined in its own file within this package. This file defines the root
// command that carries global flags, loads configuration and translates
// errors into exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/config"
	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/logging"
	"github.com/shinji-kodama/portlock/internal/model"
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// app holds the state shared by every subcommand of one root command.
// A fresh app is created per NewRootCommand so tests can build several
// independent command trees.
type app struct {
	// v layers flags over environment, config file and defaults.
	v *viper.Viper

	// configFile is the optional --config path.
	configFile string

	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose switches the logger to debug level with a console encoder.
	verbose bool

	// metricsTextfile, when set, receives the allocation counters in
	// node_exporter textfile format after the command finishes.
	metricsTextfile string

	// cfg and logger are populated by PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// The root command itself does not perform any action; it only provides
// help text and global flags. Actual functionality is provided by
// subcommands.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "portlock",
		Short: "Coordinate TCP port allocation between cooperating processes",
		Long: `portlock hands out TCP ports from a fixed range to sessions started by
one or more supervisors on the same host. Each allocated port is claimed by
an exclusive lock file, so two cooperating processes never receive the same
port at the same time. Locks left behind by crashed sessions are reclaimed
after they expire.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (.yaml, .yml, .json or .jsonc)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	flags.StringVar(&a.metricsTextfile, "metrics-textfile", "", "Write allocation metrics to this file in Prometheus text format")
	flags.String("lock-dir", lockfile.DefaultDir, "Directory holding the lock files")
	flags.Int("base-port", model.DefaultBasePort, "First port of the allocation range")
	flags.Int("stop-port", model.DefaultStopPort, "Last port of the allocation range (inclusive)")
	flags.Bool("docker", false, "Skip host ports published by running Docker containers")

	// Flags take precedence over PORTLOCK_* variables and the config file.
	// BindPFlag only fails for a nil flag, which would be a programming error.
	_ = a.v.BindPFlag(config.KeyLockDir, flags.Lookup("lock-dir"))
	_ = a.v.BindPFlag(config.KeyBasePort, flags.Lookup("base-port"))
	_ = a.v.BindPFlag(config.KeyStopPort, flags.Lookup("stop-port"))
	_ = a.v.BindPFlag(config.KeyDockerExclude, flags.Lookup("docker"))

	rootCmd.AddCommand(newInitCommand(a))
	rootCmd.AddCommand(newAllocateCommand(a))
	rootCmd.AddCommand(newReleaseCommand(a))
	rootCmd.AddCommand(newExecCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newReclaimCommand(a))
	rootCmd.AddCommand(newScanCommand(a))

	return rootCmd
}

// setup loads the configuration and builds the logger. It runs before
// every subcommand.
func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to load configuration", err)
	}

	logger, err := logging.New(cfg.LogLevel, a.verbose)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to initialize logger", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	// exec mirrors the child's status without printing anything.
	var childErr *childExitError
	if errors.As(err, &childErr) {
		os.Exit(childErr.code)
	}

	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("json")
	cliErr := toCLIError(err)
	printError(os.Stderr, jsonOutput, cliErr.Message, cliErr.Err)
	os.Exit(int(cliErr.Code))
}

// toCLIError classifies err into a CLIError carrying the exit code a
// supervisor script can branch on. CLIErrors pass through unchanged.
func toCLIError(err error) *model.CLIError {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	var pathErr *fs.PathError
	switch {
	case errors.Is(err, model.ErrInvalidRange):
		return model.WrapCLIError(model.ExitInvalidRange, "starting port outside allocation range", err)
	case errors.Is(err, model.ErrNoFreePort):
		return model.WrapCLIError(model.ExitNoFreePort, "no free port available", err)
	case errors.Is(err, model.ErrLockConflict):
		return model.WrapCLIError(model.ExitLockConflict, "port lock held by another process", err)
	case errors.Is(err, lockfile.ErrGuardBusy):
		return model.WrapCLIError(model.ExitSupervisorBusy, "lock directory is in use", err)
	case errors.As(err, &pathErr):
		return model.WrapCLIError(model.ExitLockDirError, "lock directory error", err)
	default:
		return model.WrapCLIError(model.ExitGeneralError, "command failed", err)
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) to w, which is stderr outside of tests.
func printError(w io.Writer, jsonOutput bool, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
