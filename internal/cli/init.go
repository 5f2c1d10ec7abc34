package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// initFlags holds the flag values for the init command.
type initFlags struct {
	// force skips the supervisor guard and resets even while sessions
	// are running.
	force bool
}

// newInitCommand creates the "init" cobra command.
func newInitCommand(a *app) *cobra.Command {
	flags := &initFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Reset the lock directory",
		Long: `Reset the lock directory, dropping every existing lock.

Run this once when the supervisor starts. It refuses to run while any
"portlock exec" session is alive unless --force is given.

Examples:
  portlock init
  portlock init --force --lock-dir /run/myapp/locks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, a, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.force, "force", false, "Reset even while sessions hold the guard")

	return cmd
}

// runInit takes the exclusive guard and resets the directory. The reset
// itself is best-effort: a failure is logged, never returned.
func runInit(cmd *cobra.Command, a *app, flags *initFlags) error {
	s, err := a.openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	if !flags.force {
		if err := s.guard.AcquireExclusive(); err != nil {
			return guardError(err,
				fmt.Sprintf("cannot reset %s while sessions are running (use --force to override)", a.cfg.LockDir))
		}
		defer func() { _ = s.guard.Release() }()
	}

	s.coord.InitializeLockDirectory()

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return printJSON(out, map[string]interface{}{"lockDir": a.cfg.LockDir, "guard": s.guard.Path()})
	}
	fmt.Fprintf(out, "Lock directory %s reset\n", a.cfg.LockDir)
	return nil
}
