package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// allocateFlags holds the flag values for the allocate command.
type allocateFlags struct {
	// continuation starts the search after the highest locked port.
	continuation bool
}

// newAllocateCommand creates the "allocate" cobra command.
func newAllocateCommand(a *app) *cobra.Command {
	flags := &allocateFlags{}

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Claim a free port and print it",
		Long: `Claim a free port from the range and print it on stdout.

The lock persists after this command exits. Free it with
"portlock release <port>" when the session ends; otherwise it is
reclaimed once it expires.

Examples:
  PORT=$(portlock allocate)
  portlock allocate --continue --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, a, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.continuation, "continue", false, "Start after the highest currently locked port")

	return cmd
}

func runAllocate(cmd *cobra.Command, a *app, flags *allocateFlags) error {
	s, err := a.openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	port, err := s.coord.AllocatePort(cmd.Context(), flags.continuation)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return printJSON(out, map[string]interface{}{"port": port, "lock": s.coord.Dir().LockPath(port)})
	}
	fmt.Fprintln(out, port)
	return nil
}
