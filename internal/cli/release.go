package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/portlock/internal/model"
)

// newReleaseCommand creates the "release" cobra command.
func newReleaseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "release <port>",
		Short: "Release a previously allocated port",
		Long: `Delete the lock for a port so it can be handed out again immediately.

Examples:
  portlock release 38000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			return runRelease(cmd, a, port)
		},
	}
}

func runRelease(cmd *cobra.Command, a *app, port int) error {
	s, err := a.openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.coord.ReleasePort(port); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return printJSON(out, map[string]interface{}{"port": port, "released": true})
	}
	fmt.Fprintf(out, "Port %d released\n", port)
	return nil
}

// parsePort validates a port argument. Range membership is not checked
// here; releasing a lock left over from a wider range is legitimate.
func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("invalid port %q", arg))
	}
	return port, nil
}
