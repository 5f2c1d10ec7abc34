package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newScanCommand creates the "scan" cobra command.
func newScanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List ports in the range that are bound on this host",
		Long: `Probe every port in the allocation range and list those that are
already in use on this host, whether or not portlock allocated them.

Examples:
  portlock scan --base-port 38000 --stop-port 38100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, a)
		},
	}
}

func runScan(cmd *cobra.Command, a *app) error {
	s, err := a.openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	r := a.cfg.Range
	used := s.scanner.GetUsedPorts(r.Base, r.Stop)
	if used == nil {
		used = []int{}
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return printJSON(out, map[string]interface{}{"range": r.String(), "used": used})
	}
	if len(used) == 0 {
		fmt.Fprintf(out, "No ports in use in %s.\n", r)
		return nil
	}
	for _, p := range used {
		fmt.Fprintln(out, p)
	}
	return nil
}
