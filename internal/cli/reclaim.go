package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newReclaimCommand creates the "reclaim" cobra command.
func newReclaimCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Delete every expired lock",
		Long: `Delete every lock older than the expiry threshold.

Allocation already reclaims an expired lock when it lands on that port;
this command sweeps the whole directory, for example from a cron job.

Examples:
  portlock reclaim
  portlock reclaim --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReclaim(cmd, a)
		},
	}
}

func runReclaim(cmd *cobra.Command, a *app) error {
	s, err := a.openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	reclaimed := s.coord.ReclaimExpired()

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return printJSON(out, buildLockList(a.cfg.LockDir, s.coord.Expiry(), reclaimed, time.Now()))
	}
	if len(reclaimed) == 0 {
		fmt.Fprintln(out, "No expired locks.")
		return nil
	}
	for _, l := range reclaimed {
		fmt.Fprintf(out, "Reclaimed port %d\n", l.Port)
	}
	return nil
}
