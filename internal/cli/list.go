package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/portlock/internal/model"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	// output selects text, json or yaml. The global --json flag wins.
	output string
}

// lockEntry is the serialized form of one lock in list and reclaim output.
type lockEntry struct {
	Port       int       `json:"port" yaml:"port"`
	Path       string    `json:"path" yaml:"path"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	AgeSeconds int64     `json:"ageSeconds" yaml:"ageSeconds"`
	Expired    bool      `json:"expired" yaml:"expired"`
}

// lockList is the top-level list document. Locks is never nil so JSON
// shows [] instead of null when the directory is empty.
type lockList struct {
	LockDir string      `json:"lockDir" yaml:"lockDir"`
	Expiry  string      `json:"expiry" yaml:"expiry"`
	Locks   []lockEntry `json:"locks" yaml:"locks"`
}

// newListCommand creates the "list" cobra command.
func newListCommand(a *app) *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List current port locks",
		Long: `List the lock files in the lock directory, with their age and whether
they have expired and will be reclaimed on the next allocation.

Examples:
  portlock list
  portlock list --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", outputText, "Output format: text, json, yaml")

	return cmd
}

func runList(cmd *cobra.Command, a *app, flags *listFlags) error {
	format := flags.output
	if a.jsonOutput {
		format = outputJSON
	}
	if format != outputText && format != outputJSON && format != outputYAML {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid output format %q: valid values are text, json, yaml", format))
	}

	s, err := a.openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	locks, err := s.coord.Locks()
	if err != nil {
		return model.WrapCLIError(model.ExitLockDirError, "failed to read lock directory", err)
	}

	doc := buildLockList(a.cfg.LockDir, s.coord.Expiry(), locks, time.Now())
	return printLockList(cmd.OutOrStdout(), format, doc)
}

// buildLockList converts lock records into their output form as of now.
func buildLockList(dir string, expiry time.Duration, locks []model.LockInfo, now time.Time) lockList {
	doc := lockList{
		LockDir: dir,
		Expiry:  expiry.String(),
		Locks:   make([]lockEntry, 0, len(locks)),
	}
	for _, l := range locks {
		doc.Locks = append(doc.Locks, lockEntry{
			Port:       l.Port,
			Path:       l.Path,
			CreatedAt:  l.CreatedAt,
			AgeSeconds: int64(l.Age(now) / time.Second),
			Expired:    l.Expired(now, expiry),
		})
	}
	return doc
}

// printLockList renders doc in the requested format.
//
// The text table format is:
//
//	PORT   AGE       EXPIRED  PATH
//	38000  12m5s     no       /tmp/ramiel_file_lock/38000.lock
func printLockList(w io.Writer, format string, doc lockList) error {
	switch format {
	case outputJSON:
		return printJSON(w, doc)
	case outputYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	if len(doc.Locks) == 0 {
		fmt.Fprintf(w, "No locks in %s.\n", doc.LockDir)
		return nil
	}

	fmt.Fprintf(w, "%-6s %-9s %-8s %s\n", "PORT", "AGE", "EXPIRED", "PATH")
	for _, l := range doc.Locks {
		fmt.Fprintf(w, "%-6d %-9s %-8s %s\n",
			l.Port,
			FormatAge(time.Duration(l.AgeSeconds)*time.Second),
			yesNo(l.Expired),
			l.Path,
		)
	}
	return nil
}

// FormatAge renders a lock age rounded to the second. Negative ages, seen
// when the clock moved backwards, render as "0s".
//
// Example:
//
//	12*time.Minute + 5*time.Second → "12m5s"
func FormatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	return age.Round(time.Second).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
