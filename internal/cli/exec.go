package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/model"
)

// execFlags holds the flag values for the exec command.
type execFlags struct {
	// continuation starts the search after the highest locked port.
	continuation bool

	// envName is the environment variable that carries the port.
	envName string
}

// childExitError carries a child's non-zero exit status up to Execute,
// which exits with it without printing an error.
type childExitError struct {
	code int
}

func (e *childExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

// newExecCommand creates the "exec" cobra command.
func newExecCommand(a *app) *cobra.Command {
	flags := &execFlags{}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Run a command with an allocated port",
		Long: `Allocate a port, run a command with the port in its environment, and
release the port when the command exits. SIGTERM is forwarded to the
command; SIGINT from the terminal reaches it directly. portlock exits with
the command's exit status.

While the command runs, the lock directory cannot be reset by
"portlock init" (without --force).

Examples:
  portlock exec -- ./server --listen :$PORT
  portlock exec --env HTTP_PORT --continue -- python -m http.server`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, a, flags, args)
		},
	}

	cmd.Flags().BoolVar(&flags.continuation, "continue", false, "Start after the highest currently locked port")
	cmd.Flags().StringVar(&flags.envName, "env", "PORT", "Environment variable that receives the port")

	return cmd
}

func runExec(cmd *cobra.Command, a *app, flags *execFlags, args []string) error {
	s, err := a.openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	// The shared guard is held for the whole session so a concurrent
	// reset cannot drop this session's lock out from under it.
	if err := s.guard.AcquireShared(); err != nil {
		return guardError(err, "lock directory is being reset")
	}
	defer func() { _ = s.guard.Release() }()

	port, err := s.coord.AllocatePort(cmd.Context(), flags.continuation)
	if err != nil {
		return err
	}
	log := a.logger.With(zap.Int("port", port), zap.String("command", args[0]))

	defer func() {
		if err := s.coord.ReleasePort(port); err != nil {
			log.Warn("failed to release port after command exit", zap.Error(err))
		}
	}()

	child := exec.Command(args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	child.Env = append(os.Environ(), fmt.Sprintf("%s=%d", flags.envName, port))

	// Register before Start so a signal arriving in between is not lost.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := child.Start(); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to start %s", args[0]), err)
	}
	log.Debug("command started", zap.Int("pid", child.Process.Pid))

	done := make(chan struct{})
	defer close(done)
	go forwardSignals(child.Process, signals, done, log)

	return exitStatus(child.Wait())
}

// shouldForward reports whether sig must be relayed to the child. The
// child shares portlock's foreground process group, so a terminal Ctrl-C
// already reaches it; relaying SIGINT would deliver it twice. SIGINT is
// still caught so portlock outlives the child and releases the port.
func shouldForward(sig os.Signal) bool {
	return sig != os.Interrupt
}

// forwardSignals relays signals to the child until done is closed.
func forwardSignals(proc *os.Process, signals <-chan os.Signal, done <-chan struct{}, log *zap.Logger) {
	for {
		select {
		case sig := <-signals:
			if !shouldForward(sig) {
				log.Debug("signal delivered to process group, not forwarding", zap.Stringer("signal", sig))
				continue
			}
			log.Debug("forwarding signal", zap.Stringer("signal", sig))
			if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				log.Warn("failed to forward signal", zap.Stringer("signal", sig), zap.Error(err))
			}
		case <-done:
			return
		}
	}
}

// exitStatus converts the result of Wait into the error runExec returns.
// A child killed by a signal reports 128+signo, as shells do.
func exitStatus(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return model.WrapCLIError(model.ExitGeneralError, "failed to wait for command", err)
	}

	code := exitErr.ExitCode()
	if code == -1 {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = 128 + int(ws.Signal())
		} else {
			code = int(model.ExitGeneralError)
		}
	}
	return &childExitError{code: code}
}
