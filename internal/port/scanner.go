package port

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/model"
)

// Excluder reports host ports that must be treated as occupied even when a
// bind probe succeeds.
type Excluder interface {
	ExcludedPorts(ctx context.Context) (map[int]bool, error)
}

// Scanner checks whether ports are available on the host machine.
//
// It asks the operating system directly with a TCP bind (net.Listen),
// rather than parsing /proc/net/* or shelling out to lsof/ss.
type Scanner struct {
	// bindAddress is the host part used for probes. Empty means all
	// interfaces, which matches how per-session servers usually bind.
	bindAddress string

	// excluder is optional; nil means no extra exclusions.
	excluder Excluder

	logger *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBindAddress sets the address probes bind to (e.g. "127.0.0.1").
func WithBindAddress(addr string) Option {
	return func(s *Scanner) { s.bindAddress = addr }
}

// WithExcluder adds a source of ports to skip during FindFreePort.
func WithExcluder(e Excluder) Option {
	return func(s *Scanner) { s.excluder = e }
}

// WithLogger sets the logger used for best-effort exclusion failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a new Scanner instance.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scanner")
	return s
}

// IsPortAvailable reports whether a TCP listener can bind port on the
// scanner's bind address. The listener is closed immediately.
func (s *Scanner) IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.bindAddress, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindFreePort scans [start, stop] (inclusive) upward and returns the first
// TCP port that is not bound on the host and not excluded.
//
// It returns a *model.NoFreePortError if nothing in the range is free. An
// Excluder failure is logged and the scan continues without exclusions.
// ctx is consulted between probes so a cancelled caller stops scanning.
func (s *Scanner) FindFreePort(ctx context.Context, start, stop int) (int, error) {
	excluded := s.excluded(ctx)

	for port := start; port <= stop; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if excluded[port] {
			continue
		}
		if s.IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, &model.NoFreePortError{Start: start, Stop: stop}
}

// GetUsedPorts returns the ports in [start, stop] (inclusive) that fail a
// TCP bind probe. The scan command uses it to show range occupancy.
func (s *Scanner) GetUsedPorts(start, stop int) []int {
	var used []int
	for port := start; port <= stop; port++ {
		if !s.IsPortAvailable(port) {
			used = append(used, port)
		}
	}
	return used
}

func (s *Scanner) excluded(ctx context.Context) map[int]bool {
	if s.excluder == nil {
		return nil
	}
	ports, err := s.excluder.ExcludedPorts(ctx)
	if err != nil {
		s.logger.Warn("port exclusion unavailable, scanning without it", zap.Error(err))
		return nil
	}
	return ports
}
