package cli

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/allocator"
	"github.com/shinji-kodama/portlock/internal/docker"
	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/model"
	"github.com/shinji-kodama/portlock/internal/port"
)

// session bundles what a subcommand needs to talk to the lock directory:
// the coordinator, the scanner behind it, and whatever must be closed or
// flushed when the command finishes.
type session struct {
	coord    *allocator.Coordinator
	scanner  *port.Scanner
	guard    *lockfile.Guard
	registry *prometheus.Registry

	docker  *docker.Client
	logger  *zap.Logger
	textout string
}

// openSession builds a session from the loaded configuration.
//
// probesPorts is set by commands that search for free ports (allocate,
// exec, scan). Only those connect to Docker when exclusion is enabled; the
// daemon must then answer a ping, otherwise the command fails with
// ExitDockerUnavailable rather than silently handing out ports that
// containers already publish.
func (a *app) openSession(ctx context.Context, probesPorts bool) (*session, error) {
	s := &session{
		registry: prometheus.NewRegistry(),
		guard:    lockfile.NewGuard(a.cfg.LockDir),
		logger:   a.logger,
		textout:  a.metricsTextfile,
	}

	scanOpts := []port.Option{
		port.WithBindAddress(a.cfg.BindAddress),
		port.WithLogger(a.logger),
	}
	if probesPorts && a.cfg.DockerExclude {
		c, err := docker.Connect(ctx)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("excluding ports published by Docker containers", zap.String("host", c.Host()))
		s.docker = c
		scanOpts = append(scanOpts, port.WithExcluder(c))
	}
	s.scanner = port.NewScanner(scanOpts...)

	metrics := allocator.NewMetrics(s.registry)
	s.coord = allocator.NewCoordinator(a.cfg, s.scanner, a.logger, metrics, nil)
	return s, nil
}

// Close flushes metrics, if requested, and releases the Docker client.
// Failures are logged; they never change the command's outcome.
func (s *session) Close() {
	if s.textout != "" {
		if err := prometheus.WriteToTextfile(s.textout, s.registry); err != nil {
			s.logger.Warn("failed to write metrics textfile", zap.String("path", s.textout), zap.Error(err))
		}
	}
	if s.docker != nil {
		if err := s.docker.Close(); err != nil {
			s.logger.Debug("failed to close Docker client", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

// guardError classifies a guard acquisition failure. Only a guard held by
// another process is ExitSupervisorBusy; anything else is a filesystem
// problem with the lock directory's location.
func guardError(err error, busyMessage string) error {
	if errors.Is(err, lockfile.ErrGuardBusy) {
		return model.WrapCLIError(model.ExitSupervisorBusy, busyMessage, err)
	}
	return model.WrapCLIError(model.ExitLockDirError, "failed to take supervisor guard", err)
}
