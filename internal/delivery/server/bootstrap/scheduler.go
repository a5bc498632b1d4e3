package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nexus/internal/shared/async"
	runtimeconfig "nexus/internal/shared/config"
	"nexus/internal/shared/logging"
)

const maintenanceTimeout = 5 * time.Minute

// SessionPurger removes expired sessions and OAuth states.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (sessions int64, states int64, err error)
}

// CycleRoller resets subscription allowances whose cycle has ended.
type CycleRoller interface {
	RolloverCycles(ctx context.Context) (int, error)
}

// Maintenance runs periodic housekeeping on a cron schedule.
type Maintenance struct {
	cron    *cron.Cron
	purger  SessionPurger
	roller  CycleRoller
	logger  logging.Logger
	running sync.Mutex
}

// NewMaintenance parses spec (standard five-field cron or an @every
// descriptor) and registers the housekeeping job.
func NewMaintenance(spec string, purger SessionPurger, roller CycleRoller, logger logging.Logger) (*Maintenance, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = runtimeconfig.DefaultMaintenanceSpec
	}
	m := &Maintenance{
		purger: purger,
		roller: roller,
		logger: logging.OrNop(logger),
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	m.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := m.cron.AddFunc(spec, func() { m.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return m, nil
}

// Start begins scheduling. Stop must be called to release the cron goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("Maintenance scheduler started")
}

// Stop halts scheduling and waits for a running job up to ctx.
func (m *Maintenance) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn("Maintenance job still running at shutdown")
	}
}

// RunOnce purges expired sessions and rolls over subscription cycles.
// Failures are logged and do not stop the other task.
func (m *Maintenance) RunOnce(ctx context.Context) {
	if !m.running.TryLock() {
		return
	}
	defer m.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	if m.purger != nil {
		sessions, states, err := m.purger.PurgeExpired(ctx)
		if err != nil {
			m.logger.Error("Maintenance: purge expired failed: %v", err)
		} else if sessions > 0 || states > 0 {
			m.logger.Info("Maintenance: purged %d sessions and %d oauth states", sessions, states)
		}
	}
	if m.roller != nil {
		rolled, err := m.roller.RolloverCycles(ctx)
		if err != nil {
			m.logger.Error("Maintenance: cycle rollover failed: %v", err)
		} else if rolled > 0 {
			m.logger.Info("Maintenance: rolled over %d subscription cycles", rolled)
		}
	}
}

// startMaintenance runs one pass immediately and then follows the schedule.
func startMaintenance(spec string, container *Container, logger logging.Logger) (*Maintenance, error) {
	m, err := NewMaintenance(spec, container.Auth, container.Billing, logger)
	if err != nil {
		return nil, err
	}
	async.Go(logger, "maintenance.initial", func() {
		m.RunOnce(context.Background())
	})
	m.Start()
	return m, nil
}
