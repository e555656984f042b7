package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/go-co-op/gocron/v2"
)

const (
	sweepJobName     = "inactivity-sweep"
	reconcileJobName = "settlement-reconcile"
	jobTimeout       = 30 * time.Second
)

// MaintenanceOptions sets how often the background jobs run.
type MaintenanceOptions struct {
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

// Maintenance runs the periodic inactivity sweep and settlement
// reconciliation. A run that overlaps the previous one is skipped.
type Maintenance struct {
	scheduler gocron.Scheduler
	engine    *Engine
	settle    *SettlementCoordinator
	logger    i.Logger
}

// NewMaintenance registers the jobs. Nothing runs until Start.
func NewMaintenance(engine *Engine, settle *SettlementCoordinator, logger i.Logger, opts MaintenanceOptions) (*Maintenance, error) {
	if engine == nil || settle == nil || logger == nil {
		return nil, errors.New("maintenance is missing a collaborator")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = time.Minute
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	m := &Maintenance{scheduler: sched, engine: engine, settle: settle, logger: logger}

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{sweepJobName, opts.SweepInterval, m.sweep},
		{reconcileJobName, opts.ReconcileInterval, m.reconcile},
	}
	for _, j := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("registering %s job: %w", j.name, err)
		}
	}
	return m, nil
}

// Start begins running the jobs.
func (m *Maintenance) Start() {
	m.scheduler.Start()
}

// Stop waits for running jobs and stops the scheduler.
func (m *Maintenance) Stop() error {
	return m.scheduler.Shutdown()
}

// Jobs lists the registered job names.
func (m *Maintenance) Jobs() []string {
	var names []string
	for _, j := range m.scheduler.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

func (m *Maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	m.engine.Sweep(ctx)
}

func (m *Maintenance) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := m.settle.Reconcile(ctx); err != nil {
		m.logger.Error(fmt.Sprintf("reconciling settlements: %s", err))
	}
}
