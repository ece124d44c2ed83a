package main

import (
	"github.com/cuemby/aurora-core/pkg/admission"
	"github.com/cuemby/aurora-core/pkg/config"
	"github.com/cuemby/aurora-core/pkg/cron"
	"github.com/cuemby/aurora-core/pkg/events"
	"github.com/cuemby/aurora-core/pkg/filter"
	"github.com/cuemby/aurora-core/pkg/preempt"
	"github.com/cuemby/aurora-core/pkg/scheduler"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/cuemby/aurora-core/pkg/update"
)

// components is every package the core wires together, constructed once
// per process and shared across subcommands that need storage access
// (run, submit, update).
type components struct {
	cfg       *config.Config
	store     *storage.Store
	machine   *statemachine.Machine
	filter    *filter.Filter
	scheduler *scheduler.Scheduler
	preempter *preempt.Preempter
	cronMgr   *cron.Manager
	cronSched *cron.RobfigScheduler
	updateMgr *update.Manager
	validator *admission.Validator
	driver    loggingDriver
}

func newComponents(configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	types.ExecutorCPUReservation = cfg.ExecutorCPUReservation
	types.ExecutorRAMReservationMB = cfg.ExecutorRAMReservationMB

	bus := events.NewBroker()
	store := storage.New(bus, cfg.SlowQueryLogThreshold)
	driver := loggingDriver{}
	machine := statemachine.New(store, driver)
	f := filter.New(bus)
	cronSched := cron.NewRobfigScheduler()
	cronMgr := cron.New(store, machine, cronSched)
	cronMgr.SetBackoff(cfg.CronStartInitialBackoff, cfg.CronStartMaxBackoff)

	updateMgr := update.New(store, machine)
	updateMgr.SetEventBus(bus)

	return &components{
		cfg:       cfg,
		store:     store,
		machine:   machine,
		filter:    f,
		scheduler: scheduler.New(store, machine, f, driver),
		preempter: preempt.New(store, machine, f, cfg.PreemptionCandidacyDelay),
		cronMgr:   cronMgr,
		cronSched: cronSched,
		updateMgr: updateMgr,
		validator: admission.New(cronSched, admission.Config{
			RequireContactEmail: cfg.RequireContactEmail,
			MaxTasksPerJob:      cfg.MaxTasksPerJob,
		}),
		driver:    driver,
	}, nil
}
