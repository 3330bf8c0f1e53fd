// Package app wires the engine together: database, storage layer,
// caches, coordinator, SLA tracker, and monitor.
package app

import (
	"database/sql"
	"fmt"
	"time"

	"fieldline/internal/area"
	"fieldline/internal/assign"
	"fieldline/internal/audit"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/metrics"
	"fieldline/internal/migrate"
	"fieldline/internal/notify"
	"fieldline/internal/repo"
	"fieldline/internal/sla"
	"fieldline/internal/workload"
)

// Options controls App construction. Zero values get sensible
// defaults; Now and Sink exist for tests and the serve command.
type Options struct {
	Workspace string
	CompanyID string
	Now       func() time.Time
	Sink      sla.ReportSink
	Auth      assign.Authorizer
	Notifier  notify.Notifier
}

// App is the assembled engine.
type App struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Metrics   *metrics.Metrics
	Areas     *area.Directory
	Workloads *workload.Tracker
	SLA       *sla.Tracker
	Monitor   *sla.Monitor
	Coord     *assign.Coordinator
	Audit     audit.Writer
	Notifier  notify.Notifier
}

func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.Workspace, opts.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return Build(conn, cfg, opts)
}

// Build assembles an App over an already-open, migrated database.
// Tests use it directly with an in-memory or temp-dir store.
func Build(conn *sql.DB, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := repo.Repo{DB: conn}
	m := metrics.New()
	auditor := audit.Writer{DB: conn, Now: now}

	notifier := opts.Notifier
	if notifier == nil {
		if len(cfg.Webhooks) > 0 {
			notifier = notify.NewWebhookNotifier(cfg.Webhooks)
		} else {
			notifier = notify.LogNotifier{}
		}
	}

	areas := area.New(r, cfg.Assignment.TechnicianCapacity)
	workloads := workload.New(r, cfg.Assignment.TechnicianCapacity, cfg.Workload.CacheTTL.Std(), cfg.Location())
	workloads.Now = now

	tracker := &sla.Tracker{
		Store:   r,
		Config:  cfg,
		Metrics: m,
		Audit:   auditor,
		Now:     now,
	}

	auth := opts.Auth
	if auth == nil {
		auth = assign.AllowAll{}
	}
	coord := &assign.Coordinator{
		Store:     r,
		Areas:     areas,
		Workloads: workloads,
		SLA:       tracker,
		Notifier:  notifier,
		Audit:     auditor,
		Auth:      auth,
		Metrics:   m,
		Config:    cfg,
		Now:       now,
	}

	monitor := &sla.Monitor{
		Tracker:         tracker,
		Store:           r,
		Sink:            opts.Sink,
		Now:             now,
		BreachInterval:  cfg.Monitor.BreachInterval.Std(),
		PenaltyInterval: cfg.Monitor.PenaltyInterval.Std(),
		ReportInterval:  cfg.Monitor.ReportInterval.Std(),
		GracePeriod:     cfg.SLA.GracePeriod.Std(),
	}

	return &App{
		DB:        conn,
		Repo:      r,
		Config:    cfg,
		Metrics:   m,
		Areas:     areas,
		Workloads: workloads,
		SLA:       tracker,
		Monitor:   monitor,
		Coord:     coord,
		Audit:     auditor,
		Notifier:  notifier,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
