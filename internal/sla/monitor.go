package sla

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fieldline/internal/domain"
)

const sweepBatchLimit = 500

// SweepStore is the subset of the storage layer the monitor queries.
type SweepStore interface {
	ListBreachCandidates(ctx context.Context, now string, limit int) ([]domain.Complaint, error)
	CountUnassigned(ctx context.Context) (int, error)
	ListPendingPenaltiesBefore(ctx context.Context, cutoff string, limit int) ([]domain.Penalty, error)
	ListCompanyIDs(ctx context.Context) ([]string, error)
	GetSLAStats(ctx context.Context, companyID, areaID string) (domain.ComplianceReport, error)
}

// ReportSink receives compliance reports from the daily sweep.
type ReportSink interface {
	Publish(ctx context.Context, report domain.ComplianceReport) error
}

// LogSink writes reports to the process log. Default sink.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, r domain.ComplianceReport) error {
	log.Printf("sla report: company=%s assigned=%d met=%d breached=%d pending_penalty=%d applied=%d total=%.2f",
		r.CompanyID, r.Assigned, r.Met, r.Breached, r.PendingPenalty, r.PenaltyApplied, r.PenaltyTotal)
	return nil
}

// Monitor schedules the recurring sweeps. Each sweep type runs on its
// own ticker and never overlaps a still-running instance of itself;
// different sweep types run independently.
type Monitor struct {
	Tracker *Tracker
	Store   SweepStore
	Sink    ReportSink
	Now     func() time.Time

	BreachInterval  time.Duration
	PenaltyInterval time.Duration
	ReportInterval  time.Duration
	GracePeriod     time.Duration

	breachBusy  atomic.Bool
	penaltyBusy atomic.Bool
	reportBusy  atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Start launches the sweep loops. They stop when ctx is cancelled or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.loop(ctx, m.BreachInterval, m.RunBreachSweep)
	m.loop(ctx, m.PenaltyInterval, m.RunPenaltySweep)
	m.loop(ctx, m.ReportInterval, m.RunReportSweep)
}

// Stop cancels the loops and waits for in-flight sweeps to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx)
			}
		}
	}()
}

// RunBreachSweep checks every assigned, still-open complaint whose
// deadline has passed. One item's failure is logged and does not abort
// the batch. A sweep already in flight makes this call a no-op.
func (m *Monitor) RunBreachSweep(ctx context.Context) {
	if !m.breachBusy.CompareAndSwap(false, true) {
		return
	}
	defer m.breachBusy.Store(false)
	m.countSweep("breach")
	m.gaugePending(ctx)

	nowStr := m.now().UTC().Format(time.RFC3339)
	candidates, err := m.Store.ListBreachCandidates(ctx, nowStr, sweepBatchLimit)
	if err != nil {
		log.Printf("breach sweep: list candidates: %v", err)
		return
	}
	for _, c := range candidates {
		if err := m.Tracker.CheckStatus(ctx, c.ID); err != nil {
			log.Printf("breach sweep: complaint %s: %v", c.ID, err)
		}
	}
}

// RunPenaltySweep applies pending penalties older than the grace
// period. The grace period keeps a technician who closes a complaint
// in the same instant as the breach from being charged.
func (m *Monitor) RunPenaltySweep(ctx context.Context) {
	if !m.penaltyBusy.CompareAndSwap(false, true) {
		return
	}
	defer m.penaltyBusy.Store(false)
	m.countSweep("penalty")

	cutoff := m.now().Add(-m.GracePeriod).UTC().Format(time.RFC3339)
	pending, err := m.Store.ListPendingPenaltiesBefore(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		log.Printf("penalty sweep: list pending: %v", err)
		return
	}
	for _, p := range pending {
		if err := m.Tracker.ApplyPenalty(ctx, p.ID); err != nil {
			log.Printf("penalty sweep: penalty %s: %v", p.ID, err)
		}
	}
}

// RunReportSweep publishes one compliance report per company. Not
// load-bearing for correctness; failures are logged only.
func (m *Monitor) RunReportSweep(ctx context.Context) {
	if !m.reportBusy.CompareAndSwap(false, true) {
		return
	}
	defer m.reportBusy.Store(false)
	m.countSweep("report")

	companies, err := m.Store.ListCompanyIDs(ctx)
	if err != nil {
		log.Printf("report sweep: list companies: %v", err)
		return
	}
	sink := m.Sink
	if sink == nil {
		sink = LogSink{}
	}
	for _, companyID := range companies {
		report, err := m.Store.GetSLAStats(ctx, companyID, "")
		if err != nil {
			log.Printf("report sweep: company %s: %v", companyID, err)
			continue
		}
		report.GeneratedAt = m.now().UTC().Format(time.RFC3339)
		if err := sink.Publish(ctx, report); err != nil {
			log.Printf("report sweep: publish %s: %v", companyID, err)
		}
	}
}

// gaugePending refreshes the pending-complaints gauge on each breach
// sweep, the most frequent of the loops.
func (m *Monitor) gaugePending(ctx context.Context) {
	if m.Tracker == nil || m.Tracker.Metrics == nil {
		return
	}
	n, err := m.Store.CountUnassigned(ctx)
	if err != nil {
		log.Printf("breach sweep: count unassigned: %v", err)
		return
	}
	m.Tracker.Metrics.PendingComplaints.Set(float64(n))
}

func (m *Monitor) countSweep(name string) {
	if m.Tracker != nil && m.Tracker.Metrics != nil {
		m.Tracker.Metrics.SweepRunsTotal.WithLabelValues(name).Inc()
	}
}
