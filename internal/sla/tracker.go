// Package sla owns the deadline state machine: timer start, breach
// detection, and the penalty lifecycle.
package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/audit"
	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/metrics"
	"fieldline/internal/repo"
)

// Store is the subset of the storage layer the tracker writes through.
type Store interface {
	GetComplaint(ctx context.Context, id string) (domain.Complaint, error)
	StartSLA(ctx context.Context, id, deadline, now string) error
	TransitionSLAStatus(ctx context.Context, id string, from []string, to, now string) (bool, error)
	SetComplaintPenaltyAmount(ctx context.Context, id string, amount float64, now string) error
	CreatePenalty(ctx context.Context, p domain.Penalty) error
	GetPenalty(ctx context.Context, id string) (domain.Penalty, error)
	MarkPenaltyApplied(ctx context.Context, id, now string) (bool, error)
	MarkPenaltyWaived(ctx context.Context, id, actorID, reason, now string) (bool, error)
}

// Tracker drives per-complaint SLA transitions. All writes use
// conditional updates so concurrent sweeps and foreground calls cannot
// double-transition or double-penalize.
type Tracker struct {
	Store   Store
	Config  *config.Config
	Metrics *metrics.Metrics
	Audit   audit.Recorder
	Now     func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// StartTimer computes the deadline from the assignment time and the
// priority window and marks the SLA pending. Reassignment calls this
// again, resetting the deadline from the new assignment time.
func (t *Tracker) StartTimer(ctx context.Context, c domain.Complaint) (domain.Complaint, error) {
	if c.AssigneeID == nil || c.AssignedAt == nil {
		return c, fmt.Errorf("complaint %s has no assignment to time", c.ID)
	}
	assignedAt, err := time.Parse(time.RFC3339, *c.AssignedAt)
	if err != nil {
		return c, fmt.Errorf("parse assigned_at: %w", err)
	}
	deadline := assignedAt.Add(t.Config.Window(c.Priority)).UTC().Format(time.RFC3339)
	nowStr := t.now().UTC().Format(time.RFC3339)
	if err := t.Store.StartSLA(ctx, c.ID, deadline, nowStr); err != nil {
		return c, err
	}
	c.SLADeadline = &deadline
	c.SLAStatus = domain.SLAPending
	return c, nil
}

// CheckStatus evaluates one complaint against its deadline. Closed
// complaints are retroactively marked met or breached. Open complaints
// past the deadline move pending -> pending_penalty, and the caller
// that wins that transition creates the penalty record. Re-running
// with no intervening change is a no-op.
func (t *Tracker) CheckStatus(ctx context.Context, complaintID string) error {
	c, err := t.Store.GetComplaint(ctx, complaintID)
	if err != nil {
		return err
	}
	if c.SLADeadline == nil || c.AssigneeID == nil {
		return nil
	}
	deadline, err := time.Parse(time.RFC3339, *c.SLADeadline)
	if err != nil {
		return fmt.Errorf("parse sla_deadline: %w", err)
	}
	now := t.now()
	nowStr := now.UTC().Format(time.RFC3339)

	if !c.Open() {
		closedAt := c.UpdatedAt
		if c.ResolvedAt != nil {
			closedAt = *c.ResolvedAt
		}
		closed, err := time.Parse(time.RFC3339, closedAt)
		if err != nil {
			return fmt.Errorf("parse resolved_at: %w", err)
		}
		target := domain.SLAMet
		if closed.After(deadline) {
			target = domain.SLABreached
		}
		_, err = t.Store.TransitionSLAStatus(ctx, c.ID, []string{domain.SLAPending}, target, nowStr)
		return err
	}

	if !now.After(deadline) || c.SLAStatus != domain.SLAPending {
		return nil
	}

	won, err := t.Store.TransitionSLAStatus(ctx, c.ID, []string{domain.SLAPending}, domain.SLAPendingPenalty, nowStr)
	if err != nil {
		return err
	}
	if !won {
		// Another sweep or caller got here first.
		return nil
	}
	if t.Metrics != nil {
		t.Metrics.BreachesDetected.Inc()
	}
	_, err = t.CreatePenalty(ctx, c)
	return err
}

// CreatePenalty records one pending penalty for a breached complaint.
// The storage layer enforces at most one live penalty per complaint;
// losing that race is not an error.
func (t *Tracker) CreatePenalty(ctx context.Context, c domain.Complaint) (*domain.Penalty, error) {
	if c.AssigneeID == nil || c.AssignedAt == nil || c.SLADeadline == nil {
		return nil, fmt.Errorf("complaint %s is not eligible for a penalty", c.ID)
	}
	deadline, err := time.Parse(time.RFC3339, *c.SLADeadline)
	if err != nil {
		return nil, fmt.Errorf("parse sla_deadline: %w", err)
	}
	now := t.now()
	p := domain.Penalty{
		ID:                  uuid.NewString(),
		ComplaintID:         c.ID,
		TechnicianID:        *c.AssigneeID,
		CompanyID:           c.CompanyID,
		Amount:              t.Config.SLA.PenaltyAmount,
		Status:              domain.PenaltyPending,
		AssignedAt:          *c.AssignedAt,
		SLADeadline:         *c.SLADeadline,
		BreachDurationHours: now.Sub(deadline).Hours(),
		CreatedAt:           now.UTC().Format(time.RFC3339),
	}
	if err := t.Store.CreatePenalty(ctx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}
	if t.Metrics != nil {
		t.Metrics.PenaltiesCreated.Inc()
	}
	return &p, nil
}

// ApplyPenalty moves a pending penalty to applied and denormalizes the
// amount onto the complaint. Already applied or waived penalties are a
// no-op, not an error.
func (t *Tracker) ApplyPenalty(ctx context.Context, penaltyID string) error {
	p, err := t.Store.GetPenalty(ctx, penaltyID)
	if err != nil {
		return err
	}
	nowStr := t.now().UTC().Format(time.RFC3339)
	applied, err := t.Store.MarkPenaltyApplied(ctx, p.ID, nowStr)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if err := t.Store.SetComplaintPenaltyAmount(ctx, p.ComplaintID, p.Amount, nowStr); err != nil {
		return err
	}
	if _, err := t.Store.TransitionSLAStatus(ctx, p.ComplaintID,
		[]string{domain.SLAPendingPenalty}, domain.SLAPenaltyApplied, nowStr); err != nil {
		return err
	}
	if t.Metrics != nil {
		t.Metrics.PenaltiesApplied.Inc()
	}
	return nil
}

// WaivePenalty is terminal for the penalty and valid only from
// pending. The waiver is recorded in the audit trail.
func (t *Tracker) WaivePenalty(ctx context.Context, penaltyID, actorID, reason string) error {
	p, err := t.Store.GetPenalty(ctx, penaltyID)
	if err != nil {
		return err
	}
	nowStr := t.now().UTC().Format(time.RFC3339)
	waived, err := t.Store.MarkPenaltyWaived(ctx, p.ID, actorID, reason, nowStr)
	if err != nil {
		return err
	}
	if !waived {
		return fmt.Errorf("%w: penalty %s is not pending", repo.ErrConflict, penaltyID)
	}
	if _, err := t.Store.TransitionSLAStatus(ctx, p.ComplaintID,
		[]string{domain.SLAPendingPenalty}, domain.SLAPenaltyWaived, nowStr); err != nil {
		return err
	}
	if t.Audit != nil {
		details := map[string]any{
			"complaint_id":  p.ComplaintID,
			"technician_id": p.TechnicianID,
			"amount":        p.Amount,
			"reason":        reason,
		}
		if err := t.Audit.Record(ctx, actorID, "penalty.waive", "penalty", p.ID, details); err != nil {
			return fmt.Errorf("record audit entry: %w", err)
		}
	}
	return nil
}
