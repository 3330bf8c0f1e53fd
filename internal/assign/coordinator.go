package assign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fieldline/internal/area"
	"fieldline/internal/audit"
	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/metrics"
	"fieldline/internal/notify"
	"fieldline/internal/repo"
	"fieldline/internal/workload"
)

var (
	// ErrAlreadyAssigned is returned when a complaint already has an
	// assignee, including when a concurrent caller wins the claim race.
	ErrAlreadyAssigned = errors.New("complaint already assigned")

	// ErrUnauthorized is returned when the actor may not manage the
	// complaint's company or area.
	ErrUnauthorized = errors.New("actor not authorized for this complaint")
)

// Reasons carried on a manual-assignment outcome.
const (
	ReasonNoAreaCapacity     = "no area with available technicians"
	ReasonAllTechsAtCapacity = "all technicians in the nearest area are at capacity"
)

// Outcome is the structured result of an assignment attempt. A
// capacity shortfall is reported here, not as an error, so a human
// dispatcher can step in.
type Outcome struct {
	Complaint  domain.Complaint   `json:"complaint"`
	Technician *domain.Technician `json:"technician,omitempty"`
	Area       *domain.Area       `json:"area,omitempty"`
	Distance   float64            `json:"distance_km,omitempty"`
	Score      float64            `json:"score,omitempty"`

	RequiresManualAssignment bool         `json:"requires_manual_assignment,omitempty"`
	Reason                   string       `json:"reason,omitempty"`
	SuggestedArea            *domain.Area `json:"suggested_area,omitempty"`
}

// Store is the subset of the storage layer the coordinator writes
// through. All complaint mutations go through these methods.
type Store interface {
	GetComplaint(ctx context.Context, id string) (domain.Complaint, error)
	GetTechnician(ctx context.Context, id string) (domain.Technician, error)
	GetArea(ctx context.Context, id string) (domain.Area, error)
	ListTechnicians(ctx context.Context, f repo.TechnicianFilters) ([]domain.Technician, error)
	ClaimComplaint(ctx context.Context, id, technicianID string, capacity int, now string) (bool, error)
	TransferComplaint(ctx context.Context, id, fromTechnicianID, toTechnicianID, now string) (bool, error)
}

// SLATimers starts the deadline clock after a committed assignment.
type SLATimers interface {
	StartTimer(ctx context.Context, c domain.Complaint) (domain.Complaint, error)
}

// Authorizer decides whether an actor may manually manage a
// complaint. Authorization policy lives outside the engine.
type Authorizer interface {
	Authorize(ctx context.Context, actorID string, c domain.Complaint) error
}

// AllowAll authorizes every actor. Used by the CLI, which already runs
// with operator credentials.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, domain.Complaint) error { return nil }

// Coordinator owns the assignment state machine: resolve area, rank
// candidates, commit the winner with a conditional update, then start
// the SLA timer and fan out notifications.
type Coordinator struct {
	Store     Store
	Areas     *area.Directory
	Workloads *workload.Tracker
	SLA       SLATimers
	Notifier  notify.Notifier
	Audit     audit.Recorder
	Auth      Authorizer
	Metrics   *metrics.Metrics
	Config    *config.Config
	Now       func() time.Time
}

func (co *Coordinator) now() time.Time {
	if co.Now != nil {
		return co.Now()
	}
	return time.Now()
}

func (co *Coordinator) caps() Caps {
	return Caps{
		Daily:      co.Config.Assignment.DailyCap,
		StaffDaily: co.Config.Assignment.StaffDailyCap,
	}
}

// Assign picks the best available technician for an unassigned
// complaint and commits the assignment. Exactly one concurrent caller
// wins; the rest get ErrAlreadyAssigned.
func (co *Coordinator) Assign(ctx context.Context, complaintID string) (Outcome, error) {
	c, err := co.Store.GetComplaint(ctx, complaintID)
	if err != nil {
		return Outcome{}, err
	}
	if c.AssigneeID != nil {
		return Outcome{}, fmt.Errorf("%w: complaint %s", ErrAlreadyAssigned, complaintID)
	}

	res, err := co.Areas.ResolveLocation(ctx, c)
	if err != nil {
		return Outcome{}, err
	}
	nearest, err := co.Areas.FindNearestAreaWithCapacity(ctx, c.CompanyID, res.Area)
	if err != nil {
		return Outcome{}, err
	}
	if nearest == nil {
		return co.manualFallback(c, res.Area, ReasonNoAreaCapacity), nil
	}

	techs, err := co.Store.ListTechnicians(ctx, repo.TechnicianFilters{
		CompanyID:  c.CompanyID,
		AreaID:     nearest.Area.ID,
		ActiveOnly: true,
	})
	if err != nil {
		return Outcome{}, err
	}

	candidates := make([]Candidate, 0, len(techs))
	for _, t := range techs {
		w, err := co.Workloads.GetWorkload(ctx, t.ID)
		if err != nil {
			return Outcome{}, err
		}
		candidates = append(candidates, Candidate{Technician: t, Workload: w})
	}
	ranked := SelectBest(candidates, co.caps())
	if len(ranked) == 0 {
		return co.manualFallback(c, &nearest.Area, ReasonAllTechsAtCapacity), nil
	}

	// Snapshots rank the candidates; the commit itself recounts the
	// winner's active load in storage, inside the conditional update.
	// A refused claim is either a lost race on the complaint or a
	// technician whose snapshot went stale; in the latter case try the
	// next candidate.
	nowStr := co.now().UTC().Format(time.RFC3339)
	capacity := co.Config.Assignment.TechnicianCapacity
	var winner *Candidate
	for i := range ranked {
		cand := ranked[i]
		claimed, err := co.Store.ClaimComplaint(ctx, c.ID, cand.Technician.ID, capacity, nowStr)
		if err != nil {
			return Outcome{}, err
		}
		if claimed {
			winner = &cand
			break
		}
		cur, err := co.Store.GetComplaint(ctx, c.ID)
		if err != nil {
			return Outcome{}, err
		}
		if cur.AssigneeID != nil {
			return Outcome{}, fmt.Errorf("%w: complaint %s", ErrAlreadyAssigned, complaintID)
		}
		co.Workloads.Invalidate(cand.Technician.ID)
	}
	if winner == nil {
		return co.manualFallback(c, &nearest.Area, ReasonAllTechsAtCapacity), nil
	}

	co.Workloads.RecordDelta(winner.Technician.ID, +1)

	c.AssigneeID = &winner.Technician.ID
	c.AssignedAt = &nowStr
	c.Status = domain.StatusInProgress
	c, err = co.SLA.StartTimer(ctx, c)
	if err != nil {
		return Outcome{}, err
	}

	if co.Metrics != nil {
		co.Metrics.AssignmentsTotal.WithLabelValues("auto").Inc()
	}

	tech := winner.Technician
	areaCopy := nearest.Area
	co.dispatch(tech.ID, notify.KindAssigned, map[string]any{
		"complaint_id": c.ID,
		"priority":     c.Priority,
		"sla_deadline": deref(c.SLADeadline),
		"area":         areaCopy.Name,
	})
	if areaCopy.ManagerID != nil {
		co.dispatch(*areaCopy.ManagerID, notify.KindAssigned, map[string]any{
			"complaint_id":  c.ID,
			"technician_id": tech.ID,
			"area":          areaCopy.Name,
		})
	}

	return Outcome{
		Complaint:  c,
		Technician: &tech,
		Area:       &areaCopy,
		Distance:   nearest.Distance,
		Score:      winner.Score,
	}, nil
}

// Reassign moves a complaint to a specific technician, bypassing
// scoring. Unassigned complaints are claimed; assigned ones are
// transferred with a compare-and-swap on the current assignee. The
// SLA deadline is recomputed from the reassignment time.
func (co *Coordinator) Reassign(ctx context.Context, complaintID, technicianID, actorID string) (Outcome, error) {
	c, err := co.Store.GetComplaint(ctx, complaintID)
	if err != nil {
		return Outcome{}, err
	}
	tech, err := co.Store.GetTechnician(ctx, technicianID)
	if err != nil {
		return Outcome{}, err
	}
	if co.Auth != nil {
		if err := co.Auth.Authorize(ctx, actorID, c); err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}

	nowStr := co.now().UTC().Format(time.RFC3339)
	var previous string
	kind := "manual"
	if c.AssigneeID == nil {
		// Capacity 0: a manual assignment is an operator decision and may
		// deliberately exceed the automatic cap.
		claimed, err := co.Store.ClaimComplaint(ctx, c.ID, tech.ID, 0, nowStr)
		if err != nil {
			return Outcome{}, err
		}
		if !claimed {
			return Outcome{}, fmt.Errorf("%w: complaint %s", ErrAlreadyAssigned, complaintID)
		}
	} else {
		previous = *c.AssigneeID
		kind = "reassign"
		moved, err := co.Store.TransferComplaint(ctx, c.ID, previous, tech.ID, nowStr)
		if err != nil {
			return Outcome{}, err
		}
		if !moved {
			return Outcome{}, fmt.Errorf("%w: assignee changed since read", repo.ErrConflict)
		}
		co.Workloads.RecordDelta(previous, -1)
	}
	co.Workloads.RecordDelta(tech.ID, +1)

	c.AssigneeID = &tech.ID
	c.AssignedAt = &nowStr
	c.Status = domain.StatusInProgress
	c, err = co.SLA.StartTimer(ctx, c)
	if err != nil {
		return Outcome{}, err
	}

	if co.Audit != nil {
		details := map[string]any{
			"to_technician": tech.ID,
			"kind":          kind,
		}
		if previous != "" {
			details["from_technician"] = previous
		}
		if err := co.Audit.Record(ctx, actorID, "complaint.reassign", "complaint", c.ID, details); err != nil {
			return Outcome{}, fmt.Errorf("record audit entry: %w", err)
		}
	}

	if co.Metrics != nil {
		co.Metrics.AssignmentsTotal.WithLabelValues(kind).Inc()
	}

	co.dispatch(tech.ID, notify.KindReassigned, map[string]any{
		"complaint_id": c.ID,
		"priority":     c.Priority,
		"sla_deadline": deref(c.SLADeadline),
	})

	return Outcome{Complaint: c, Technician: &tech}, nil
}

// AvailableTechnicians lists a service area's active technicians with
// spare capacity, ranked best first.
func (co *Coordinator) AvailableTechnicians(ctx context.Context, companyID, areaID string) ([]Candidate, error) {
	if _, err := co.Store.GetArea(ctx, areaID); err != nil {
		return nil, err
	}
	techs, err := co.Store.ListTechnicians(ctx, repo.TechnicianFilters{
		CompanyID:  companyID,
		AreaID:     areaID,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(techs))
	for _, t := range techs {
		w, err := co.Workloads.GetWorkload(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Technician: t, Workload: w})
	}
	return SelectBest(candidates, co.caps()), nil
}

func (co *Coordinator) manualFallback(c domain.Complaint, suggested *domain.Area, reason string) Outcome {
	if co.Metrics != nil {
		co.Metrics.ManualFallbacksTotal.Inc()
	}
	co.dispatch(c.CompanyID, notify.KindManualRequired, map[string]any{
		"complaint_id": c.ID,
		"reason":       reason,
	})
	return Outcome{
		Complaint:                c,
		RequiresManualAssignment: true,
		Reason:                   reason,
		SuggestedArea:            suggested,
	}
}

// dispatch delivers one notification off the request path. Failures
// are logged and never affect the assignment result.
func (co *Coordinator) dispatch(recipientID, kind string, payload map[string]any) {
	if co.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := co.Notifier.Notify(ctx, recipientID, kind, payload); err != nil {
			log.Printf("notify %s (%s): %v", recipientID, kind, err)
		}
	}()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
