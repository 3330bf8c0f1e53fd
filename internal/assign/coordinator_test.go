package assign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fieldline/internal/app"
	"fieldline/internal/assign"
	"fieldline/internal/audit"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	App   *app.App
	Ctx   context.Context
	Clock *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := t0
	a, err := app.Build(conn, config.Default("co-1"), app.Options{
		Now: func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	return &testEnv{App: a, Ctx: context.Background(), Clock: &clock}
}

func (env *testEnv) seedArea(t *testing.T, id, name, district string) {
	t.Helper()
	if err := env.App.Repo.CreateArea(env.Ctx, domain.Area{
		ID: id, CompanyID: "co-1", Name: name, District: district,
		CreatedAt: t0.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("create area %s: %v", id, err)
	}
}

func (env *testEnv) seedTechnician(t *testing.T, id, areaID string) {
	t.Helper()
	if err := env.App.Repo.CreateTechnician(env.Ctx, domain.Technician{
		ID: id, CompanyID: "co-1", AreaID: areaID, Name: "Tech " + id,
		Active: true, CreatedAt: t0.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("create technician %s: %v", id, err)
	}
}

func (env *testEnv) seedCustomer(t *testing.T, id string, areaID *string) {
	t.Helper()
	if err := env.App.Repo.CreateCustomer(env.Ctx, domain.Customer{
		ID: id, CompanyID: "co-1", Name: "Customer " + id, AreaID: areaID,
		CreatedAt: t0.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("create customer %s: %v", id, err)
	}
}

func (env *testEnv) seedComplaint(t *testing.T, id, customerID, district, priority string) domain.Complaint {
	t.Helper()
	ts := t0.Format(time.RFC3339)
	c := domain.Complaint{
		ID: id, CompanyID: "co-1", CustomerID: customerID, Title: "Trouble at " + id,
		District: district, Priority: priority, Status: domain.StatusOpen,
		CreatedAt: ts, UpdatedAt: ts,
	}
	if err := env.App.Repo.CreateComplaint(env.Ctx, c); err != nil {
		t.Fatalf("create complaint %s: %v", id, err)
	}
	return c
}

func strPtr(s string) *string { return &s }

func TestAssignPicksLeastLoadedTechnician(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-idle", "area-1")
	env.seedTechnician(t, "tech-busy", "area-1")

	// Load tech-busy with two active complaints.
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("cmp-busy-%d", i)
		env.seedComplaint(t, id, "cust-1", "", domain.PriorityLow)
		if ok, err := env.App.Repo.ClaimComplaint(env.Ctx, id, "tech-busy", 0, t0.Format(time.RFC3339)); err != nil || !ok {
			t.Fatalf("preload claim: %v ok=%v", err, ok)
		}
	}

	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityHigh)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.RequiresManualAssignment {
		t.Fatalf("unexpected manual fallback: %s", out.Reason)
	}
	if out.Technician == nil || out.Technician.ID != "tech-idle" {
		t.Fatalf("winner = %+v, want tech-idle", out.Technician)
	}
	if out.Complaint.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", out.Complaint.Status)
	}
	wantDeadline := t0.Add(8 * time.Hour).Format(time.RFC3339)
	if out.Complaint.SLADeadline == nil || *out.Complaint.SLADeadline != wantDeadline {
		t.Fatalf("deadline = %v, want %s", out.Complaint.SLADeadline, wantDeadline)
	}

	w, err := env.App.Workloads.GetWorkload(env.Ctx, "tech-idle")
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	if w.ActiveCount != 1 {
		t.Fatalf("winner active count = %d, want 1", w.ActiveCount)
	}
}

func TestAssignAlreadyAssigned(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-1", "area-1")
	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityMedium)

	if _, err := env.App.Coord.Assign(env.Ctx, c.ID); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if !errors.Is(err, assign.ErrAlreadyAssigned) {
		t.Fatalf("second assign err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestConcurrentAssignHasExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	for i := 0; i < 4; i++ {
		env.seedTechnician(t, fmt.Sprintf("tech-%d", i), "area-1")
	}
	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityMedium)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.App.Coord.Assign(env.Ctx, c.ID)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, assign.ErrAlreadyAssigned):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 (losses = %d)", wins, losses)
	}

	got, err := env.App.Repo.GetComplaint(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.AssigneeID == nil {
		t.Fatal("no assignee after the race")
	}
}

func TestAssignAtCapacityRequiresManualAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-1", "area-1")

	// Fill the only technician to capacity (10).
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("cmp-fill-%d", i)
		env.seedComplaint(t, id, "cust-1", "", domain.PriorityLow)
		if ok, err := env.App.Repo.ClaimComplaint(env.Ctx, id, "tech-1", 0, t0.Format(time.RFC3339)); err != nil || !ok {
			t.Fatalf("preload claim: %v ok=%v", err, ok)
		}
	}

	c := env.seedComplaint(t, "cmp-over", "cust-1", "", domain.PriorityUrgent)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !out.RequiresManualAssignment {
		t.Fatal("expected manual assignment fallback")
	}
	if out.Reason == "" {
		t.Fatal("manual fallback carries no reason")
	}

	got, _ := env.App.Repo.GetComplaint(env.Ctx, c.ID)
	if got.AssigneeID != nil {
		t.Fatal("complaint was assigned despite capacity exhaustion")
	}
}

func TestAssignStaleSnapshotCannotOvercommit(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-1", "area-1")

	// Warm the snapshot while the technician is idle, then fill them to
	// capacity behind the cache's back. Whatever the stale snapshot says,
	// storage must refuse an eleventh active complaint.
	if _, err := env.App.Workloads.GetWorkload(env.Ctx, "tech-1"); err != nil {
		t.Fatalf("warm workload: %v", err)
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("cmp-fill-%d", i)
		env.seedComplaint(t, id, "cust-1", "", domain.PriorityLow)
		if ok, err := env.App.Repo.ClaimComplaint(env.Ctx, id, "tech-1", 0, t0.Format(time.RFC3339)); err != nil || !ok {
			t.Fatalf("preload claim: %v ok=%v", err, ok)
		}
	}

	c := env.seedComplaint(t, "cmp-over", "cust-1", "", domain.PriorityUrgent)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !out.RequiresManualAssignment {
		t.Fatal("full technician received an assignment")
	}

	got, _ := env.App.Repo.GetComplaint(env.Ctx, c.ID)
	if got.AssigneeID != nil {
		t.Fatal("complaint was committed over capacity")
	}
	active, err := env.App.Repo.CountActiveByTechnician(env.Ctx, "tech-1")
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 10 {
		t.Fatalf("active = %d, want the capacity of 10", active)
	}
}

func TestAssignFallsThroughToNextCandidateOnStaleSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-a", "area-1")
	env.seedTechnician(t, "tech-b", "area-1")

	// Both snapshots warmed idle; tech-a then fills up unseen. Ranking
	// still prefers tech-a on the id tiebreak, but the commit recount
	// refuses them and the next candidate takes the complaint.
	for _, id := range []string{"tech-a", "tech-b"} {
		if _, err := env.App.Workloads.GetWorkload(env.Ctx, id); err != nil {
			t.Fatalf("warm workload %s: %v", id, err)
		}
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("cmp-fill-%d", i)
		env.seedComplaint(t, id, "cust-1", "", domain.PriorityLow)
		if ok, err := env.App.Repo.ClaimComplaint(env.Ctx, id, "tech-a", 0, t0.Format(time.RFC3339)); err != nil || !ok {
			t.Fatalf("preload claim: %v ok=%v", err, ok)
		}
	}

	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityHigh)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.RequiresManualAssignment {
		t.Fatalf("unexpected manual fallback: %s", out.Reason)
	}
	if out.Technician == nil || out.Technician.ID != "tech-b" {
		t.Fatalf("winner = %+v, want tech-b", out.Technician)
	}
}

func TestAssignResolvesAreaFromDistrict(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-n", "North Ridge", "Northside")
	env.seedArea(t, "area-s", "South Gate", "Southside")
	env.seedCustomer(t, "cust-1", nil)
	env.seedTechnician(t, "tech-n", "area-n")
	env.seedTechnician(t, "tech-s", "area-s")

	c := env.seedComplaint(t, "cmp-1", "cust-1", "South Gate", domain.PriorityMedium)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.Technician == nil || out.Technician.ID != "tech-s" {
		t.Fatalf("winner = %+v, want tech-s", out.Technician)
	}
	if out.Area == nil || out.Area.ID != "area-s" {
		t.Fatalf("area = %+v, want area-s", out.Area)
	}
}

func TestReassignMovesWorkloadAndResetsDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-a", "area-1")
	env.seedTechnician(t, "tech-b", "area-1")

	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityMedium)
	out, err := env.App.Coord.Assign(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	first := out.Technician.ID
	second := "tech-b"
	if first == "tech-b" {
		second = "tech-a"
	}

	// Warm both snapshots so the deltas are observable in cache.
	if _, err := env.App.Workloads.GetWorkload(env.Ctx, second); err != nil {
		t.Fatalf("warm workload: %v", err)
	}

	later := t0.Add(2 * time.Hour)
	*env.Clock = later
	out, err = env.App.Coord.Reassign(env.Ctx, c.ID, second, "dispatcher-1")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if out.Technician.ID != second {
		t.Fatalf("assignee = %s, want %s", out.Technician.ID, second)
	}

	wantDeadline := later.Add(24 * time.Hour).Format(time.RFC3339)
	if out.Complaint.SLADeadline == nil || *out.Complaint.SLADeadline != wantDeadline {
		t.Fatalf("deadline = %v, want %s (reset from reassignment time)", out.Complaint.SLADeadline, wantDeadline)
	}

	wFirst, _ := env.App.Workloads.GetWorkload(env.Ctx, first)
	wSecond, _ := env.App.Workloads.GetWorkload(env.Ctx, second)
	if wFirst.ActiveCount != 0 {
		t.Fatalf("old assignee active = %d, want 0", wFirst.ActiveCount)
	}
	if wSecond.ActiveCount != 1 {
		t.Fatalf("new assignee active = %d, want 1", wSecond.ActiveCount)
	}

	// The reassignment leaves an audit trail.
	entries, err := env.App.Audit.List(env.Ctx, audit.Filters{Action: "complaint.reassign", TargetID: c.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ActorID != "dispatcher-1" {
		t.Fatalf("audit entries = %+v, want one by dispatcher-1", entries)
	}
}

func TestReassignUnassignedComplaintClaimsIt(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-1", "area-1")

	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityUrgent)
	out, err := env.App.Coord.Reassign(env.Ctx, c.ID, "tech-1", "dispatcher-1")
	if err != nil {
		t.Fatalf("manual assign: %v", err)
	}
	if out.Technician.ID != "tech-1" {
		t.Fatalf("assignee = %s, want tech-1", out.Technician.ID)
	}
	if out.Complaint.SLADeadline == nil {
		t.Fatal("manual assignment did not start the SLA timer")
	}
}

type denyAll struct{}

func (denyAll) Authorize(_ context.Context, actorID string, _ domain.Complaint) error {
	return fmt.Errorf("actor %s denied", actorID)
}

func TestReassignUnauthorizedActor(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := t0
	a, err := app.Build(conn, config.Default("co-1"), app.Options{
		Now:  func() time.Time { return clock },
		Auth: denyAll{},
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	env := &testEnv{App: a, Ctx: context.Background(), Clock: &clock}

	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-1", "area-1")
	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityMedium)

	_, err = env.App.Coord.Reassign(env.Ctx, c.ID, "tech-1", "stranger")
	if !errors.Is(err, assign.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	got, _ := env.App.Repo.GetComplaint(env.Ctx, c.ID)
	if got.AssigneeID != nil {
		t.Fatal("denied reassignment still mutated the complaint")
	}
}

func TestReassignUnknownTechnician(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	c := env.seedComplaint(t, "cmp-1", "cust-1", "", domain.PriorityMedium)

	_, err := env.App.Coord.Reassign(env.Ctx, c.ID, "tech-ghost", "dispatcher-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAvailableTechniciansRankedAndFiltered(t *testing.T) {
	env := newTestEnv(t)
	env.seedArea(t, "area-1", "Central", "Midtown")
	env.seedCustomer(t, "cust-1", strPtr("area-1"))
	env.seedTechnician(t, "tech-idle", "area-1")
	env.seedTechnician(t, "tech-full", "area-1")

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("cmp-fill-%d", i)
		env.seedComplaint(t, id, "cust-1", "", domain.PriorityLow)
		if ok, err := env.App.Repo.ClaimComplaint(env.Ctx, id, "tech-full", 0, t0.Format(time.RFC3339)); err != nil || !ok {
			t.Fatalf("preload claim: %v ok=%v", err, ok)
		}
	}

	candidates, err := env.App.Coord.AvailableTechnicians(env.Ctx, "co-1", "area-1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Technician.ID != "tech-idle" {
		t.Fatalf("candidates = %+v, want only tech-idle", candidates)
	}
	if candidates[0].Score <= 0 {
		t.Fatalf("score = %v, want positive", candidates[0].Score)
	}
}
