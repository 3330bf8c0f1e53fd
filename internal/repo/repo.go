package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fieldline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost conditional update or a duplicate
	// live penalty.
	ErrConflict = errors.New("conflict")
)

const complaintColumns = `id,company_id,customer_id,title,description,address,district,area_id,priority,status,assignee_id,assigned_at,sla_deadline,sla_status,penalty_amount,created_at,updated_at,resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComplaint(row rowScanner) (domain.Complaint, error) {
	var c domain.Complaint
	var description, address, district, areaID, assigneeID, assignedAt, slaDeadline, slaStatus, resolvedAt sql.NullString
	var penaltyAmount sql.NullFloat64
	err := row.Scan(&c.ID, &c.CompanyID, &c.CustomerID, &c.Title, &description, &address, &district, &areaID,
		&c.Priority, &c.Status, &assigneeID, &assignedAt, &slaDeadline, &slaStatus, &penaltyAmount,
		&c.CreatedAt, &c.UpdatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Description = description.String
	c.Address = address.String
	c.District = district.String
	c.SLAStatus = slaStatus.String
	if areaID.Valid {
		c.AreaID = &areaID.String
	}
	if assigneeID.Valid {
		c.AssigneeID = &assigneeID.String
	}
	if assignedAt.Valid {
		c.AssignedAt = &assignedAt.String
	}
	if slaDeadline.Valid {
		c.SLADeadline = &slaDeadline.String
	}
	if penaltyAmount.Valid {
		c.PenaltyAmount = &penaltyAmount.Float64
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	return c, nil
}

func (r Repo) CreateComplaint(ctx context.Context, c domain.Complaint) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO complaints(`+complaintColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CompanyID, c.CustomerID, c.Title, nullable(c.Description), nullable(c.Address), nullable(c.District),
		nullableStringPtr(c.AreaID), c.Priority, c.Status, nullableStringPtr(c.AssigneeID), nullableStringPtr(c.AssignedAt),
		nullableStringPtr(c.SLADeadline), nullable(c.SLAStatus), nullableFloatPtr(c.PenaltyAmount),
		c.CreatedAt, c.UpdatedAt, nullableStringPtr(c.ResolvedAt))
	return err
}

func (r Repo) GetComplaint(ctx context.Context, id string) (domain.Complaint, error) {
	return scanComplaint(r.DB.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=?`, id))
}

type ComplaintFilters struct {
	CompanyID  string
	CustomerID string
	Status     string
	AssigneeID string
	SLAStatus  string
	AreaID     string
	Limit      int
}

func (r Repo) ListComplaints(ctx context.Context, f ComplaintFilters) ([]domain.Complaint, error) {
	var clauses []string
	var args []any
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.SLAStatus != "" {
		clauses = append(clauses, "sla_status=?")
		args = append(args, f.SLAStatus)
	}
	if f.AreaID != "" {
		clauses = append(clauses, "area_id=?")
		args = append(args, f.AreaID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + complaintColumns + ` FROM complaints ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ClaimComplaint commits an initial assignment. The assignee_id IS NULL
// precondition makes exactly one concurrent caller win; everyone else
// gets false. A positive capacity adds a storage-side recount of the
// technician's active complaints to the same conditional update, so a
// stale workload snapshot can never commit an over-capacity
// assignment. Zero capacity skips the recount (operator override).
func (r Repo) ClaimComplaint(ctx context.Context, id, technicianID string, capacity int, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET assignee_id=?, assigned_at=?, status=?, updated_at=?
WHERE id=? AND assignee_id IS NULL
AND (? <= 0 OR (SELECT COUNT(*) FROM complaints a WHERE a.assignee_id=? AND a.status IN (?,?)) < ?)`,
		technicianID, now, domain.StatusInProgress, now, id,
		capacity, technicianID, domain.StatusOpen, domain.StatusInProgress, capacity)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TransferComplaint moves an assignment from one technician to another,
// guarded on the expected current assignee so a concurrent reassignment
// loses cleanly instead of silently overwriting.
func (r Repo) TransferComplaint(ctx context.Context, id, fromTechnicianID, toTechnicianID, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET assignee_id=?, assigned_at=?, status=?, updated_at=? WHERE id=? AND assignee_id=?`,
		toTechnicianID, now, domain.StatusInProgress, now, id, fromTechnicianID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// StartSLA stamps the deadline for the current assignment cycle and
// resets the SLA status to pending.
func (r Repo) StartSLA(ctx context.Context, id, deadline, now string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET sla_deadline=?, sla_status=?, updated_at=? WHERE id=?`,
		deadline, domain.SLAPending, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSLAStatus moves sla_status from one of the given states to
// the target. Returns false when the complaint was not in any of the
// from states, which makes repeated sweeps idempotent.
func (r Repo) TransitionSLAStatus(ctx context.Context, id string, from []string, to, now string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}
	placeholders := strings.Repeat("?,", len(from))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{to, now, id}
	for _, s := range from {
		args = append(args, s)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET sla_status=?, updated_at=? WHERE id=? AND sla_status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetComplaintPenaltyAmount denormalizes an applied penalty amount onto
// the complaint for fast reads.
func (r Repo) SetComplaintPenaltyAmount(ctx context.Context, id string, amount float64, now string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET penalty_amount=?, updated_at=? WHERE id=?`, amount, now, id)
	return err
}

// CloseComplaint marks a complaint resolved or closed. Returns false if
// it was already in a terminal state.
func (r Repo) CloseComplaint(ctx context.Context, id, status, now string) (bool, error) {
	if status != domain.StatusResolved && status != domain.StatusClosed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE complaints SET status=?, resolved_at=?, updated_at=? WHERE id=? AND status IN (?,?)`,
		status, now, now, id, domain.StatusOpen, domain.StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) CountActiveByTechnician(ctx context.Context, technicianID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM complaints WHERE assignee_id=? AND status IN (?,?)`,
		technicianID, domain.StatusOpen, domain.StatusInProgress).Scan(&n)
	return n, err
}

func (r Repo) CountTodayByTechnician(ctx context.Context, technicianID, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM complaints WHERE assignee_id=? AND created_at >= ?`,
		technicianID, since).Scan(&n)
	return n, err
}

// CountUnassigned returns the number of open complaints still waiting
// for a technician.
func (r Repo) CountUnassigned(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM complaints WHERE assignee_id IS NULL AND status=?`,
		domain.StatusOpen).Scan(&n)
	return n, err
}

// ListBreachCandidates returns assigned, still-open complaints whose
// deadline has passed and whose SLA status has not yet left pending.
func (r Repo) ListBreachCandidates(ctx context.Context, now string, limit int) ([]domain.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints
WHERE assignee_id IS NOT NULL AND sla_deadline < ? AND sla_status=? AND status IN (?,?)
ORDER BY sla_deadline ASC`
	args := []any{now, domain.SLAPending, domain.StatusOpen, domain.StatusInProgress}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ListCompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT company_id FROM complaints ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
