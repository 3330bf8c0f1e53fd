package repo

import (
	"context"
	"database/sql"
	"strings"

	"fieldline/internal/domain"
)

const penaltyColumns = `id,complaint_id,technician_id,company_id,amount,status,assigned_at,sla_deadline,breach_duration_hours,created_at,applied_at,waived_by,waive_reason,waived_at`

func scanPenalty(row rowScanner) (domain.Penalty, error) {
	var p domain.Penalty
	var appliedAt, waivedBy, waiveReason, waivedAt sql.NullString
	err := row.Scan(&p.ID, &p.ComplaintID, &p.TechnicianID, &p.CompanyID, &p.Amount, &p.Status,
		&p.AssignedAt, &p.SLADeadline, &p.BreachDurationHours, &p.CreatedAt,
		&appliedAt, &waivedBy, &waiveReason, &waivedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if appliedAt.Valid {
		p.AppliedAt = &appliedAt.String
	}
	if waivedBy.Valid {
		p.WaivedBy = &waivedBy.String
	}
	if waiveReason.Valid {
		p.WaiveReason = &waiveReason.String
	}
	if waivedAt.Valid {
		p.WaivedAt = &waivedAt.String
	}
	return p, nil
}

// CreatePenalty inserts a penalty row. The partial unique index on
// (complaint_id) WHERE status != 'waived' is the authoritative guard
// against double penalties; a violation surfaces as ErrConflict.
func (r Repo) CreatePenalty(ctx context.Context, p domain.Penalty) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO penalties(`+penaltyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ComplaintID, p.TechnicianID, p.CompanyID, p.Amount, p.Status,
		p.AssignedAt, p.SLADeadline, p.BreachDurationHours, p.CreatedAt,
		nullableStringPtr(p.AppliedAt), nullableStringPtr(p.WaivedBy), nullableStringPtr(p.WaiveReason), nullableStringPtr(p.WaivedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return err
}

func (r Repo) GetPenalty(ctx context.Context, id string) (domain.Penalty, error) {
	return scanPenalty(r.DB.QueryRowContext(ctx, `SELECT `+penaltyColumns+` FROM penalties WHERE id=?`, id))
}

type PenaltyFilters struct {
	ComplaintID   string
	TechnicianID  string
	CompanyID     string
	Status        string
	CreatedBefore string
	Limit         int
}

func (r Repo) ListPenalties(ctx context.Context, f PenaltyFilters) ([]domain.Penalty, error) {
	var clauses []string
	var args []any
	if f.ComplaintID != "" {
		clauses = append(clauses, "complaint_id=?")
		args = append(args, f.ComplaintID)
	}
	if f.TechnicianID != "" {
		clauses = append(clauses, "technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBefore != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + penaltyColumns + ` FROM penalties ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkPenaltyApplied flips a pending penalty to applied. Returns false
// when the penalty was not pending.
func (r Repo) MarkPenaltyApplied(ctx context.Context, id, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE penalties SET status=?, applied_at=? WHERE id=? AND status=?`,
		domain.PenaltyApplied, now, id, domain.PenaltyPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkPenaltyWaived flips a pending penalty to waived. Returns false
// when the penalty was not pending.
func (r Repo) MarkPenaltyWaived(ctx context.Context, id, actorID, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE penalties SET status=?, waived_by=?, waive_reason=?, waived_at=? WHERE id=? AND status=?`,
		domain.PenaltyWaived, actorID, nullable(reason), now, id, domain.PenaltyPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListPendingPenaltiesBefore returns pending penalties created before
// the cutoff, oldest first.
func (r Repo) ListPendingPenaltiesBefore(ctx context.Context, cutoff string, limit int) ([]domain.Penalty, error) {
	return r.ListPenalties(ctx, PenaltyFilters{Status: domain.PenaltyPending, CreatedBefore: cutoff, Limit: limit})
}
