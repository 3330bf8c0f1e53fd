package repo

import (
	"context"

	"fieldline/internal/domain"
)

// AssignmentStats counts complaints per status plus the unassigned
// backlog for a company.
type AssignmentStats struct {
	ByStatus   map[string]int `json:"by_status"`
	Assigned   int            `json:"assigned"`
	Unassigned int            `json:"unassigned"`
}

func (r Repo) GetAssignmentStats(ctx context.Context, companyID string) (AssignmentStats, error) {
	stats := AssignmentStats{ByStatus: map[string]int{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM complaints WHERE company_id=? GROUP BY status`, companyID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM complaints WHERE company_id=? AND assignee_id IS NOT NULL`, companyID).
		Scan(&stats.Assigned)
	if err != nil {
		return stats, err
	}
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM complaints WHERE company_id=? AND assignee_id IS NULL AND status IN (?,?)`,
		companyID, domain.StatusOpen, domain.StatusInProgress).
		Scan(&stats.Unassigned)
	return stats, err
}

// GetSLAStats aggregates SLA outcomes for a company, optionally scoped
// to one area.
func (r Repo) GetSLAStats(ctx context.Context, companyID, areaID string) (domain.ComplianceReport, error) {
	report := domain.ComplianceReport{CompanyID: companyID}
	where := `company_id=? AND assignee_id IS NOT NULL`
	args := []any{companyID}
	if areaID != "" {
		where += ` AND area_id=?`
		args = append(args, areaID)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT COALESCE(sla_status,''), COUNT(*) FROM complaints WHERE `+where+` GROUP BY sla_status`, args...)
	if err != nil {
		return report, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return report, err
		}
		report.Assigned += n
		switch status {
		case domain.SLAMet:
			report.Met += n
		case domain.SLABreached:
			report.Breached += n
		case domain.SLAPendingPenalty:
			report.PendingPenalty += n
		case domain.SLAPenaltyApplied:
			report.PenaltyApplied += n
		}
	}
	if err := rows.Err(); err != nil {
		return report, err
	}
	err = r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM penalties WHERE company_id=? AND status=?`,
		companyID, domain.PenaltyApplied).
		Scan(&report.PenaltyTotal)
	return report, err
}
