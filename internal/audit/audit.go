// Package audit records who did what to which record, for manual
// assignment traceability.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Recorder is the audit collaborator consumed by the engine.
type Recorder interface {
	Record(ctx context.Context, actorID, action, targetKind, targetID string, details map[string]any) error
}

// Writer appends audit rows to the database.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Record(ctx context.Context, actorID, action, targetKind, targetID string, details map[string]any) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = w.DB.ExecContext(ctx,
		`INSERT INTO audit_log(ts,actor_id,action,target_kind,target_id,details_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), actorID, action, targetKind, nullable(targetID), string(data))
	return err
}

// Entry mirrors one audit row.
type Entry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id,omitempty"`
	Details    string `json:"details_json,omitempty"`
}

type Filters struct {
	Action     string
	TargetKind string
	TargetID   string
	Limit      int
}

// List returns audit entries, newest first.
func (w Writer) List(ctx context.Context, f Filters) ([]Entry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.TargetKind != "" {
		clauses = append(clauses, "target_kind=?")
		args = append(args, f.TargetKind)
	}
	if f.TargetID != "" {
		clauses = append(clauses, "target_id=?")
		args = append(args, f.TargetID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,actor_id,action,target_kind,target_id,details_json FROM audit_log WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		var targetID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.ActorID, &e.Action, &e.TargetKind, &targetID, &details); err != nil {
			return nil, err
		}
		e.TargetID = targetID.String
		e.Details = details.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
