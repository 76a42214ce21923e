package storage

import (
	"context"
	"time"
)

// InsertAuditEntry appends an entry to the audit log
func (r *Repository) InsertAuditEntry(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, actor_id, target_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.ActorID, e.TargetID, e.Detail, e.CreatedAt,
	)
	return err
}

// GetAuditEntries returns the most recent entries for a target, newest first
func (r *Repository) GetAuditEntries(ctx context.Context, targetID string, limit int) ([]*AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, actor_id, target_id, detail, created_at FROM audit_log
		 WHERE target_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		targetID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.TargetID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
