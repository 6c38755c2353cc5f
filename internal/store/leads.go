package store

import (
	"context"
	"fmt"
	"time"

	"github.com/54b3r/zudu-go/internal/lead"
)

// SaveLead implements [lead.Store].
func (s *SQLiteStore) SaveLead(ctx context.Context, l *lead.Lead) error {
	const q = `INSERT INTO leads (id, session, name, company, email, use_case, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		l.ID, l.SessionID, l.Name, l.Company, l.Email, l.UseCase, created.Unix())
	if err != nil {
		return fmt.Errorf("store: save lead: %w", err)
	}
	return nil
}

// Leads implements [lead.Store]. It returns up to limit leads, newest first.
func (s *SQLiteStore) Leads(ctx context.Context, limit int) ([]lead.Lead, error) {
	const q = `
SELECT id, session, name, company, email, use_case, created_at
FROM   leads
ORDER  BY created_at DESC, rowid DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: leads: %w", err)
	}
	defer rows.Close()

	var out []lead.Lead
	for rows.Next() {
		var l lead.Lead
		var ts int64
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Name, &l.Company, &l.Email, &l.UseCase, &ts); err != nil {
			return nil, fmt.Errorf("store: leads scan: %w", err)
		}
		l.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: leads rows: %w", err)
	}
	return out, nil
}
