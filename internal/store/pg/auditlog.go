package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signato.org/internal/auditlog"
	"signato.org/internal/ids"
)

// Append writes one audit entry. CreatedAt is kept strictly increasing per
// envelope, matching the in-memory log, so replay order stays total.
func (s *Store) Append(ctx context.Context, entry *auditlog.Entry) error {
	return s.AppendMany(ctx, []*auditlog.Entry{entry})
}

func (s *Store) AppendMany(ctx context.Context, entries []*auditlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.appendEntriesTx(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appendEntriesTx(ctx context.Context, tx *sql.Tx, entries []*auditlog.Entry) error {
	last := map[string]time.Time{}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = ids.New()
		}
		ts := s.now().UTC()
		prev, ok := last[entry.EnvelopeID]
		if !ok {
			var stored sql.NullTime
			err := tx.QueryRowContext(ctx,
				`select max(created_at) from audit_entries where envelope_id=$1`,
				entry.EnvelopeID).Scan(&stored)
			if err != nil {
				return err
			}
			if stored.Valid {
				prev = stored.Time
			}
		}
		if !prev.IsZero() && !ts.After(prev) {
			ts = prev.Add(time.Microsecond)
		}
		entry.CreatedAt = ts
		last[entry.EnvelopeID] = ts

		actor, err := json.Marshal(entry.Actor)
		if err != nil {
			return err
		}
		request, err := json.Marshal(entry.Request)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry.Data)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into audit_entries(id, envelope_id, type, created_at, actor, request, data)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, entry.EnvelopeID, string(entry.Type), entry.CreatedAt, actor, request, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Find(ctx context.Context, envelopeID string, types ...auditlog.EventType) ([]auditlog.Entry, error) {
	query := `
		select id, envelope_id, type, created_at, actor, request, data
		from audit_entries where envelope_id=$1`
	args := []any{envelopeID}
	if len(types) > 0 {
		placeholders := make([]string, 0, len(types))
		for _, t := range types {
			args = append(args, string(t))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += ` and type in (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` order by created_at asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auditlog.Entry
	for rows.Next() {
		var e auditlog.Entry
		var eventType string
		var actor, request, data []byte
		if err := rows.Scan(&e.ID, &e.EnvelopeID, &eventType, &e.CreatedAt, &actor, &request, &data); err != nil {
			return nil, err
		}
		e.Type = auditlog.EventType(eventType)
		if len(actor) > 0 {
			if err := json.Unmarshal(actor, &e.Actor); err != nil {
				return nil, err
			}
		}
		if len(request) > 0 {
			if err := json.Unmarshal(request, &e.Request); err != nil {
				return nil, err
			}
		}
		parsed, err := auditlog.ParseData(e.Type, data)
		if err != nil {
			return nil, err
		}
		e.Data = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}
