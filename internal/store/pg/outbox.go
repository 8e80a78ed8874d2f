package pg

import (
	"context"
	"time"

	"signato.org/internal/events"
)

// Enqueue stages an outbox record. Event IDs are unique, so replays of the
// same entry collapse onto one row.
func (s *Store) Enqueue(ctx context.Context, rec events.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into outbox(id, event_type, partition_key, payload, created_at)
		values ($1,$2,$3,$4,$5)
		on conflict (id) do nothing
	`, rec.ID, rec.EventType, rec.PartitionKey, rec.Payload, rec.CreatedAt)
	return err
}

func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]events.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, event_type, partition_key, payload, created_at, attempts, coalesce(last_error,'')
		from outbox
		where published_at is null
		order by created_at asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var rec events.Record
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.PartitionKey, &rec.Payload,
			&rec.CreatedAt, &rec.Attempts, &rec.LastError); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update outbox set published_at=$2 where id=$1`, id, at)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update outbox set attempts = attempts + 1, last_error=$2, last_attempt_at=$3
		where id=$1
	`, id, reason, at)
	return err
}
