// Package pg is the postgres persistence layer: envelope write-through,
// append-only audit log and the event outbox, all on database/sql with the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"signato.org/internal/auditlog"
	"signato.org/internal/envelope"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, now: time.Now}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// WithClock overrides the time source (useful for tests).
func (s *Store) WithClock(fn func() time.Time) *Store {
	if fn != nil {
		s.now = fn
	}
	return s
}

// SaveEnvelope writes the whole aggregate in one transaction: the envelope
// row is upserted, recipients and fields are replaced. The service always
// saves the full state, so replacement keeps row order identical to memory
// order.
func (s *Store) SaveEnvelope(ctx context.Context, env envelope.Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.saveEnvelopeTx(ctx, tx, env); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveEnvelopeWithAudit writes the aggregate and its audit entries in a
// single transaction, so a crash between the two cannot leave the log
// behind the envelope state.
func (s *Store) SaveEnvelopeWithAudit(ctx context.Context, env envelope.Envelope, entries []*auditlog.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.saveEnvelopeTx(ctx, tx, env); err != nil {
		return err
	}
	if err := s.appendEntriesTx(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) saveEnvelopeTx(ctx context.Context, tx *sql.Tx, env envelope.Envelope) error {
	meta, err := json.Marshal(env.Meta)
	if err != nil {
		return err
	}
	items, err := json.Marshal(env.Items)
	if err != nil {
		return err
	}
	globalAuth, err := json.Marshal(env.GlobalAuth)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into envelopes(id, title, external_id, team_id, visibility, status, type, items, meta, global_auth, password_hash, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (id) do update set
			title=excluded.title, external_id=excluded.external_id,
			team_id=excluded.team_id, visibility=excluded.visibility,
			status=excluded.status, type=excluded.type,
			items=excluded.items, meta=excluded.meta,
			global_auth=excluded.global_auth, password_hash=excluded.password_hash,
			updated_at=excluded.updated_at
	`, env.ID, env.Title, env.ExternalID, env.TeamID, env.Visibility,
		string(env.Status), string(env.Type), items, meta, globalAuth,
		env.Meta.Password, env.CreatedAt, env.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from recipients where envelope_id=$1`, env.ID); err != nil {
		return err
	}
	for pos, r := range env.Recipients {
		auth, err := json.Marshal(r.AuthOptions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into recipients(envelope_id, id, form_id, email, name, role, signing_order, send_status, signing_status, auth_options, reject_reason, position)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, env.ID, r.ID, r.FormID, r.Email, r.Name, string(r.Role), r.SigningOrder,
			string(r.SendStatus), string(r.SigningStatus), auth, r.RejectReason, pos); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from fields where envelope_id=$1`, env.ID); err != nil {
		return err
	}
	for pos, f := range env.Fields {
		rect, err := json.Marshal(f.Rect)
		if err != nil {
			return err
		}
		fieldMeta, err := json.Marshal(f.Meta)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into fields(envelope_id, id, form_id, item_id, page, type, rect, recipient_id, meta, inserted, custom_text, position)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, env.ID, f.ID, f.FormID, f.ItemID, f.Page, string(f.Type), rect,
			f.RecipientID, fieldMeta, f.Inserted, f.CustomText, pos); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `delete from fields where envelope_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from recipients where envelope_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from envelopes where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return envelope.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) GetEnvelope(ctx context.Context, id string) (envelope.Envelope, error) {
	env, err := s.scanEnvelope(ctx, id)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := s.loadChildren(ctx, &env); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}

func (s *Store) ListEnvelopes(ctx context.Context) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, envelopeColumns+` from envelopes order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		env, err := scanEnvelopeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const envelopeColumns = `select id, title, external_id, team_id, visibility, status, type, items, meta, global_auth, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelopeRow(row rowScanner) (envelope.Envelope, error) {
	var env envelope.Envelope
	var status, envType, passwordHash string
	var items, meta, globalAuth []byte
	err := row.Scan(&env.ID, &env.Title, &env.ExternalID, &env.TeamID, &env.Visibility,
		&status, &envType, &items, &meta, &globalAuth, &passwordHash,
		&env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		return envelope.Envelope{}, err
	}
	env.Status = envelope.Status(status)
	env.Type = envelope.Type(envType)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &env.Items); err != nil {
			return envelope.Envelope{}, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &env.Meta); err != nil {
			return envelope.Envelope{}, err
		}
	}
	if len(globalAuth) > 0 {
		if err := json.Unmarshal(globalAuth, &env.GlobalAuth); err != nil {
			return envelope.Envelope{}, err
		}
	}
	// Password hash is excluded from the meta JSON and kept in its own column.
	env.Meta.Password = passwordHash
	return env, nil
}

func (s *Store) scanEnvelope(ctx context.Context, id string) (envelope.Envelope, error) {
	row := s.db.QueryRowContext(ctx, envelopeColumns+` from envelopes where id=$1`, id)
	env, err := scanEnvelopeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return envelope.Envelope{}, envelope.ErrNotFound
	}
	return env, err
}

func (s *Store) loadChildren(ctx context.Context, env *envelope.Envelope) error {
	rows, err := s.db.QueryContext(ctx, `
		select id, form_id, email, name, role, signing_order, send_status, signing_status, auth_options, reject_reason
		from recipients where envelope_id=$1 order by position asc
	`, env.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r envelope.Recipient
		var role, sendStatus, signingStatus string
		var auth []byte
		if err := rows.Scan(&r.ID, &r.FormID, &r.Email, &r.Name, &role, &r.SigningOrder,
			&sendStatus, &signingStatus, &auth, &r.RejectReason); err != nil {
			return err
		}
		r.Role = envelope.Role(role)
		r.SendStatus = envelope.SendStatus(sendStatus)
		r.SigningStatus = envelope.SigningStatus(signingStatus)
		if len(auth) > 0 {
			if err := json.Unmarshal(auth, &r.AuthOptions); err != nil {
				return err
			}
		}
		env.Recipients = append(env.Recipients, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	frows, err := s.db.QueryContext(ctx, `
		select id, form_id, item_id, page, type, rect, recipient_id, meta, inserted, custom_text
		from fields where envelope_id=$1 order by position asc
	`, env.ID)
	if err != nil {
		return err
	}
	defer frows.Close()
	for frows.Next() {
		var f envelope.Field
		var fieldType string
		var rect, meta []byte
		if err := frows.Scan(&f.ID, &f.FormID, &f.ItemID, &f.Page, &fieldType,
			&rect, &f.RecipientID, &meta, &f.Inserted, &f.CustomText); err != nil {
			return err
		}
		f.Type = envelope.FieldType(fieldType)
		if len(rect) > 0 {
			if err := json.Unmarshal(rect, &f.Rect); err != nil {
				return err
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &f.Meta); err != nil {
				return err
			}
		}
		env.Fields = append(env.Fields, f)
	}
	return frows.Err()
}
