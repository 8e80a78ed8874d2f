package workflow

import (
	"context"
	"fmt"

	"signato.org/internal/auditlog"
	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/ids"
)

// SyncFields persists one coalesced batch from an editor session. It
// implements editor.Syncer. The whole batch is applied with its audit
// entries as one unit; a batch that fails validation changes nothing.
func (s *InMemory) SyncFields(ctx context.Context, envelopeID string, changes []editor.Change) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	if env.Status == envelope.StatusCompleted || env.Status == envelope.StatusRejected {
		return envelope.ErrInvalidStatus
	}

	// Validate the whole batch before touching anything.
	for _, c := range changes {
		f := c.Field
		if f.FormID == "" {
			return fmt.Errorf("%w: field form id is required", envelope.ErrInvalidInput)
		}
		switch c.Kind {
		case editor.ChangeCreate, editor.ChangeUpdate:
			if !envelope.ValidFieldType(f.Type) {
				return fmt.Errorf("%w: unknown field type %q", envelope.ErrInvalidInput, f.Type)
			}
			rec, err := findRecipient(env, f.RecipientID)
			if err != nil {
				return fmt.Errorf("%w: field recipient %s", envelope.ErrNotFound, f.RecipientID)
			}
			if !envelope.RecipientModifiable(*rec, env.Type) {
				return envelope.ErrNotModifiable
			}
		case editor.ChangeDelete:
		default:
			return fmt.Errorf("%w: unknown change kind %q", envelope.ErrInvalidInput, c.Kind)
		}
	}

	var entries []*auditlog.Entry
	for _, c := range changes {
		switch c.Kind {
		case editor.ChangeCreate:
			f := c.Field
			if f.ID == "" {
				f.ID = ids.New()
			}
			env.Fields = append(env.Fields, f)
			entries = append(entries, s.entry(ctx, envelopeID, auditlog.EventFieldCreated, &auditlog.FieldData{
				FieldID:     f.ID,
				FieldType:   f.Type,
				RecipientID: f.RecipientID,
				Page:        f.Page,
			}))
		case editor.ChangeUpdate:
			idx := fieldIndexByFormID(env, c.Field.FormID)
			if idx < 0 {
				return fmt.Errorf("%w: field %s", envelope.ErrNotFound, c.Field.FormID)
			}
			before := env.Fields[idx]
			after := c.Field
			after.ID = before.ID
			diffs := auditlog.DiffFieldChanges(before, after)
			env.Fields[idx] = after
			if len(diffs) == 0 {
				continue
			}
			entries = append(entries, s.entry(ctx, envelopeID, auditlog.EventFieldUpdated, &auditlog.FieldUpdatedData{
				FieldID:   after.ID,
				FieldType: after.Type,
				Diffs:     diffs,
			}))
		case editor.ChangeDelete:
			idx := fieldIndexByFormID(env, c.Field.FormID)
			if idx < 0 {
				continue
			}
			f := env.Fields[idx]
			env.Fields = append(env.Fields[:idx], env.Fields[idx+1:]...)
			entries = append(entries, s.entry(ctx, envelopeID, auditlog.EventFieldDeleted, &auditlog.FieldData{
				FieldID:     f.ID,
				FieldType:   f.Type,
				RecipientID: f.RecipientID,
				Page:        f.Page,
			}))
		}
	}
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, entries...)
}

func fieldIndexByFormID(env *envelope.Envelope, formID string) int {
	for i := range env.Fields {
		if env.Fields[i].FormID == formID {
			return i
		}
	}
	return -1
}
