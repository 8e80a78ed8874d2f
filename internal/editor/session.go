// Package editor holds the authoritative in-memory working state of one
// envelope under edit: the field collection, the current selection, and the
// debounced autosave queue that reconciles local state with persistence.
package editor

import (
	"context"
	"sort"
	"sync"
	"time"

	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
	"signato.org/internal/ids"
	"signato.org/internal/obs"
)

const defaultDebounce = 750 * time.Millisecond

// ChangeKind tags one pending persistence operation.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one coalesced pending mutation, keyed by form id. Newer edits to
// the same field replace the queued payload instead of racing it.
type Change struct {
	Kind  ChangeKind
	Field envelope.Field
}

// Syncer persists a coalesced batch of field changes. Implementations are
// expected to append the matching audit entries atomically with the writes.
type Syncer interface {
	SyncFields(ctx context.Context, envelopeID string, changes []Change) error
}

// AddFieldInput carries everything needed to place a new field.
type AddFieldInput struct {
	FormID      string
	ItemID      string
	Page        int
	Type        envelope.FieldType
	Rect        geometry.PercentRect
	RecipientID string
	Meta        envelope.FieldMeta
}

// FieldPatch is a partial update; nil members are left untouched.
type FieldPatch struct {
	PositionX   *float64
	PositionY   *float64
	Width       *float64
	Height      *float64
	Page        *int
	RecipientID *string
	Meta        *envelope.FieldMeta
}

// Session is the optimistic field store for one working envelope. All
// mutations apply locally first and schedule a trailing-edge debounced flush;
// a failed flush raises a sticky autosave-failed signal instead of rolling
// local state back, because silently losing edits is worse than a stale
// warning.
type Session struct {
	mu sync.Mutex

	envelopeID string
	envType    envelope.Type
	items      []envelope.Item
	recipients map[string]envelope.Recipient
	fields     []envelope.Field

	selectedRecipient string
	selectedField     string

	syncer   Syncer
	debounce time.Duration
	timer    *time.Timer
	pending  map[string]Change

	autosaveFailed bool
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce overrides the flush delay (useful for tests).
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// NewSession builds a session over the envelope's current contents.
func NewSession(env envelope.Envelope, syncer Syncer, opts ...Option) *Session {
	s := &Session{
		envelopeID: env.ID,
		envType:    env.Type,
		items:      append([]envelope.Item{}, env.Items...),
		recipients: make(map[string]envelope.Recipient, len(env.Recipients)),
		fields:     append([]envelope.Field{}, env.Fields...),
		syncer:     syncer,
		debounce:   defaultDebounce,
		pending:    make(map[string]Change),
	}
	for _, r := range env.Recipients {
		s.recipients[r.ID] = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fields returns a copy of the current collection in insertion order.
func (s *Session) Fields() []envelope.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope.Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldByFormID looks a field up by its correlation key.
func (s *Session) FieldByFormID(formID string) (envelope.Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fields {
		if f.FormID == formID {
			return f, true
		}
	}
	return envelope.Field{}, false
}

// Recipients returns the session's recipients ordered by signing order.
func (s *Session) Recipients() []envelope.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope.Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SigningOrder != out[j].SigningOrder {
			return out[i].SigningOrder < out[j].SigningOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecipientModifiable applies the shared predicate to a recipient id.
func (s *Session) RecipientModifiable(recipientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipientModifiableLocked(recipientID)
}

func (s *Session) recipientModifiableLocked(recipientID string) bool {
	r, ok := s.recipients[recipientID]
	if !ok {
		return false
	}
	return envelope.RecipientModifiable(r, s.envType)
}

// AddField appends a new field. A missing form id is generated. The call is
// a logged no-op when the target recipient can no longer have fields
// modified; surfacing an error here would break the interaction flow for a
// state the canvas already renders as read-only.
func (s *Session) AddField(in AddFieldInput) (envelope.Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !envelope.ValidFieldType(in.Type) {
		return envelope.Field{}, false
	}
	if !s.recipientModifiableLocked(in.RecipientID) {
		obs.LogRequest(map[string]any{
			"level": "warn", "msg": "add field ignored: recipient not modifiable",
			"envelope_id": s.envelopeID, "recipient_id": in.RecipientID,
		})
		return envelope.Field{}, false
	}

	formID := in.FormID
	if formID == "" {
		formID = ids.NewForm()
	}
	f := envelope.Field{
		FormID:      formID,
		ItemID:      in.ItemID,
		Page:        in.Page,
		Type:        in.Type,
		Rect:        in.Rect,
		RecipientID: in.RecipientID,
		Meta:        in.Meta,
	}
	s.fields = append(s.fields, f)
	s.queueLocked(formID, Change{Kind: ChangeCreate, Field: f})
	return f, true
}

// UpdateFieldByFormID merges a partial patch into the matching field without
// reordering the collection. Unknown form ids are ignored.
func (s *Session) UpdateFieldByFormID(formID string, patch FieldPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.fields {
		if s.fields[i].FormID != formID {
			continue
		}
		if !s.recipientModifiableLocked(s.fields[i].RecipientID) {
			return false
		}
		f := &s.fields[i]
		if patch.PositionX != nil {
			f.Rect.PositionX = *patch.PositionX
		}
		if patch.PositionY != nil {
			f.Rect.PositionY = *patch.PositionY
		}
		if patch.Width != nil {
			f.Rect.Width = *patch.Width
		}
		if patch.Height != nil {
			f.Rect.Height = *patch.Height
		}
		if patch.Page != nil {
			f.Page = *patch.Page
		}
		if patch.RecipientID != nil {
			f.RecipientID = *patch.RecipientID
		}
		if patch.Meta != nil {
			f.Meta = *patch.Meta
		}
		s.queueLocked(formID, Change{Kind: ChangeUpdate, Field: *f})
		return true
	}
	return false
}

// RemoveFieldsByFormID removes all matching fields in one batch; unmatched
// ids are ignored.
func (s *Session) RemoveFieldsByFormID(formIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(formIDs))
	for _, id := range formIDs {
		drop[id] = true
	}

	kept := s.fields[:0]
	removed := 0
	for _, f := range s.fields {
		if drop[f.FormID] && s.recipientModifiableLocked(f.RecipientID) {
			removed++
			s.queueLocked(f.FormID, Change{Kind: ChangeDelete, Field: f})
			if s.selectedField == f.FormID {
				s.selectedField = ""
			}
			continue
		}
		kept = append(kept, f)
	}
	s.fields = kept
	return removed
}

// DuplicateField appends a copy of the field with a fresh form id on the
// same page.
func (s *Session) DuplicateField(formID string) (envelope.Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.fields {
		if f.FormID != formID {
			continue
		}
		if !s.recipientModifiableLocked(f.RecipientID) {
			return envelope.Field{}, false
		}
		dup := f
		dup.ID = ""
		dup.FormID = ids.NewForm()
		dup.Inserted = false
		dup.CustomText = ""
		s.fields = append(s.fields, dup)
		s.queueLocked(dup.FormID, Change{Kind: ChangeCreate, Field: dup})
		return dup, true
	}
	return envelope.Field{}, false
}

// DuplicateFieldToAllPages copies the field onto every other page of its
// item, preserving relative geometry, then clears the field selection: the
// result spans many pages and a single highlighted field would be
// misleading.
func (s *Session) DuplicateFieldToAllPages(formID string) []envelope.Field {
	s.mu.Lock()
	defer s.mu.Unlock()

	var src *envelope.Field
	for i := range s.fields {
		if s.fields[i].FormID == formID {
			src = &s.fields[i]
			break
		}
	}
	if src == nil || !s.recipientModifiableLocked(src.RecipientID) {
		return nil
	}

	pageCount := 0
	for _, item := range s.items {
		if item.ID == src.ItemID {
			pageCount = item.PageCount
			break
		}
	}

	source := *src
	var created []envelope.Field
	for page := 1; page <= pageCount; page++ {
		if page == source.Page {
			continue
		}
		dup := source
		dup.ID = ""
		dup.FormID = ids.NewForm()
		dup.Page = page
		dup.Inserted = false
		dup.CustomText = ""
		s.fields = append(s.fields, dup)
		s.queueLocked(dup.FormID, Change{Kind: ChangeCreate, Field: dup})
		created = append(created, dup)
	}

	s.selectedField = ""
	return created
}

// ResetForm replaces the whole collection, dropping any queued changes. Used
// after an item deletion invalidates dependent fields.
func (s *Session) ResetForm(fields []envelope.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields[:0:0], fields...)
	s.pending = make(map[string]Change)
	s.selectedField = ""
	s.autosaveFailed = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SetSelectedRecipient updates the recipient selection ("" clears it).
func (s *Session) SetSelectedRecipient(recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedRecipient = recipientID
}

// SelectedRecipient returns the currently selected recipient id.
func (s *Session) SelectedRecipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedRecipient
}

// SetSelectedField updates the single-field selection ("" clears it).
// Selecting zero or several fields on canvas clears this: the meta panel
// selection and bulk selection are mutually exclusive.
func (s *Session) SetSelectedField(formID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedField = formID
}

// SelectedField returns the currently selected field form id.
func (s *Session) SelectedField() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedField
}

// AutosaveFailed reports the sticky autosave failure signal.
func (s *Session) AutosaveFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosaveFailed
}

// queueLocked coalesces a change into the pending batch and (re)arms the
// debounce timer. A create superseded by a delete cancels out entirely.
func (s *Session) queueLocked(formID string, c Change) {
	prev, exists := s.pending[formID]
	switch {
	case exists && prev.Kind == ChangeCreate && c.Kind == ChangeDelete:
		delete(s.pending, formID)
	case exists && prev.Kind == ChangeCreate && c.Kind == ChangeUpdate:
		s.pending[formID] = Change{Kind: ChangeCreate, Field: c.Field}
	default:
		s.pending[formID] = c
	}

	if s.syncer == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		_ = s.Flush(context.Background())
	})
}

// Flush pushes the pending batch to the syncer immediately. On failure the
// batch is requeued and the autosave-failed signal raised; local state is
// never rolled back.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 || s.syncer == nil {
		s.mu.Unlock()
		return nil
	}
	batch := make([]Change, 0, len(s.pending))
	keys := make([]string, 0, len(s.pending))
	for k, c := range s.pending {
		batch = append(batch, c)
		keys = append(keys, k)
	}
	s.pending = make(map[string]Change)
	envelopeID := s.envelopeID
	s.mu.Unlock()

	if err := s.syncer.SyncFields(ctx, envelopeID, batch); err != nil {
		s.mu.Lock()
		for i, k := range keys {
			if _, clobbered := s.pending[k]; !clobbered {
				s.pending[k] = batch[i]
			}
		}
		s.autosaveFailed = true
		s.mu.Unlock()
		obs.CountEditorFlush("failure")
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "autosave failed",
			"envelope_id": envelopeID, "error": err.Error(),
		})
		return err
	}

	s.mu.Lock()
	s.autosaveFailed = false
	s.mu.Unlock()
	obs.CountEditorFlush("success")
	return nil
}

// PendingCount reports how many coalesced changes await the next flush.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
