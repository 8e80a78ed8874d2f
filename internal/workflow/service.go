// Package workflow is the server-side envelope lifecycle service: drafting,
// recipient management, field sync, sending, signing and completion. Every
// mutation appends its audit log entry in the same unit of work.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"signato.org/internal/auditlog"
	"signato.org/internal/auth"
	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/ids"
	"signato.org/internal/obs"
	"signato.org/internal/ordering"
	"signato.org/internal/reauth"
)

// Publisher receives every appended audit entry for fan-out (live streams,
// broker topics). A nil publisher disables fan-out.
type Publisher interface {
	Publish(ctx context.Context, entry auditlog.Entry)
}

// Repository is the durable envelope store. A nil repository keeps the
// service purely in-memory.
type Repository interface {
	SaveEnvelope(ctx context.Context, env envelope.Envelope) error
	DeleteEnvelope(ctx context.Context, id string) error
	ListEnvelopes(ctx context.Context) ([]envelope.Envelope, error)
}

// AtomicRepository persists the aggregate and its audit entries in one
// durable unit of work. Repositories that implement it get a single
// transaction per commit instead of separate envelope and log writes.
type AtomicRepository interface {
	Repository
	SaveEnvelopeWithAudit(ctx context.Context, env envelope.Envelope, entries []*auditlog.Entry) error
}

// CreateInput is a new draft envelope.
type CreateInput struct {
	Title string
	Type  envelope.Type
	Items []envelope.Item
	Meta  envelope.Meta
}

// SignInput is one signing action against one field.
type SignInput struct {
	EnvelopeID  string
	FieldID     string
	RecipientID string
	// ActingRecipientID is set when an assistant fills the field on behalf
	// of the owning recipient.
	ActingRecipientID string
	Value             string
	SignatureID       string
	SessionID         string
	SessionEmail      string
	Proof             string
	Request           auditlog.RequestMeta
}

// Service defines envelope lifecycle operations.
type Service interface {
	Create(ctx context.Context, in CreateInput) (envelope.Envelope, error)
	Get(ctx context.Context, id string) (envelope.Envelope, error)
	List(ctx context.Context) ([]envelope.Envelope, error)
	Delete(ctx context.Context, id string) error

	UpdateTitle(ctx context.Context, id, title string) error
	UpdateMeta(ctx context.Context, id string, meta envelope.Meta) error
	SetExternalID(ctx context.Context, id, externalID string) error
	SetVisibility(ctx context.Context, id, visibility string) error
	MoveToTeam(ctx context.Context, id, teamID string) error
	SetGlobalAccessAuth(ctx context.Context, id string, methods []envelope.AuthMethod) error
	SetGlobalActionAuth(ctx context.Context, id string, methods []envelope.AuthMethod) error

	AddRecipient(ctx context.Context, envelopeID string, r envelope.Recipient) (envelope.Recipient, error)
	UpdateRecipient(ctx context.Context, envelopeID string, r envelope.Recipient) error
	RemoveRecipient(ctx context.Context, envelopeID, recipientID string) error
	SetSigningOrder(ctx context.Context, envelopeID, recipientID string, order int) error
	SetSigningMode(ctx context.Context, envelopeID string, mode envelope.SigningOrderMode, confirmed bool) error

	SyncFields(ctx context.Context, envelopeID string, changes []editor.Change) error

	Send(ctx context.Context, id string) error
	Resend(ctx context.Context, id string, recipientIDs []string) error
	Open(ctx context.Context, id, recipientID, password string) error
	SignField(ctx context.Context, in SignInput) error
	UnsignField(ctx context.Context, envelopeID, fieldID, recipientID string) error
	CompleteRecipient(ctx context.Context, envelopeID, recipientID string) error
	RejectRecipient(ctx context.Context, envelopeID, recipientID, reason string) error
	ExpireRecipient(ctx context.Context, envelopeID, recipientID string) error

	Audit(ctx context.Context, envelopeID string, types ...auditlog.EventType) ([]auditlog.Entry, error)
	Certificate(ctx context.Context, envelopeID string) (auditlog.CertificateData, error)
}

// InMemory implements Service in-process. The postgres-backed store carries
// the same semantics inside real transactions.
type InMemory struct {
	mu        sync.RWMutex
	envelopes map[string]*envelope.Envelope
	log       auditlog.Log
	verifier  *reauth.Verifier
	publisher Publisher
	repo      Repository
	now       func() time.Time
}

// Option customizes an InMemory service.
type Option func(*InMemory)

// WithVerifier wires the 2FA proof verifier used to gate signature fields.
func WithVerifier(v *reauth.Verifier) Option {
	return func(s *InMemory) { s.verifier = v }
}

// WithPublisher wires audit entry fan-out.
func WithPublisher(p Publisher) Option {
	return func(s *InMemory) { s.publisher = p }
}

// WithRepository wires a durable envelope store. Every mutation writes the
// envelope through together with its audit entries; stores implementing
// AtomicRepository get both in a single transaction.
func WithRepository(repo Repository) Option {
	return func(s *InMemory) { s.repo = repo }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty service writing to the given audit log.
func NewInMemory(log auditlog.Log, opts ...Option) *InMemory {
	s := &InMemory{
		envelopes: make(map[string]*envelope.Envelope),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func actorFrom(ctx context.Context) auditlog.Actor {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auditlog.Actor{}
	}
	return auditlog.Actor{UserID: p.UserID, Email: p.Email, Name: p.Name}
}

// appendAudit writes entries to the log and fans them out. The caller holds
// the service lock, keeping entity change and audit append one unit.
func (s *InMemory) appendAudit(ctx context.Context, entries ...*auditlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.log.AppendMany(ctx, entries); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	s.fanOut(ctx, entries)
	return nil
}

func (s *InMemory) fanOut(ctx context.Context, entries []*auditlog.Entry) {
	for _, e := range entries {
		obs.CountAuditEntry(string(e.Type))
		if s.publisher != nil {
			s.publisher.Publish(ctx, *e)
		}
	}
}

// commit writes the envelope through to the repository and appends the audit
// entries. The caller holds the service lock.
func (s *InMemory) commit(ctx context.Context, env *envelope.Envelope, entries ...*auditlog.Entry) error {
	if atomic, ok := s.repo.(AtomicRepository); ok {
		if err := atomic.SaveEnvelopeWithAudit(ctx, cloneEnvelope(env), entries); err != nil {
			return fmt.Errorf("persist envelope: %w", err)
		}
		// When the log is a separate store the atomic write did not
		// reach it; the usual wiring backs both with one store.
		if any(s.log) != any(s.repo) {
			if err := s.log.AppendMany(ctx, entries); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}
		s.fanOut(ctx, entries)
		return nil
	}
	if s.repo != nil {
		if err := s.repo.SaveEnvelope(ctx, cloneEnvelope(env)); err != nil {
			return fmt.Errorf("persist envelope: %w", err)
		}
	}
	return s.appendAudit(ctx, entries...)
}

// Hydrate loads all envelopes from the repository. Call once at startup,
// before the service takes traffic.
func (s *InMemory) Hydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	envs, err := s.repo.ListEnvelopes(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range envs {
		env := envs[i]
		s.envelopes[env.ID] = &env
	}
	return nil
}

func (s *InMemory) entry(ctx context.Context, envelopeID string, t auditlog.EventType, data auditlog.EventData) *auditlog.Entry {
	return &auditlog.Entry{
		EnvelopeID: envelopeID,
		Type:       t,
		Actor:      actorFrom(ctx),
		Data:       data,
	}
}

func (s *InMemory) get(id string) (*envelope.Envelope, error) {
	env, ok := s.envelopes[id]
	if !ok {
		return nil, envelope.ErrNotFound
	}
	return env, nil
}

func (s *InMemory) Create(ctx context.Context, in CreateInput) (envelope.Envelope, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return envelope.Envelope{}, fmt.Errorf("%w: title is required", envelope.ErrInvalidInput)
	}
	envType := in.Type
	if envType == "" {
		envType = envelope.TypeDocument
	}
	meta := in.Meta
	if meta.SigningOrder == "" {
		meta.SigningOrder = envelope.OrderSequential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	env := &envelope.Envelope{
		ID:        ids.New(),
		Title:     title,
		Status:    envelope.StatusDraft,
		Type:      envType,
		Items:     append([]envelope.Item(nil), in.Items...),
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if env.Meta.Password != "" {
		hash, err := auth.HashPassword(env.Meta.Password)
		if err != nil {
			return envelope.Envelope{}, err
		}
		env.Meta.Password = hash
	}
	s.envelopes[env.ID] = env

	err := s.commit(ctx, env, s.entry(ctx, env.ID, auditlog.EventDocumentCreated, &auditlog.DocumentData{Title: env.Title}))
	if err != nil {
		return envelope.Envelope{}, err
	}
	return cloneEnvelope(env), nil
}

func (s *InMemory) Get(ctx context.Context, id string) (envelope.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, err := s.get(id)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return cloneEnvelope(env), nil
}

func (s *InMemory) List(ctx context.Context) ([]envelope.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]envelope.Envelope, 0, len(s.envelopes))
	for _, env := range s.envelopes {
		out = append(out, cloneEnvelope(env))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	// The envelope row goes away; its audit log is retained.
	delete(s.envelopes, id)
	if s.repo != nil {
		if err := s.repo.DeleteEnvelope(ctx, id); err != nil {
			return fmt.Errorf("delete envelope: %w", err)
		}
	}
	return s.appendAudit(ctx, s.entry(ctx, id, auditlog.EventDocumentDeleted, &auditlog.DocumentData{Title: env.Title}))
}

func (s *InMemory) UpdateTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", envelope.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.Title == title {
		return nil
	}
	from := env.Title
	env.Title = title
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, auditlog.EventDocumentTitleUpdated, &auditlog.TitleUpdatedData{From: from, To: title}))
}

func (s *InMemory) UpdateMeta(ctx context.Context, id string, meta envelope.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if meta.Password != "" && meta.Password != env.Meta.Password {
		hash, err := auth.HashPassword(meta.Password)
		if err != nil {
			return err
		}
		meta.Password = hash
	}
	diffs := auditlog.DiffDocumentMetaChanges(env.Meta, meta)
	if len(diffs) == 0 {
		return nil
	}
	// Mode changes go through SetSigningMode so assistant coupling applies.
	meta.SigningOrder = env.Meta.SigningOrder
	env.Meta = meta
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, auditlog.EventDocumentMetaUpdated, &auditlog.MetaUpdatedData{Diffs: diffs}))
}

func (s *InMemory) SetExternalID(ctx context.Context, id, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.ExternalID == externalID {
		return nil
	}
	from := env.ExternalID
	env.ExternalID = externalID
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, auditlog.EventDocumentExternalID, &auditlog.ExternalIDData{From: from, To: externalID}))
}

func (s *InMemory) SetVisibility(ctx context.Context, id, visibility string) error {
	if visibility == "" {
		return fmt.Errorf("%w: visibility is required", envelope.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.Visibility == visibility {
		return nil
	}
	from := env.Visibility
	env.Visibility = visibility
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, auditlog.EventDocumentVisibility, &auditlog.VisibilityData{From: from, To: visibility}))
}

func (s *InMemory) MoveToTeam(ctx context.Context, id, teamID string) error {
	if teamID == "" {
		return fmt.Errorf("%w: team is required", envelope.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.TeamID == teamID {
		return nil
	}
	from := env.TeamID
	env.TeamID = teamID
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, auditlog.EventDocumentMovedToTeam, &auditlog.MovedToTeamData{FromTeamID: from, ToTeamID: teamID}))
}

func (s *InMemory) SetGlobalAccessAuth(ctx context.Context, id string, methods []envelope.AuthMethod) error {
	return s.setGlobalAuth(ctx, id, methods, true)
}

func (s *InMemory) SetGlobalActionAuth(ctx context.Context, id string, methods []envelope.AuthMethod) error {
	return s.setGlobalAuth(ctx, id, methods, false)
}

func (s *InMemory) setGlobalAuth(ctx context.Context, id string, methods []envelope.AuthMethod, access bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	var from []envelope.AuthMethod
	eventType := auditlog.EventDocumentGlobalAuthAction
	if access {
		eventType = auditlog.EventDocumentGlobalAuthAccess
		from = env.GlobalAuth.AccessAuth
		env.GlobalAuth.AccessAuth = append([]envelope.AuthMethod(nil), methods...)
	} else {
		from = env.GlobalAuth.ActionAuth
		env.GlobalAuth.ActionAuth = append([]envelope.AuthMethod(nil), methods...)
	}
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, id, eventType, &auditlog.GlobalAuthData{From: from, To: methods}))
}

func (s *InMemory) engine(env *envelope.Envelope) *ordering.Engine {
	envType := env.Type
	return ordering.New(env.Meta.SigningOrder, env.Recipients, func(r envelope.Recipient) bool {
		return envelope.RecipientModifiable(r, envType)
	})
}

func (s *InMemory) AddRecipient(ctx context.Context, envelopeID string, r envelope.Recipient) (envelope.Recipient, error) {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" {
		return envelope.Recipient{}, fmt.Errorf("%w: email is required", envelope.ErrInvalidInput)
	}
	if r.Role == "" {
		r.Role = envelope.RoleSigner
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return envelope.Recipient{}, err
	}
	if env.Status == envelope.StatusCompleted || env.Status == envelope.StatusRejected {
		return envelope.Recipient{}, envelope.ErrInvalidStatus
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.FormID == "" {
		r.FormID = ids.NewForm()
	}
	r.SendStatus = envelope.SendStatusNotSent
	r.SigningStatus = envelope.SigningStatusNotSigned

	eng := s.engine(env)
	added := eng.Add(r)
	env.Recipients = eng.Recipients()
	env.UpdatedAt = s.now().UTC()

	err = s.commit(ctx, env, s.entry(ctx, envelopeID, auditlog.EventRecipientCreated, &auditlog.RecipientData{
		RecipientID: added.ID,
		Email:       added.Email,
		Name:        added.Name,
		Role:        added.Role,
	}))
	if err != nil {
		return envelope.Recipient{}, err
	}
	return added, nil
}

func (s *InMemory) UpdateRecipient(ctx context.Context, envelopeID string, r envelope.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	idx := -1
	for i := range env.Recipients {
		if env.Recipients[i].ID == r.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return envelope.ErrNotFound
	}
	current := env.Recipients[idx]
	if !envelope.RecipientModifiable(current, env.Type) {
		return envelope.ErrNotModifiable
	}

	updated := current
	if email := strings.ToLower(strings.TrimSpace(r.Email)); email != "" {
		updated.Email = email
	}
	if r.Name != "" {
		updated.Name = r.Name
	}
	if r.AuthOptions.AccessAuth != nil {
		updated.AuthOptions.AccessAuth = r.AuthOptions.AccessAuth
	}
	if r.AuthOptions.ActionAuth != nil {
		updated.AuthOptions.ActionAuth = r.AuthOptions.ActionAuth
	}

	eng := s.engine(env)
	if r.Role != "" && r.Role != current.Role {
		if _, err := eng.SetRole(current.ID, r.Role); err != nil {
			return err
		}
		for _, rec := range eng.Recipients() {
			if rec.ID == current.ID {
				updated.Role = rec.Role
			}
		}
	}

	diffs := auditlog.DiffRecipientChanges(current, updated)
	if len(diffs) == 0 {
		return nil
	}
	recipients := eng.Recipients()
	for i := range recipients {
		if recipients[i].ID == updated.ID {
			role := recipients[i].Role
			order := recipients[i].SigningOrder
			recipients[i] = updated
			recipients[i].Role = role
			recipients[i].SigningOrder = order
		}
	}
	env.Recipients = recipients
	env.Meta.SigningOrder = eng.Mode()
	env.UpdatedAt = s.now().UTC()

	return s.commit(ctx, env, s.entry(ctx, envelopeID, auditlog.EventRecipientUpdated, &auditlog.RecipientUpdatedData{
		RecipientID: updated.ID,
		Email:       updated.Email,
		Diffs:       diffs,
	}))
}

func (s *InMemory) RemoveRecipient(ctx context.Context, envelopeID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	var removed envelope.Recipient
	found := false
	for _, r := range env.Recipients {
		if r.ID == recipientID {
			removed = r
			found = true
			break
		}
	}
	if !found {
		return envelope.ErrNotFound
	}

	eng := s.engine(env)
	if err := eng.Remove(recipientID); err != nil {
		return err
	}
	env.Recipients = eng.Recipients()

	// The recipient's fields go with it.
	entries := []*auditlog.Entry{s.entry(ctx, envelopeID, auditlog.EventRecipientDeleted, &auditlog.RecipientData{
		RecipientID: removed.ID,
		Email:       removed.Email,
		Name:        removed.Name,
		Role:        removed.Role,
	})}
	kept := env.Fields[:0]
	for _, f := range env.Fields {
		if f.RecipientID != recipientID {
			kept = append(kept, f)
			continue
		}
		entries = append(entries, s.entry(ctx, envelopeID, auditlog.EventFieldDeleted, &auditlog.FieldData{
			FieldID:     f.ID,
			FieldType:   f.Type,
			RecipientID: f.RecipientID,
			Page:        f.Page,
		}))
	}
	env.Fields = kept
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, entries...)
}

func (s *InMemory) SetSigningOrder(ctx context.Context, envelopeID, recipientID string, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	eng := s.engine(env)
	if err := eng.SetSigningOrder(recipientID, order); err != nil {
		return err
	}
	env.Recipients = eng.Recipients()
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env)
}

func (s *InMemory) SetSigningMode(ctx context.Context, envelopeID string, mode envelope.SigningOrderMode, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	eng := s.engine(env)
	if err := eng.SetMode(mode, confirmed); err != nil {
		return err
	}
	env.Recipients = eng.Recipients()
	env.Meta.SigningOrder = eng.Mode()
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env)
}

func cloneEnvelope(env *envelope.Envelope) envelope.Envelope {
	out := *env
	out.Items = append([]envelope.Item(nil), env.Items...)
	out.Recipients = append([]envelope.Recipient(nil), env.Recipients...)
	out.Fields = append([]envelope.Field(nil), env.Fields...)
	return out
}
