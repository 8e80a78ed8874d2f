package workflow

import (
	"context"
	"errors"
	"fmt"

	"signato.org/internal/auditlog"
	"signato.org/internal/auth"
	"signato.org/internal/envelope"
	"signato.org/internal/reauth"
)

// turnOf reports whether the recipient may act now. In parallel mode every
// recipient acts immediately; in sequential mode every required recipient
// with a lower order must have acted first.
func turnOf(env *envelope.Envelope, rec envelope.Recipient) bool {
	if env.Meta.SigningOrder == envelope.OrderParallel {
		return true
	}
	for _, other := range env.Recipients {
		if other.ID == rec.ID || !envelope.RequiredToAct(other.Role) {
			continue
		}
		if other.SigningOrder < rec.SigningOrder && !other.HasActed() {
			return false
		}
	}
	return true
}

func findRecipient(env *envelope.Envelope, id string) (*envelope.Recipient, error) {
	for i := range env.Recipients {
		if env.Recipients[i].ID == id {
			return &env.Recipients[i], nil
		}
	}
	return nil, envelope.ErrNotFound
}

func findField(env *envelope.Envelope, id string) (*envelope.Field, error) {
	for i := range env.Fields {
		if env.Fields[i].ID == id || env.Fields[i].FormID == id {
			return &env.Fields[i], nil
		}
	}
	return nil, envelope.ErrNotFound
}

func emailEntry(ctx context.Context, s *InMemory, envelopeID string, rec envelope.Recipient, emailType auditlog.EmailType, resending bool) *auditlog.Entry {
	return s.entry(ctx, envelopeID, auditlog.EventEmailSent, &auditlog.EmailSentData{
		RecipientID:    rec.ID,
		RecipientEmail: rec.Email,
		RecipientName:  rec.Name,
		RecipientRole:  rec.Role,
		EmailType:      emailType,
		IsResending:    resending,
	})
}

// Send moves a draft to pending and notifies recipients. In sequential mode
// only the recipients whose turn it is (plus passive roles) are mailed; the
// rest are mailed as earlier signers complete.
func (s *InMemory) Send(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.Status != envelope.StatusDraft {
		return envelope.ErrInvalidStatus
	}
	if env.Type == envelope.TypeTemplate {
		return fmt.Errorf("%w: templates cannot be sent", envelope.ErrInvalidInput)
	}
	if len(env.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", envelope.ErrInvalidInput)
	}

	env.Status = envelope.StatusPending
	entries := []*auditlog.Entry{s.entry(ctx, id, auditlog.EventDocumentSent, &auditlog.DocumentData{Title: env.Title})}
	for i := range env.Recipients {
		rec := &env.Recipients[i]
		if envelope.RequiredToAct(rec.Role) && !turnOf(env, *rec) {
			continue
		}
		rec.SendStatus = envelope.SendStatusSent
		entries = append(entries, emailEntry(ctx, s, id, *rec, auditlog.EmailSigningRequest, false))
	}
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, entries...)
}

// Resend re-mails already-notified recipients.
func (s *InMemory) Resend(ctx context.Context, id string, recipientIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.Status != envelope.StatusPending {
		return envelope.ErrInvalidStatus
	}
	var entries []*auditlog.Entry
	for _, rid := range recipientIDs {
		rec, err := findRecipient(env, rid)
		if err != nil {
			return err
		}
		if rec.SendStatus != envelope.SendStatusSent || rec.HasActed() {
			continue
		}
		entries = append(entries, emailEntry(ctx, s, id, *rec, auditlog.EmailSigningRequest, true))
	}
	return s.appendAudit(ctx, entries...)
}

// Open records a recipient viewing the envelope.
func (s *InMemory) Open(ctx context.Context, id, recipientID, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(id)
	if err != nil {
		return err
	}
	if env.Meta.Password != "" {
		if err := auth.VerifyPassword(env.Meta.Password, password); err != nil {
			return fmt.Errorf("%w: access password", envelope.ErrUnauthorized)
		}
	}
	rec, err := findRecipient(env, recipientID)
	if err != nil {
		return err
	}
	return s.appendAudit(ctx, s.entry(ctx, id, auditlog.EventDocumentOpened, &auditlog.RecipientData{
		RecipientID: rec.ID,
		Email:       rec.Email,
		Name:        rec.Name,
		Role:        rec.Role,
	}))
}

// SignField commits a value into a field. Signature fields are gated by the
// recipient's derived action-auth requirement; a failed requirement is
// always surfaced as ErrUnauthorized, never swallowed.
func (s *InMemory) SignField(ctx context.Context, in SignInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(in.EnvelopeID)
	if err != nil {
		return err
	}
	if env.Status != envelope.StatusPending {
		return envelope.ErrInvalidStatus
	}
	field, err := findField(env, in.FieldID)
	if err != nil {
		return err
	}
	if field.RecipientID != in.RecipientID {
		return fmt.Errorf("%w: field belongs to another recipient", envelope.ErrInvalidInput)
	}
	owner, err := findRecipient(env, in.RecipientID)
	if err != nil {
		return err
	}
	if owner.HasActed() {
		return envelope.ErrNotModifiable
	}

	// An assistant may fill fields on behalf of the owner; the turn check
	// then applies to the assistant.
	acting := owner
	if in.ActingRecipientID != "" && in.ActingRecipientID != in.RecipientID {
		assistant, err := findRecipient(env, in.ActingRecipientID)
		if err != nil {
			return err
		}
		if assistant.Role != envelope.RoleAssistant || assistant.HasActed() {
			return envelope.ErrUnauthorized
		}
		// Assistants fill fields, they never sign them.
		if field.Type == envelope.FieldSignature || field.Type == envelope.FieldFreeSignature {
			return fmt.Errorf("%w: assistant cannot sign on behalf of %s", envelope.ErrUnauthorized, owner.Email)
		}
		acting = assistant
	}
	if !turnOf(env, *acting) {
		return envelope.ErrOutOfTurn
	}

	outcome := reauth.Evaluate(*env, *owner, field.Type, in.SessionEmail)
	if outcome.Decision == reauth.DecisionChallengeRequired {
		if s.verifier == nil {
			return envelope.ErrUnauthorized
		}
		if err := s.verifier.VerifyProof(in.Proof, in.SessionID, in.RecipientID, in.EnvelopeID); err != nil {
			return fmt.Errorf("%w: %v", envelope.ErrUnauthorized, err)
		}
	}
	if field.Type == envelope.FieldSignature && in.Value == "" && in.SignatureID == "" {
		return fmt.Errorf("%w: signature value is required", envelope.ErrInvalidInput)
	}

	field.Inserted = true
	field.CustomText = in.Value
	env.UpdatedAt = s.now().UTC()

	entry := s.entry(ctx, in.EnvelopeID, auditlog.EventFieldSigned, &auditlog.FieldSignedData{
		FieldID:     field.ID,
		FieldType:   field.Type,
		RecipientID: in.RecipientID,
		Value:       in.Value,
		SignatureID: in.SignatureID,
		AuthMethod:  outcome.Method,
	})
	entry.Request = in.Request
	return s.commit(ctx, env, entry)
}

// UnsignField clears a previously committed field before completion.
func (s *InMemory) UnsignField(ctx context.Context, envelopeID, fieldID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	field, err := findField(env, fieldID)
	if err != nil {
		return err
	}
	if field.RecipientID != recipientID {
		return fmt.Errorf("%w: field belongs to another recipient", envelope.ErrInvalidInput)
	}
	rec, err := findRecipient(env, recipientID)
	if err != nil {
		return err
	}
	if rec.HasActed() {
		return envelope.ErrNotModifiable
	}
	if !field.Inserted {
		return nil
	}
	field.Inserted = false
	field.CustomText = ""
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, envelopeID, auditlog.EventFieldUnsigned, &auditlog.FieldSignedData{
		FieldID:     field.ID,
		FieldType:   field.Type,
		RecipientID: recipientID,
	}))
}

// CompleteRecipient finishes one recipient's signing flow. All required
// fields must be committed first. Completing the last gating recipient
// completes the envelope.
func (s *InMemory) CompleteRecipient(ctx context.Context, envelopeID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	if env.Status != envelope.StatusPending {
		return envelope.ErrInvalidStatus
	}
	rec, err := findRecipient(env, recipientID)
	if err != nil {
		return err
	}
	if rec.HasActed() {
		return envelope.ErrNotModifiable
	}
	if !turnOf(env, *rec) {
		return envelope.ErrOutOfTurn
	}
	for _, f := range env.Fields {
		if f.RecipientID != recipientID {
			continue
		}
		if (f.Type == envelope.FieldSignature || f.Meta.Required) && !f.Inserted {
			return fmt.Errorf("%w: field %s is not filled", envelope.ErrInvalidInput, f.ID)
		}
	}

	rec.SigningStatus = envelope.SigningStatusSigned
	env.UpdatedAt = s.now().UTC()

	recData := &auditlog.RecipientData{RecipientID: rec.ID, Email: rec.Email, Name: rec.Name, Role: rec.Role}
	entries := []*auditlog.Entry{
		s.entry(ctx, envelopeID, auditlog.EventRecipientCompleted, recData),
		s.entry(ctx, envelopeID, auditlog.EventRecipientFlowCompleted, recData),
	}

	// Sequential advance: mail required recipients whose turn just arrived.
	for i := range env.Recipients {
		next := &env.Recipients[i]
		if next.SendStatus == envelope.SendStatusSent || next.HasActed() {
			continue
		}
		if !envelope.RequiredToAct(next.Role) || !turnOf(env, *next) {
			continue
		}
		next.SendStatus = envelope.SendStatusSent
		entries = append(entries, emailEntry(ctx, s, envelopeID, *next, auditlog.EmailSigningRequest, false))
	}

	if allGatingActed(env) {
		env.Status = envelope.StatusCompleted
		entries = append(entries, s.entry(ctx, envelopeID, auditlog.EventDocumentCompleted, &auditlog.DocumentData{Title: env.Title}))
	}
	return s.commit(ctx, env, entries...)
}

func allGatingActed(env *envelope.Envelope) bool {
	for _, r := range env.Recipients {
		if envelope.RequiredToAct(r.Role) && r.SigningStatus != envelope.SigningStatusSigned {
			return false
		}
	}
	return true
}

// RejectRecipient records a refusal. A rejection by a gating role rejects
// the whole envelope.
func (s *InMemory) RejectRecipient(ctx context.Context, envelopeID, recipientID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	if env.Status != envelope.StatusPending {
		return envelope.ErrInvalidStatus
	}
	rec, err := findRecipient(env, recipientID)
	if err != nil {
		return err
	}
	if rec.HasActed() {
		return envelope.ErrNotModifiable
	}
	if !envelope.RequiredToAct(rec.Role) {
		return fmt.Errorf("%w: role %s cannot reject", envelope.ErrInvalidInput, rec.Role)
	}

	rec.SigningStatus = envelope.SigningStatusRejected
	rec.RejectReason = reason
	if envelope.GatesCompletion(rec.Role) {
		env.Status = envelope.StatusRejected
	}
	env.UpdatedAt = s.now().UTC()
	return s.commit(ctx, env, s.entry(ctx, envelopeID, auditlog.EventRecipientRejected, &auditlog.RecipientRejectedData{
		RecipientID: rec.ID,
		Email:       rec.Email,
		Role:        rec.Role,
		Reason:      reason,
	}))
}

// ExpireRecipient marks a recipient whose signing window lapsed. This is a
// system action with no human actor.
func (s *InMemory) ExpireRecipient(ctx context.Context, envelopeID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.get(envelopeID)
	if err != nil {
		return err
	}
	rec, err := findRecipient(env, recipientID)
	if err != nil {
		return err
	}
	if rec.HasActed() {
		return envelope.ErrNotModifiable
	}
	rec.SigningStatus = envelope.SigningStatusExpired
	env.UpdatedAt = s.now().UTC()
	entry := &auditlog.Entry{
		EnvelopeID: envelopeID,
		Type:       auditlog.EventRecipientExpired,
		Data: &auditlog.RecipientData{
			RecipientID: rec.ID,
			Email:       rec.Email,
			Name:        rec.Name,
			Role:        rec.Role,
		},
	}
	return s.commit(ctx, env, entry)
}

// Audit returns the envelope's entries, optionally filtered by type.
func (s *InMemory) Audit(ctx context.Context, envelopeID string, types ...auditlog.EventType) ([]auditlog.Entry, error) {
	return s.log.Find(ctx, envelopeID, types...)
}

// Certificate assembles the signing certificate input from the full log.
func (s *InMemory) Certificate(ctx context.Context, envelopeID string) (auditlog.CertificateData, error) {
	s.mu.RLock()
	_, err := s.get(envelopeID)
	s.mu.RUnlock()
	if err != nil && !errors.Is(err, envelope.ErrNotFound) {
		return auditlog.CertificateData{}, err
	}
	entries, err := s.log.Find(ctx, envelopeID)
	if err != nil {
		return auditlog.CertificateData{}, err
	}
	if len(entries) == 0 {
		return auditlog.CertificateData{}, envelope.ErrNotFound
	}
	return auditlog.BuildCertificateData(envelopeID, entries), nil
}
