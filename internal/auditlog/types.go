package auditlog

import (
	"time"

	"signato.org/internal/envelope"
)

// EventType tags every audit log entry. The set is closed: adding a member
// requires updating ParseData, FormatAction and the replay switch, and the
// formatter totality test enumerates AllEventTypes to catch omissions.
type EventType string

const (
	// Field lifecycle.
	EventFieldCreated EventType = "FIELD_CREATED"
	EventFieldUpdated EventType = "FIELD_UPDATED"
	EventFieldDeleted EventType = "FIELD_DELETED"

	// Recipient lifecycle.
	EventRecipientCreated EventType = "RECIPIENT_CREATED"
	EventRecipientUpdated EventType = "RECIPIENT_UPDATED"
	EventRecipientDeleted EventType = "RECIPIENT_DELETED"

	// Document lifecycle.
	EventDocumentCreated          EventType = "DOCUMENT_CREATED"
	EventDocumentDeleted          EventType = "DOCUMENT_DELETED"
	EventDocumentSent             EventType = "DOCUMENT_SENT"
	EventDocumentOpened           EventType = "DOCUMENT_OPENED"
	EventDocumentCompleted        EventType = "DOCUMENT_COMPLETED"
	EventDocumentTitleUpdated     EventType = "DOCUMENT_TITLE_UPDATED"
	EventDocumentMetaUpdated      EventType = "DOCUMENT_META_UPDATED"
	EventDocumentMovedToTeam      EventType = "DOCUMENT_MOVED_TO_TEAM"
	EventDocumentExternalID       EventType = "DOCUMENT_EXTERNAL_ID_UPDATED"
	EventDocumentVisibility       EventType = "DOCUMENT_VISIBILITY_UPDATED"
	EventDocumentGlobalAuthAccess EventType = "DOCUMENT_GLOBAL_AUTH_ACCESS_UPDATED"
	EventDocumentGlobalAuthAction EventType = "DOCUMENT_GLOBAL_AUTH_ACTION_UPDATED"

	// Signing actions.
	EventFieldSigned            EventType = "DOCUMENT_FIELD_SIGNED"
	EventFieldUnsigned          EventType = "DOCUMENT_FIELD_UNSIGNED"
	EventRecipientCompleted     EventType = "DOCUMENT_RECIPIENT_COMPLETED"
	EventRecipientRejected      EventType = "DOCUMENT_RECIPIENT_REJECTED"
	EventRecipientExpired       EventType = "DOCUMENT_RECIPIENT_EXPIRED"
	EventRecipientFlowCompleted EventType = "DOCUMENT_RECIPIENT_FLOW_COMPLETE"

	// Email.
	EventEmailSent EventType = "EMAIL_SENT"

	// Reauthentication. One entry per 2FA verification outcome, success or
	// failure, keyed by rejection reason in the payload.
	EventTwoFactor EventType = "DOCUMENT_AUTH_2FA"
)

// AllEventTypes lists every member of the union in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventFieldCreated, EventFieldUpdated, EventFieldDeleted,
		EventRecipientCreated, EventRecipientUpdated, EventRecipientDeleted,
		EventDocumentCreated, EventDocumentDeleted, EventDocumentSent,
		EventDocumentOpened, EventDocumentCompleted, EventDocumentTitleUpdated,
		EventDocumentMetaUpdated, EventDocumentMovedToTeam,
		EventDocumentExternalID, EventDocumentVisibility,
		EventDocumentGlobalAuthAccess, EventDocumentGlobalAuthAction,
		EventFieldSigned, EventFieldUnsigned, EventRecipientCompleted,
		EventRecipientRejected, EventRecipientExpired,
		EventRecipientFlowCompleted, EventEmailSent, EventTwoFactor,
	}
}

// Actor is the user identity snapshot captured at event time. Zero value
// means a system event with no actor.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// IsSystem reports whether the entry has no human actor.
func (a Actor) IsSystem() bool { return a.UserID == "" && a.Email == "" && a.Name == "" }

// Display returns the actor's preferred label: name first, then email.
func (a Actor) Display() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

// RequestMeta captures transport-level metadata for compliance records.
type RequestMeta struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// EventData is the closed interface over typed payloads.
type EventData interface{ eventData() }

// Entry is one append-only audit log record. Entries are never mutated or
// deleted; replayed in CreatedAt order they reconstruct every user-visible
// status and history view, including the signing certificate.
type Entry struct {
	ID         string      `json:"id"`
	EnvelopeID string      `json:"envelope_id"`
	Type       EventType   `json:"type"`
	CreatedAt  time.Time   `json:"created_at"`
	Actor      Actor       `json:"actor,omitempty"`
	Request    RequestMeta `json:"request,omitempty"`
	Data       EventData   `json:"data,omitempty"`
}

// --- field payloads ---

type FieldData struct {
	FieldID     string             `json:"field_id"`
	FieldType   envelope.FieldType `json:"field_type"`
	RecipientID string             `json:"recipient_id,omitempty"`
	Page        int                `json:"page,omitempty"`
}

func (FieldData) eventData() {}

type FieldUpdatedData struct {
	FieldID   string             `json:"field_id"`
	FieldType envelope.FieldType `json:"field_type"`
	Diffs     []FieldDiff        `json:"diffs"`
}

func (FieldUpdatedData) eventData() {}

// --- recipient payloads ---

type RecipientData struct {
	RecipientID string        `json:"recipient_id"`
	Email       string        `json:"email"`
	Name        string        `json:"name,omitempty"`
	Role        envelope.Role `json:"role"`
}

func (RecipientData) eventData() {}

type RecipientUpdatedData struct {
	RecipientID string          `json:"recipient_id"`
	Email       string          `json:"email"`
	Diffs       []RecipientDiff `json:"diffs"`
}

func (RecipientUpdatedData) eventData() {}

type RecipientRejectedData struct {
	RecipientID string        `json:"recipient_id"`
	Email       string        `json:"email"`
	Role        envelope.Role `json:"role"`
	Reason      string        `json:"reason,omitempty"`
}

func (RecipientRejectedData) eventData() {}

// --- document payloads ---

type DocumentData struct {
	Title string `json:"title,omitempty"`
}

func (DocumentData) eventData() {}

type TitleUpdatedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (TitleUpdatedData) eventData() {}

type MetaUpdatedData struct {
	Diffs []MetaDiff `json:"diffs"`
}

func (MetaUpdatedData) eventData() {}

type MovedToTeamData struct {
	FromTeamID string `json:"from_team_id,omitempty"`
	ToTeamID   string `json:"to_team_id"`
}

func (MovedToTeamData) eventData() {}

type ExternalIDData struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (ExternalIDData) eventData() {}

type VisibilityData struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

func (VisibilityData) eventData() {}

type GlobalAuthData struct {
	From []envelope.AuthMethod `json:"from,omitempty"`
	To   []envelope.AuthMethod `json:"to,omitempty"`
}

func (GlobalAuthData) eventData() {}

// --- signing payloads ---

// FieldSignedData records the committed value along with the action-auth
// method that authorized it. Signature images are referenced, not embedded.
type FieldSignedData struct {
	FieldID     string              `json:"field_id"`
	FieldType   envelope.FieldType  `json:"field_type"`
	RecipientID string              `json:"recipient_id"`
	Value       string              `json:"value,omitempty"`
	SignatureID string              `json:"signature_id,omitempty"`
	AuthMethod  envelope.AuthMethod `json:"auth_method,omitempty"`
}

func (FieldSignedData) eventData() {}

// --- email payloads ---

// EmailType enumerates outbound mail kinds recorded by EMAIL_SENT.
type EmailType string

const (
	EmailSigningRequest EmailType = "SIGNING_REQUEST"
	EmailDocumentCopy   EmailType = "DOCUMENT_COPY"
	EmailCompleted      EmailType = "DOCUMENT_COMPLETED"
	EmailRejected       EmailType = "DOCUMENT_REJECTED"
)

type EmailSentData struct {
	RecipientID    string        `json:"recipient_id"`
	RecipientEmail string        `json:"recipient_email"`
	RecipientName  string        `json:"recipient_name,omitempty"`
	RecipientRole  envelope.Role `json:"recipient_role"`
	EmailType      EmailType     `json:"email_type"`
	IsResending    bool          `json:"is_resending"`
}

func (EmailSentData) eventData() {}

// TwoFactorData records a 2FA verification outcome tied to a signing action.
type TwoFactorData struct {
	RecipientID string `json:"recipient_id"`
	TokenID     string `json:"token_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
}

func (TwoFactorData) eventData() {}
