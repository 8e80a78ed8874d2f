package envelope

import (
	"errors"
	"time"

	"signato.org/internal/geometry"
)

// Status is the envelope lifecycle state. It is persisted for fast reads but
// every transition is mirrored by an audit log entry in the same unit of
// work, so the log stays authoritative for reconstruction.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Type distinguishes live documents from reusable templates. Templates stay
// editable forever; documents freeze per-recipient once sent.
type Type string

const (
	TypeDocument Type = "DOCUMENT"
	TypeTemplate Type = "TEMPLATE"
)

// Role of a recipient in the signing workflow.
type Role string

const (
	RoleSigner    Role = "SIGNER"
	RoleApprover  Role = "APPROVER"
	RoleViewer    Role = "VIEWER"
	RoleCC        Role = "CC"
	RoleAssistant Role = "ASSISTANT"
)

// SendStatus tracks whether the recipient has been notified.
type SendStatus string

const (
	SendStatusNotSent SendStatus = "NOT_SENT"
	SendStatusSent    SendStatus = "SENT"
)

// SigningStatus tracks the recipient's progress.
type SigningStatus string

const (
	SigningStatusNotSigned SigningStatus = "NOT_SIGNED"
	SigningStatusSigned    SigningStatus = "SIGNED"
	SigningStatusRejected  SigningStatus = "REJECTED"
	SigningStatusExpired   SigningStatus = "EXPIRED"
)

// SigningOrderMode controls whether signers act in sequence or in parallel.
type SigningOrderMode string

const (
	OrderSequential SigningOrderMode = "SEQUENTIAL"
	OrderParallel   SigningOrderMode = "PARALLEL"
)

// FieldType enumerates every interactive field kind. Code that dispatches on
// this union must handle every member; helpers below keep the set closed.
type FieldType string

const (
	FieldSignature     FieldType = "SIGNATURE"
	FieldEmail         FieldType = "EMAIL"
	FieldName          FieldType = "NAME"
	FieldInitials      FieldType = "INITIALS"
	FieldDate          FieldType = "DATE"
	FieldText          FieldType = "TEXT"
	FieldNumber        FieldType = "NUMBER"
	FieldRadio         FieldType = "RADIO"
	FieldCheckbox      FieldType = "CHECKBOX"
	FieldDropdown      FieldType = "DROPDOWN"
	FieldFreeSignature FieldType = "FREE_SIGNATURE"
)

// FieldTypes lists every member of the field type union in declaration order.
func FieldTypes() []FieldType {
	return []FieldType{
		FieldSignature, FieldEmail, FieldName, FieldInitials, FieldDate,
		FieldText, FieldNumber, FieldRadio, FieldCheckbox, FieldDropdown,
		FieldFreeSignature,
	}
}

// ValidFieldType reports whether t belongs to the declared union.
func ValidFieldType(t FieldType) bool {
	for _, ft := range FieldTypes() {
		if ft == t {
			return true
		}
	}
	return false
}

// AuthMethod is an access or action authentication requirement.
type AuthMethod string

const (
	AuthAccount      AuthMethod = "ACCOUNT"
	AuthTwoFactor    AuthMethod = "TWO_FACTOR_AUTH"
	AuthPasskey      AuthMethod = "PASSKEY"
	AuthExplicitNone AuthMethod = "EXPLICIT_NONE"
)

// AuthOptions carries the per-recipient access and action requirements.
type AuthOptions struct {
	AccessAuth []AuthMethod `json:"access_auth,omitempty"`
	ActionAuth []AuthMethod `json:"action_auth,omitempty"`
}

// Meta is per-envelope signing configuration.
type Meta struct {
	SigningOrder SigningOrderMode `json:"signing_order"`
	Language     string           `json:"language,omitempty"`
	DateFormat   string           `json:"date_format,omitempty"`
	Timezone     string           `json:"timezone,omitempty"`
	Subject      string           `json:"subject,omitempty"`
	Message      string           `json:"message,omitempty"`
	RedirectURL  string           `json:"redirect_url,omitempty"`
	Password     string           `json:"-"`
}

// Item is one underlying file of an envelope.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	PageCount int    `json:"page_count"`
}

// Recipient participates in the signing workflow.
type Recipient struct {
	ID            string        `json:"id"`
	FormID        string        `json:"form_id,omitempty"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	Role          Role          `json:"role"`
	SigningOrder  int           `json:"signing_order"`
	SendStatus    SendStatus    `json:"send_status"`
	SigningStatus SigningStatus `json:"signing_status"`
	AuthOptions   AuthOptions   `json:"auth_options"`
	RejectReason  string        `json:"rejection_reason,omitempty"`
}

// FieldMeta is type-specific field configuration.
type FieldMeta struct {
	Label        string   `json:"label,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
	Required     bool     `json:"required,omitempty"`
	ReadOnly     bool     `json:"read_only,omitempty"`
	Values       []string `json:"values,omitempty"`
	MinLength    int      `json:"min_length,omitempty"`
	MaxLength    int      `json:"max_length,omitempty"`
}

// Field is an interactive shape placed on a page. Geometry is always stored
// in percent space; pixel space exists only at the interaction boundary.
type Field struct {
	ID          string               `json:"id"`
	FormID      string               `json:"form_id"`
	ItemID      string               `json:"item_id"`
	Page        int                  `json:"page"`
	Type        FieldType            `json:"type"`
	Rect        geometry.PercentRect `json:"rect"`
	RecipientID string               `json:"recipient_id"`
	Meta        FieldMeta            `json:"meta"`
	Inserted    bool                 `json:"inserted"`
	CustomText  string               `json:"custom_text,omitempty"`
}

// Envelope owns its recipients and fields.
type Envelope struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	ExternalID string      `json:"external_id,omitempty"`
	TeamID     string      `json:"team_id,omitempty"`
	Visibility string      `json:"visibility,omitempty"`
	Status     Status      `json:"status"`
	Type       Type        `json:"type"`
	Items      []Item      `json:"items"`
	Recipients []Recipient `json:"recipients"`
	Fields     []Field     `json:"fields"`
	Meta       Meta        `json:"meta"`
	GlobalAuth AuthOptions `json:"auth_options"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

var (
	ErrNotFound         = errors.New("envelope: not found")
	ErrInvalidInput     = errors.New("envelope: invalid input")
	ErrNotModifiable    = errors.New("envelope: recipient can no longer be modified")
	ErrInvalidStatus    = errors.New("envelope: operation not allowed in current status")
	ErrOutOfTurn        = errors.New("envelope: recipient is not next in signing order")
	ErrUnauthorized     = errors.New("envelope: unauthorized")
	ErrInvalidFieldType = errors.New("envelope: unknown field type")
)

// RecipientModifiable is the shared predicate deciding whether a recipient's
// identity, position and fields may still change. Templates are always
// editable; for documents the recipient must be untouched: not yet sent
// (CC recipients are never blocked by send status) and not yet acted.
func RecipientModifiable(r Recipient, envType Type) bool {
	if envType == TypeTemplate {
		return true
	}
	if r.SigningStatus != SigningStatusNotSigned {
		return false
	}
	if r.Role == RoleCC {
		return true
	}
	return r.SendStatus == SendStatusNotSent
}

// HasActed reports whether the recipient already signed, rejected or expired.
func (r Recipient) HasActed() bool {
	return r.SigningStatus != SigningStatusNotSigned
}

// RequiredToAct reports whether the workflow waits on this recipient before
// the envelope can complete.
func RequiredToAct(role Role) bool {
	switch role {
	case RoleSigner, RoleApprover, RoleAssistant:
		return true
	case RoleViewer, RoleCC:
		return false
	}
	return false
}

// GatesCompletion reports whether a rejection by this role rejects the
// whole envelope.
func GatesCompletion(role Role) bool {
	return role == RoleSigner || role == RoleApprover
}
