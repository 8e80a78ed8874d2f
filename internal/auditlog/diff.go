package auditlog

import (
	"strings"

	"signato.org/internal/envelope"
)

// Diff functions are pure: given an old and new snapshot of the same entity
// they return only the attributes that changed. They must run inside the
// same unit of work that persists the mutation so the before/after pair is
// atomic, never a diff against a stale read.

// FieldDiffType tags one changed field attribute.
type FieldDiffType string

const (
	FieldDiffDimension FieldDiffType = "DIMENSION"
	FieldDiffPosition  FieldDiffType = "POSITION"
)

// FieldGeom carries the axes relevant to one field diff: width/height for
// DIMENSION, positionX/positionY for POSITION.
type FieldGeom struct {
	PositionX float64 `json:"position_x,omitempty"`
	PositionY float64 `json:"position_y,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
}

type FieldDiff struct {
	Type FieldDiffType `json:"type"`
	From FieldGeom     `json:"from"`
	To   FieldGeom     `json:"to"`
}

// DiffFieldChanges compares two snapshots of the same field.
func DiffFieldChanges(from, to envelope.Field) []FieldDiff {
	var diffs []FieldDiff
	if from.Rect.Width != to.Rect.Width || from.Rect.Height != to.Rect.Height {
		diffs = append(diffs, FieldDiff{
			Type: FieldDiffDimension,
			From: FieldGeom{Width: from.Rect.Width, Height: from.Rect.Height},
			To:   FieldGeom{Width: to.Rect.Width, Height: to.Rect.Height},
		})
	}
	if from.Rect.PositionX != to.Rect.PositionX || from.Rect.PositionY != to.Rect.PositionY {
		diffs = append(diffs, FieldDiff{
			Type: FieldDiffPosition,
			From: FieldGeom{PositionX: from.Rect.PositionX, PositionY: from.Rect.PositionY},
			To:   FieldGeom{PositionX: to.Rect.PositionX, PositionY: to.Rect.PositionY},
		})
	}
	return diffs
}

// RecipientDiffType tags one changed recipient attribute.
type RecipientDiffType string

const (
	RecipientDiffName       RecipientDiffType = "NAME"
	RecipientDiffRole       RecipientDiffType = "ROLE"
	RecipientDiffEmail      RecipientDiffType = "EMAIL"
	RecipientDiffAccessAuth RecipientDiffType = "ACCESS_AUTH"
	RecipientDiffActionAuth RecipientDiffType = "ACTION_AUTH"
)

type RecipientDiff struct {
	Type RecipientDiffType `json:"type"`
	From string            `json:"from"`
	To   string            `json:"to"`
}

// DiffRecipientChanges compares two snapshots of the same recipient.
func DiffRecipientChanges(from, to envelope.Recipient) []RecipientDiff {
	var diffs []RecipientDiff
	if from.Name != to.Name {
		diffs = append(diffs, RecipientDiff{Type: RecipientDiffName, From: from.Name, To: to.Name})
	}
	if from.Role != to.Role {
		diffs = append(diffs, RecipientDiff{Type: RecipientDiffRole, From: string(from.Role), To: string(to.Role)})
	}
	if from.Email != to.Email {
		diffs = append(diffs, RecipientDiff{Type: RecipientDiffEmail, From: from.Email, To: to.Email})
	}
	if a, b := joinAuth(from.AuthOptions.AccessAuth), joinAuth(to.AuthOptions.AccessAuth); a != b {
		diffs = append(diffs, RecipientDiff{Type: RecipientDiffAccessAuth, From: a, To: b})
	}
	if a, b := joinAuth(from.AuthOptions.ActionAuth), joinAuth(to.AuthOptions.ActionAuth); a != b {
		diffs = append(diffs, RecipientDiff{Type: RecipientDiffActionAuth, From: a, To: b})
	}
	return diffs
}

func joinAuth(methods []envelope.AuthMethod) string {
	parts := make([]string, 0, len(methods))
	for _, m := range methods {
		parts = append(parts, string(m))
	}
	return strings.Join(parts, ",")
}

// MetaDiffType tags one changed document-meta attribute.
type MetaDiffType string

const (
	MetaDiffDateFormat  MetaDiffType = "DATE_FORMAT"
	MetaDiffMessage     MetaDiffType = "MESSAGE"
	MetaDiffSubject     MetaDiffType = "SUBJECT"
	MetaDiffTimezone    MetaDiffType = "TIMEZONE"
	MetaDiffPassword    MetaDiffType = "PASSWORD"
	MetaDiffRedirectURL MetaDiffType = "REDIRECT_URL"
)

// MetaDiff records a changed meta attribute. Password diffs carry the type
// only; the values never enter the log.
type MetaDiff struct {
	Type MetaDiffType `json:"type"`
	From string       `json:"from,omitempty"`
	To   string       `json:"to,omitempty"`
}

// DiffDocumentMetaChanges compares two snapshots of envelope meta.
func DiffDocumentMetaChanges(from, to envelope.Meta) []MetaDiff {
	var diffs []MetaDiff
	if from.DateFormat != to.DateFormat {
		diffs = append(diffs, MetaDiff{Type: MetaDiffDateFormat, From: from.DateFormat, To: to.DateFormat})
	}
	if from.Message != to.Message {
		diffs = append(diffs, MetaDiff{Type: MetaDiffMessage, From: from.Message, To: to.Message})
	}
	if from.Subject != to.Subject {
		diffs = append(diffs, MetaDiff{Type: MetaDiffSubject, From: from.Subject, To: to.Subject})
	}
	if from.Timezone != to.Timezone {
		diffs = append(diffs, MetaDiff{Type: MetaDiffTimezone, From: from.Timezone, To: to.Timezone})
	}
	if from.Password != to.Password {
		diffs = append(diffs, MetaDiff{Type: MetaDiffPassword})
	}
	if from.RedirectURL != to.RedirectURL {
		diffs = append(diffs, MetaDiff{Type: MetaDiffRedirectURL, From: from.RedirectURL, To: to.RedirectURL})
	}
	return diffs
}
