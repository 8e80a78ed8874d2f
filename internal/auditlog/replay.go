package auditlog

import (
	"sort"
	"time"

	"signato.org/internal/envelope"
)

// DerivedState is the reconstruction of all user-visible status from the
// event stream alone. The live envelope row denormalizes the same values for
// performance; replay is the source of truth for certificates and audits.
type DerivedState struct {
	Status      envelope.Status
	SentAt      time.Time
	CompletedAt time.Time
	RejectedAt  time.Time
	OpenedBy    map[string]time.Time // recipient id -> first open
	Recipients  map[string]envelope.SigningStatus
}

// Replay folds entries in CreatedAt order into a derived state. The input
// is re-sorted defensively; callers normally pass Log.Find output which is
// already ordered.
func Replay(entries []Entry) DerivedState {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	state := DerivedState{
		Status:     envelope.StatusDraft,
		OpenedBy:   make(map[string]time.Time),
		Recipients: make(map[string]envelope.SigningStatus),
	}

	setRecipient := func(id string, s envelope.SigningStatus) {
		if id != "" {
			state.Recipients[id] = s
		}
	}

	for _, e := range ordered {
		switch e.Type {
		case EventRecipientCreated:
			if d, ok := e.Data.(*RecipientData); ok {
				setRecipient(d.RecipientID, envelope.SigningStatusNotSigned)
			}
		case EventRecipientDeleted:
			if d, ok := e.Data.(*RecipientData); ok {
				delete(state.Recipients, d.RecipientID)
			}
		case EventDocumentSent:
			state.Status = envelope.StatusPending
			state.SentAt = e.CreatedAt
		case EventDocumentOpened:
			if d, ok := e.Data.(*RecipientData); ok {
				if _, seen := state.OpenedBy[d.RecipientID]; !seen {
					state.OpenedBy[d.RecipientID] = e.CreatedAt
				}
			}
		case EventRecipientCompleted:
			if d, ok := e.Data.(*RecipientData); ok {
				setRecipient(d.RecipientID, envelope.SigningStatusSigned)
			}
		case EventRecipientRejected:
			if d, ok := e.Data.(*RecipientRejectedData); ok {
				setRecipient(d.RecipientID, envelope.SigningStatusRejected)
				// Only gating roles reject the envelope itself; an
				// assistant refusal leaves it pending.
				if envelope.GatesCompletion(d.Role) {
					state.Status = envelope.StatusRejected
					state.RejectedAt = e.CreatedAt
				}
			}
		case EventRecipientExpired:
			if d, ok := e.Data.(*RecipientData); ok {
				setRecipient(d.RecipientID, envelope.SigningStatusExpired)
			}
		case EventDocumentCompleted:
			state.Status = envelope.StatusCompleted
			state.CompletedAt = e.CreatedAt
		}
	}
	return state
}

// CertificateData is the input handed to the certificate/audit-PDF renderer:
// a complete, ordered, typed event stream plus formatted actions. Visual
// layout belongs to the consumer.
type CertificateData struct {
	EnvelopeID string
	Entries    []Entry
	Actions    []Action
	State      DerivedState
}

// BuildCertificateData assembles certificate input from the full log of one
// envelope. Entries must already be parsed into the typed union.
func BuildCertificateData(envelopeID string, entries []Entry) CertificateData {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	actions := make([]Action, len(ordered))
	for i, e := range ordered {
		actions[i] = FormatAction(e, false)
	}
	return CertificateData{
		EnvelopeID: envelopeID,
		Entries:    ordered,
		Actions:    actions,
		State:      Replay(ordered),
	}
}
