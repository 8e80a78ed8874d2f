package auditlog

import (
	"encoding/json"
	"fmt"
)

// ParseData decodes a stored payload into its typed form. The switch is the
// single place mapping event types to payload shapes; readers (certificate
// rendering, activity feeds) always receive the typed union, never raw JSON.
func ParseData(t EventType, raw []byte) (EventData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	decode := func(v EventData) (EventData, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("auditlog: decode %s payload: %w", t, err)
		}
		return v, nil
	}

	switch t {
	case EventFieldCreated, EventFieldDeleted:
		return decode(&FieldData{})
	case EventFieldUpdated:
		return decode(&FieldUpdatedData{})
	case EventRecipientCreated, EventRecipientDeleted:
		return decode(&RecipientData{})
	case EventRecipientUpdated:
		return decode(&RecipientUpdatedData{})
	case EventRecipientRejected:
		return decode(&RecipientRejectedData{})
	case EventDocumentCreated, EventDocumentDeleted, EventDocumentSent,
		EventDocumentCompleted:
		return decode(&DocumentData{})
	case EventDocumentOpened:
		return decode(&RecipientData{})
	case EventDocumentTitleUpdated:
		return decode(&TitleUpdatedData{})
	case EventDocumentMetaUpdated:
		return decode(&MetaUpdatedData{})
	case EventDocumentMovedToTeam:
		return decode(&MovedToTeamData{})
	case EventDocumentExternalID:
		return decode(&ExternalIDData{})
	case EventDocumentVisibility:
		return decode(&VisibilityData{})
	case EventDocumentGlobalAuthAccess, EventDocumentGlobalAuthAction:
		return decode(&GlobalAuthData{})
	case EventFieldSigned, EventFieldUnsigned:
		return decode(&FieldSignedData{})
	case EventRecipientCompleted, EventRecipientExpired, EventRecipientFlowCompleted:
		return decode(&RecipientData{})
	case EventEmailSent:
		return decode(&EmailSentData{})
	case EventTwoFactor:
		return decode(&TwoFactorData{})
	}
	return nil, fmt.Errorf("auditlog: unknown event type %q", t)
}
