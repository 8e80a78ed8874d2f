package auditlog

// Action is the human-readable rendering of one audit entry for activity
// feeds and the signing certificate.
type Action struct {
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
}

// FormatAction maps an entry plus an "is this the viewing user's own action"
// flag to a prefix/description pair. The prefix is empty for anonymous or
// system events; otherwise it is "You" or the actor's display name. The
// description switches between first person ("added a field") and third
// person ("A field was added") depending on whether a prefix exists. The
// switch must cover every member of the event type union; the totality test
// enumerates AllEventTypes.
func FormatAction(e Entry, isOwner bool) Action {
	prefix := ""
	if !e.Actor.IsSystem() {
		if isOwner {
			prefix = "You"
		} else {
			prefix = e.Actor.Display()
		}
	}

	// Completion and expiry are reported without an actor regardless of how
	// the entry was produced.
	switch e.Type {
	case EventDocumentCompleted, EventRecipientExpired:
		prefix = ""
	}

	pick := func(first, third string) Action {
		if prefix != "" {
			return Action{Prefix: prefix, Description: first}
		}
		return Action{Description: third}
	}

	switch e.Type {
	case EventFieldCreated:
		return pick("added a field", "A field was added")
	case EventFieldUpdated:
		return pick("updated a field", "A field was updated")
	case EventFieldDeleted:
		return pick("removed a field", "A field was removed")
	case EventRecipientCreated:
		return pick("added a recipient", "A recipient was added")
	case EventRecipientUpdated:
		return pick("updated a recipient", "A recipient was updated")
	case EventRecipientDeleted:
		return pick("removed a recipient", "A recipient was removed")
	case EventDocumentCreated:
		return pick("created the document", "The document was created")
	case EventDocumentDeleted:
		return pick("deleted the document", "The document was deleted")
	case EventDocumentSent:
		return pick("sent the document", "The document was sent")
	case EventDocumentOpened:
		return pick("opened the document", "The document was opened")
	case EventDocumentCompleted:
		return pick("completed the document", "The document was completed")
	case EventDocumentTitleUpdated:
		return pick("updated the title", "The title was updated")
	case EventDocumentMetaUpdated:
		return pick("updated the document settings", "The document settings were updated")
	case EventDocumentMovedToTeam:
		return pick("moved the document to a team", "The document was moved to a team")
	case EventDocumentExternalID:
		return pick("updated the external id", "The external id was updated")
	case EventDocumentVisibility:
		return pick("updated the visibility", "The visibility was updated")
	case EventDocumentGlobalAuthAccess:
		return pick("updated the access authentication", "The access authentication was updated")
	case EventDocumentGlobalAuthAction:
		return pick("updated the action authentication", "The action authentication was updated")
	case EventFieldSigned:
		return pick("signed a field", "A field was signed")
	case EventFieldUnsigned:
		return pick("unsigned a field", "A field was unsigned")
	case EventRecipientCompleted:
		return pick("completed their part of the document", "A recipient completed their part of the document")
	case EventRecipientRejected:
		return pick("rejected the document", "The document was rejected by a recipient")
	case EventRecipientExpired:
		return pick("expired", "A recipient's signing window expired")
	case EventRecipientFlowCompleted:
		return pick("finished the signing flow", "A signing flow was finished")
	case EventEmailSent:
		return pick("sent an email", "An email was sent")
	case EventTwoFactor:
		return pick("attempted two factor verification", "A two factor verification was attempted")
	}

	// Unknown types only appear when a newer writer adds a member without
	// updating this switch; render neutrally instead of failing the feed.
	return pick("updated the document", "The document was updated")
}
