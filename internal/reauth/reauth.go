// Package reauth gates signing actions behind the recipient's configured
// action-authentication requirement: deriving the required method, deciding
// whether a challenge is needed, and running the server-side 2FA token flow.
package reauth

import (
	"strings"

	"signato.org/internal/envelope"
)

// Decision classifies what must happen before a signing action may run.
type Decision string

const (
	// DecisionNotRequired means the action runs immediately.
	DecisionNotRequired Decision = "NOT_REQUIRED"
	// DecisionPrecomputedSatisfied means the requirement is already met by
	// the current session and the action runs without any prompt.
	DecisionPrecomputedSatisfied Decision = "PRECOMPUTED_SATISFIED"
	// DecisionChallengeRequired means exactly one challenge (2FA code,
	// passkey assertion or account switch) must succeed first.
	DecisionChallengeRequired Decision = "CHALLENGE_REQUIRED"
)

// Outcome is the result of evaluating a signing action.
type Outcome struct {
	Decision Decision
	Method   envelope.AuthMethod
}

// DeriveActionMethod resolves the action-auth requirement for a recipient.
// A recipient-level setting overrides the envelope-level one; no setting at
// either level means no requirement.
func DeriveActionMethod(env envelope.Envelope, r envelope.Recipient) envelope.AuthMethod {
	if len(r.AuthOptions.ActionAuth) > 0 {
		return r.AuthOptions.ActionAuth[0]
	}
	if len(env.GlobalAuth.ActionAuth) > 0 {
		return env.GlobalAuth.ActionAuth[0]
	}
	return ""
}

// Evaluate decides how a signing action on the given field type proceeds.
//
// Only signature fields go through the challenge flow; every other field
// type signs directly regardless of the derived method. This asymmetry is
// deliberate and load-bearing: do not extend the gate to other field types
// without product sign-off.
func Evaluate(env envelope.Envelope, r envelope.Recipient, fieldType envelope.FieldType, sessionEmail string) Outcome {
	if fieldType != envelope.FieldSignature {
		return Outcome{Decision: DecisionNotRequired}
	}
	method := DeriveActionMethod(env, r)
	switch method {
	case "":
		return Outcome{Decision: DecisionNotRequired}
	case envelope.AuthExplicitNone:
		return Outcome{Decision: DecisionPrecomputedSatisfied, Method: method}
	case envelope.AuthAccount:
		if sessionEmail != "" && strings.EqualFold(sessionEmail, r.Email) {
			return Outcome{Decision: DecisionPrecomputedSatisfied, Method: method}
		}
		return Outcome{Decision: DecisionChallengeRequired, Method: method}
	default:
		return Outcome{Decision: DecisionChallengeRequired, Method: method}
	}
}
