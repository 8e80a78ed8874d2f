// Package detect consumes the field-detection collaborator: AI-suggested
// field placements in a 0-1000 normalized box space, mapped into percent
// geometry and applied to an editor session.
package detect

import (
	"context"
	"fmt"

	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
	"signato.org/internal/obs"
)

// Suggestion is one detected field placement as returned by the detector.
type Suggestion struct {
	PageNumber  int                   `json:"page_number"`
	BoundingBox geometry.DetectionBox `json:"bounding_box"`
	Label       envelope.FieldType    `json:"label"`
	RecipientID string                `json:"recipient_id,omitempty"`
}

// Detector produces placement suggestions for an envelope.
type Detector interface {
	DetectFields(ctx context.Context, envelopeID string) ([]Suggestion, error)
}

// Result summarizes one applied batch. Partial failure is expected: the
// caller reports both counts instead of failing the batch.
type Result struct {
	Applied    []envelope.Field
	Skipped    int
	PageErrors map[int][]string
}

func (r Result) AppliedCount() int { return len(r.Applied) }

func (r Result) FailedCount() int {
	n := 0
	for _, errs := range r.PageErrors {
		n += len(errs)
	}
	return n
}

// Apply places suggestions into the session. Recipient resolution falls
// back from the suggested recipient to the currently-selected one, then to
// the first recipient; a suggestion that resolves to no recipient at all is
// skipped and logged, never fatal.
func Apply(session *editor.Session, itemID string, suggestions []Suggestion) Result {
	result := Result{PageErrors: make(map[int][]string)}
	recipients := session.Recipients()

	fail := func(page int, format string, args ...any) {
		result.Skipped++
		result.PageErrors[page] = append(result.PageErrors[page], fmt.Sprintf(format, args...))
	}

	for _, sg := range suggestions {
		if sg.PageNumber < 1 {
			fail(sg.PageNumber, "invalid page %d", sg.PageNumber)
			continue
		}
		if !envelope.ValidFieldType(sg.Label) {
			fail(sg.PageNumber, "unknown field label %q", sg.Label)
			continue
		}
		recipientID := resolveRecipient(session, recipients, sg.RecipientID)
		if recipientID == "" {
			obs.LogRequest(map[string]any{
				"level": "warn",
				"msg":   "field detection skipped: no resolvable recipient",
				"page":  sg.PageNumber,
				"label": string(sg.Label),
			})
			fail(sg.PageNumber, "no resolvable recipient")
			continue
		}
		field, ok := session.AddField(editor.AddFieldInput{
			ItemID:      itemID,
			Page:        sg.PageNumber,
			Type:        sg.Label,
			Rect:        geometry.FromDetectionBox(sg.BoundingBox),
			RecipientID: recipientID,
		})
		if !ok {
			fail(sg.PageNumber, "recipient %s is not modifiable", recipientID)
			continue
		}
		result.Applied = append(result.Applied, field)
	}
	return result
}

func resolveRecipient(session *editor.Session, recipients []envelope.Recipient, suggested string) string {
	if suggested != "" {
		for _, r := range recipients {
			if r.ID == suggested {
				return r.ID
			}
		}
	}
	if selected := session.SelectedRecipient(); selected != "" {
		return selected
	}
	if len(recipients) > 0 {
		return recipients[0].ID
	}
	return ""
}
