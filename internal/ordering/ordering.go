// Package ordering maintains the signer list invariants: dense signing order
// for modifiable signers, immutable signers as fixed anchors, and the
// assistant/sequential coupling rules.
package ordering

import (
	"errors"

	"signato.org/internal/envelope"
)

var (
	ErrNotFound             = errors.New("ordering: recipient not found")
	ErrNotModifiable        = errors.New("ordering: recipient can no longer be modified")
	ErrInvalidOrder         = errors.New("ordering: signing order must be a positive integer")
	ErrConfirmationRequired = errors.New("ordering: disabling sequential signing demotes assistants and requires confirmation")
)

// Warning is a non-blocking advisory surfaced to the user.
type Warning string

const (
	// WarnAssistantLast fires when an assistant holds the final slot: with
	// nobody after them there is no one to assist.
	WarnAssistantLast Warning = "assistant is last in signing order"
	// WarnForcedSequential fires when assigning the assistant role under
	// parallel signing forces the envelope back to sequential mode.
	WarnForcedSequential Warning = "signing mode switched to sequential because assistants require an explicit order"
)

// Predicate decides whether a recipient may still be modified. It is
// injected so the engine, the editor session and the canvas controller all
// share one definition.
type Predicate func(envelope.Recipient) bool

// Engine owns a working copy of the recipient list plus the signing mode.
type Engine struct {
	mode       envelope.SigningOrderMode
	recipients []envelope.Recipient
	modifiable Predicate
}

// New creates an engine over a copy of the given recipients.
func New(mode envelope.SigningOrderMode, recipients []envelope.Recipient, modifiable Predicate) *Engine {
	if modifiable == nil {
		modifiable = func(envelope.Recipient) bool { return true }
	}
	list := make([]envelope.Recipient, len(recipients))
	copy(list, recipients)
	return &Engine{mode: mode, recipients: list, modifiable: modifiable}
}

// Mode returns the current signing order mode.
func (e *Engine) Mode() envelope.SigningOrderMode { return e.mode }

// Recipients returns a copy of the current list.
func (e *Engine) Recipients() []envelope.Recipient {
	out := make([]envelope.Recipient, len(e.recipients))
	copy(out, e.recipients)
	return out
}

func (e *Engine) indexOf(id string) int {
	for i, r := range e.recipients {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Add appends a new signer with the next signing order value.
func (e *Engine) Add(r envelope.Recipient) envelope.Recipient {
	max := 0
	for _, existing := range e.recipients {
		if existing.SigningOrder > max {
			max = existing.SigningOrder
		}
	}
	r.SigningOrder = max + 1
	e.recipients = append(e.recipients, r)
	return r
}

// Remove deletes a signer and renumbers the remainder. Removing a recipient
// who already progressed is rejected.
func (e *Engine) Remove(id string) error {
	i := e.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if !e.modifiable(e.recipients[i]) {
		return ErrNotModifiable
	}
	e.recipients = append(e.recipients[:i], e.recipients[i+1:]...)
	e.renumber()
	return nil
}

// Move drags a signer to a new index. Immutable signers cannot be displaced:
// the target index skips forward past any immutable signer at or after it.
func (e *Engine) Move(id string, toIndex int) error {
	i := e.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if !e.modifiable(e.recipients[i]) {
		return ErrNotModifiable
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex >= len(e.recipients) {
		toIndex = len(e.recipients) - 1
	}

	r := e.recipients[i]
	rest := append(append([]envelope.Recipient{}, e.recipients[:i]...), e.recipients[i+1:]...)

	for toIndex < len(rest) && !e.modifiable(rest[toIndex]) {
		toIndex++
	}
	if toIndex > len(rest) {
		toIndex = len(rest)
	}

	e.recipients = append(rest[:toIndex], append([]envelope.Recipient{r}, rest[toIndex:]...)...)
	e.renumber()
	return nil
}

// SetSigningOrder reinserts a signer at the position implied by an explicit
// order number typed by the user.
func (e *Engine) SetSigningOrder(id string, order int) error {
	if order < 1 {
		return ErrInvalidOrder
	}
	return e.Move(id, order-1)
}

// SetRole changes a recipient's role. Assigning ASSISTANT while signing is
// parallel force-switches the whole envelope to sequential; assistants only
// make sense with an explicit order.
func (e *Engine) SetRole(id string, role envelope.Role) ([]Warning, error) {
	i := e.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	if !e.modifiable(e.recipients[i]) {
		return nil, ErrNotModifiable
	}

	var warnings []Warning
	e.recipients[i].Role = role
	if role == envelope.RoleAssistant && e.mode == envelope.OrderParallel {
		e.mode = envelope.OrderSequential
		warnings = append(warnings, WarnForcedSequential)
	}
	warnings = append(warnings, e.assistantWarnings()...)
	return warnings, nil
}

// SetMode switches the signing order mode. Moving to parallel while
// assistants exist needs explicit confirmation; confirming demotes every
// assistant to a plain signer first.
func (e *Engine) SetMode(mode envelope.SigningOrderMode, confirmed bool) error {
	if mode == envelope.OrderParallel && e.hasAssistant() {
		if !confirmed {
			return ErrConfirmationRequired
		}
		for i := range e.recipients {
			if e.recipients[i].Role == envelope.RoleAssistant {
				e.recipients[i].Role = envelope.RoleSigner
			}
		}
	}
	e.mode = mode
	return nil
}

// Warnings reports current non-blocking advisories.
func (e *Engine) Warnings() []Warning {
	return e.assistantWarnings()
}

func (e *Engine) hasAssistant() bool {
	for _, r := range e.recipients {
		if r.Role == envelope.RoleAssistant {
			return true
		}
	}
	return false
}

func (e *Engine) assistantWarnings() []Warning {
	if len(e.recipients) == 0 {
		return nil
	}
	last := e.recipients[0]
	for _, r := range e.recipients[1:] {
		if r.SigningOrder >= last.SigningOrder {
			last = r
		}
	}
	if last.Role == envelope.RoleAssistant {
		return []Warning{WarnAssistantLast}
	}
	return nil
}

// renumber assigns modifiable signers the smallest order values not reserved
// by immutable signers, in their current relative order. Immutable signers
// keep their original values and act as fixed anchors, so the modifiable
// subset stays dense around them.
func (e *Engine) renumber() {
	reserved := make(map[int]bool)
	for _, r := range e.recipients {
		if !e.modifiable(r) {
			reserved[r.SigningOrder] = true
		}
	}
	next := 1
	for i := range e.recipients {
		if !e.modifiable(e.recipients[i]) {
			continue
		}
		for reserved[next] {
			next++
		}
		e.recipients[i].SigningOrder = next
		next++
	}
}
