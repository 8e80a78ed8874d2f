package ordering

import (
	"errors"
	"testing"

	"signato.org/internal/envelope"
)

func signer(id string, order int) envelope.Recipient {
	return envelope.Recipient{
		ID:            id,
		Email:         id + "@example.com",
		Role:          envelope.RoleSigner,
		SigningOrder:  order,
		SendStatus:    envelope.SendStatusNotSent,
		SigningStatus: envelope.SigningStatusNotSigned,
	}
}

func allModifiable(envelope.Recipient) bool { return true }

func TestAddAssignsNextOrder(t *testing.T) {
	e := New(envelope.OrderSequential, nil, allModifiable)
	a := e.Add(signer("a", 0))
	b := e.Add(signer("b", 0))
	if a.SigningOrder != 1 || b.SigningOrder != 2 {
		t.Fatalf("unexpected orders: %d, %d", a.SigningOrder, b.SigningOrder)
	}
}

func TestRemoveRenumbersDensely(t *testing.T) {
	e := New(envelope.OrderSequential, []envelope.Recipient{
		signer("a", 1), signer("b", 2), signer("c", 3), signer("d", 4),
	}, allModifiable)

	if err := e.Remove("b"); err != nil {
		t.Fatal(err)
	}
	got := e.Recipients()
	want := map[string]int{"a": 1, "c": 2, "d": 3}
	for _, r := range got {
		if want[r.ID] != r.SigningOrder {
			t.Fatalf("recipient %s: want order %d, got %d", r.ID, want[r.ID], r.SigningOrder)
		}
	}
}

// Normative fixture: immutable signers keep their order values while
// modifiable signers take the lowest free slots in relative order.
func TestRemoveAroundImmutableAnchor(t *testing.T) {
	acted := signer("2", 2)
	acted.SendStatus = envelope.SendStatusSent
	acted.SigningStatus = envelope.SigningStatusSigned

	e := New(envelope.OrderSequential, []envelope.Recipient{
		signer("1", 1), acted, signer("3", 3),
	}, func(r envelope.Recipient) bool {
		return envelope.RecipientModifiable(r, envelope.TypeDocument)
	})

	if err := e.Remove("1"); err != nil {
		t.Fatal(err)
	}

	got := e.Recipients()
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(got))
	}
	byID := map[string]int{}
	for _, r := range got {
		byID[r.ID] = r.SigningOrder
	}
	if byID["2"] != 2 {
		t.Fatalf("immutable signer order changed: %d", byID["2"])
	}
	if byID["3"] != 1 {
		t.Fatalf("modifiable signer should take lowest free slot 1, got %d", byID["3"])
	}
}

func TestRemoveActedRecipientRejected(t *testing.T) {
	acted := signer("a", 1)
	acted.SigningStatus = envelope.SigningStatusSigned

	e := New(envelope.OrderSequential, []envelope.Recipient{acted}, func(r envelope.Recipient) bool {
		return envelope.RecipientModifiable(r, envelope.TypeDocument)
	})
	if err := e.Remove("a"); !errors.Is(err, ErrNotModifiable) {
		t.Fatalf("expected ErrNotModifiable, got %v", err)
	}
	if len(e.Recipients()) != 1 {
		t.Fatal("rejected removal must be a no-op")
	}
}

func TestMoveSkipsImmutableTarget(t *testing.T) {
	sent := signer("b", 2)
	sent.SendStatus = envelope.SendStatusSent

	e := New(envelope.OrderSequential, []envelope.Recipient{
		signer("a", 1), sent, signer("c", 3),
	}, func(r envelope.Recipient) bool {
		return envelope.RecipientModifiable(r, envelope.TypeDocument)
	})

	// Dragging c to index 1 lands on the immutable signer; it must skip past.
	if err := e.Move("c", 1); err != nil {
		t.Fatal(err)
	}
	byID := map[string]int{}
	for _, r := range e.Recipients() {
		byID[r.ID] = r.SigningOrder
	}
	if byID["b"] != 2 {
		t.Fatalf("immutable signer displaced: %d", byID["b"])
	}
}

func TestSetSigningOrderValidation(t *testing.T) {
	e := New(envelope.OrderSequential, []envelope.Recipient{signer("a", 1), signer("b", 2)}, allModifiable)
	if err := e.SetSigningOrder("a", 0); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	// Out-of-range orders clamp to the list bounds.
	if err := e.SetSigningOrder("a", 99); err != nil {
		t.Fatal(err)
	}
	got := e.Recipients()
	if got[len(got)-1].ID != "a" {
		t.Fatalf("expected a moved to the end: %+v", got)
	}
}

func TestAssistantForcesSequential(t *testing.T) {
	e := New(envelope.OrderParallel, []envelope.Recipient{signer("a", 1), signer("b", 2)}, allModifiable)
	warnings, err := e.SetRole("a", envelope.RoleAssistant)
	if err != nil {
		t.Fatal(err)
	}
	if e.Mode() != envelope.OrderSequential {
		t.Fatalf("mode must switch to SEQUENTIAL, got %s", e.Mode())
	}
	found := false
	for _, w := range warnings {
		if w == WarnForcedSequential {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected forced-sequential warning, got %v", warnings)
	}
}

func TestDisableSequentialNeedsConfirmation(t *testing.T) {
	e := New(envelope.OrderSequential, []envelope.Recipient{signer("a", 1)}, allModifiable)
	if _, err := e.SetRole("a", envelope.RoleAssistant); err != nil {
		t.Fatal(err)
	}

	if err := e.SetMode(envelope.OrderParallel, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if e.Mode() != envelope.OrderSequential {
		t.Fatal("unconfirmed switch must not change the mode")
	}

	if err := e.SetMode(envelope.OrderParallel, true); err != nil {
		t.Fatal(err)
	}
	for _, r := range e.Recipients() {
		if r.Role == envelope.RoleAssistant {
			t.Fatal("confirmed switch must demote assistants")
		}
	}
	if e.Mode() != envelope.OrderParallel {
		t.Fatalf("expected PARALLEL, got %s", e.Mode())
	}
}

func TestAssistantLastWarns(t *testing.T) {
	e := New(envelope.OrderSequential, []envelope.Recipient{signer("a", 1), signer("b", 2)}, allModifiable)
	warnings, err := e.SetRole("b", envelope.RoleAssistant)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range warnings {
		if w == WarnAssistantLast {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected assistant-last warning, got %v", warnings)
	}
}

func TestDensityAfterMixedOperations(t *testing.T) {
	e := New(envelope.OrderSequential, nil, allModifiable)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		e.Add(signer(id, 0))
	}
	if err := e.Remove("c"); err != nil {
		t.Fatal(err)
	}
	if err := e.Move("e", 0); err != nil {
		t.Fatal(err)
	}
	if err := e.Remove("a"); err != nil {
		t.Fatal(err)
	}

	got := e.Recipients()
	seen := map[int]bool{}
	for _, r := range got {
		seen[r.SigningOrder] = true
	}
	for i := 1; i <= len(got); i++ {
		if !seen[i] {
			t.Fatalf("orders not dense: missing %d in %v", i, got)
		}
	}
}
