package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
)

type recordingSyncer struct {
	mu      sync.Mutex
	batches [][]Change
	fail    bool
}

func (r *recordingSyncer) SyncFields(ctx context.Context, envelopeID string, changes []Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.batches = append(r.batches, changes)
	return nil
}

func (r *recordingSyncer) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func testEnvelope() envelope.Envelope {
	return envelope.Envelope{
		ID:     "env-1",
		Type:   envelope.TypeDocument,
		Status: envelope.StatusDraft,
		Items:  []envelope.Item{{ID: "item-1", PageCount: 4}},
		Recipients: []envelope.Recipient{
			{ID: "r1", Email: "a@x.io", Role: envelope.RoleSigner, SendStatus: envelope.SendStatusNotSent, SigningStatus: envelope.SigningStatusNotSigned},
			{ID: "r2", Email: "b@x.io", Role: envelope.RoleSigner, SendStatus: envelope.SendStatusSent, SigningStatus: envelope.SigningStatusSigned},
		},
	}
}

func addInput(recipientID string) AddFieldInput {
	return AddFieldInput{
		ItemID:      "item-1",
		Page:        2,
		Type:        envelope.FieldSignature,
		Rect:        geometry.PercentRect{PositionX: 12.5, PositionY: 10, Width: 25, Height: 6},
		RecipientID: recipientID,
	}
}

func TestAddFieldGeneratesFormID(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	f, ok := s.AddField(addInput("r1"))
	if !ok {
		t.Fatal("add should succeed for a modifiable recipient")
	}
	if len(f.FormID) < 12 {
		t.Fatalf("form id too short: %q", f.FormID)
	}
	if f.Page != 2 || f.Rect.PositionX != 12.5 || f.Rect.Width != 25 {
		t.Fatalf("unexpected field: %+v", f)
	}
}

func TestAddFieldImmutableRecipientIsNoop(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	if _, ok := s.AddField(addInput("r2")); ok {
		t.Fatal("add must be a no-op for an already-acted recipient")
	}
	if len(s.Fields()) != 0 {
		t.Fatal("collection must stay empty")
	}
}

func TestAddFieldTemplateIgnoresSendStatus(t *testing.T) {
	env := testEnvelope()
	env.Type = envelope.TypeTemplate
	s := NewSession(env, nil)
	if _, ok := s.AddField(addInput("r2")); !ok {
		t.Fatal("templates are always editable")
	}
}

func TestDragPreservesDimensions(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	f, _ := s.AddField(addInput("r1"))

	// A pure move commits position only; width/height must stay untouched so
	// pixel round-tripping cannot drift them.
	x, y := 40.0, 55.0
	if !s.UpdateFieldByFormID(f.FormID, FieldPatch{PositionX: &x, PositionY: &y}) {
		t.Fatal("update failed")
	}
	got, _ := s.FieldByFormID(f.FormID)
	if got.Rect.PositionX != 40 || got.Rect.PositionY != 55 {
		t.Fatalf("position not applied: %+v", got.Rect)
	}
	if got.Rect.Width != 25 || got.Rect.Height != 6 {
		t.Fatalf("dimensions drifted on a pure move: %+v", got.Rect)
	}
}

func TestUpdateKeepsOrder(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	a, _ := s.AddField(addInput("r1"))
	b, _ := s.AddField(addInput("r1"))
	x := 1.0
	s.UpdateFieldByFormID(a.FormID, FieldPatch{PositionX: &x})

	fields := s.Fields()
	if fields[0].FormID != a.FormID || fields[1].FormID != b.FormID {
		t.Fatal("update must not reorder the collection")
	}
}

func TestRemoveFieldsBatch(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	a, _ := s.AddField(addInput("r1"))
	b, _ := s.AddField(addInput("r1"))
	c, _ := s.AddField(addInput("r1"))

	removed := s.RemoveFieldsByFormID([]string{a.FormID, c.FormID, "missing"})
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	fields := s.Fields()
	if len(fields) != 1 || fields[0].FormID != b.FormID {
		t.Fatalf("unexpected remainder: %+v", fields)
	}
}

func TestDuplicateField(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	src, _ := s.AddField(addInput("r1"))
	dup, ok := s.DuplicateField(src.FormID)
	if !ok {
		t.Fatal("duplicate failed")
	}
	if dup.FormID == src.FormID {
		t.Fatal("duplicate must get a fresh form id")
	}
	if dup.Page != src.Page || dup.Rect != src.Rect || dup.Type != src.Type || dup.RecipientID != src.RecipientID {
		t.Fatalf("duplicate diverged from source: %+v vs %+v", dup, src)
	}
}

func TestDuplicateToAllPages(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	src, _ := s.AddField(addInput("r1")) // page 2 of a 4-page item
	s.SetSelectedField(src.FormID)

	created := s.DuplicateFieldToAllPages(src.FormID)
	if len(created) != 3 {
		t.Fatalf("expected copies on pages 1,3,4; got %d", len(created))
	}
	pages := map[int]bool{}
	for _, f := range created {
		pages[f.Page] = true
		if f.Rect != src.Rect {
			t.Fatalf("relative geometry not preserved: %+v", f.Rect)
		}
	}
	if pages[2] {
		t.Fatal("source page must be untouched")
	}
	if s.SelectedField() != "" {
		t.Fatal("duplicate-to-all-pages must clear the field selection")
	}
}

func TestDebouncedFlushCoalesces(t *testing.T) {
	rec := &recordingSyncer{}
	s := NewSession(testEnvelope(), rec, WithDebounce(20*time.Millisecond))

	f, _ := s.AddField(addInput("r1"))
	for i := 0; i < 5; i++ {
		x := float64(10 + i)
		s.UpdateFieldByFormID(f.FormID, FieldPatch{PositionX: &x})
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rec.batchCount(); got != 1 {
		t.Fatalf("expected one coalesced batch, got %d", got)
	}
	rec.mu.Lock()
	batch := rec.batches[0]
	rec.mu.Unlock()
	if len(batch) != 1 || batch[0].Kind != ChangeCreate {
		t.Fatalf("create+updates must coalesce into one create: %+v", batch)
	}
	if batch[0].Field.Rect.PositionX != 14 {
		t.Fatalf("coalesced change must carry the latest geometry: %+v", batch[0].Field.Rect)
	}
}

func TestCreateThenDeleteCancelsOut(t *testing.T) {
	rec := &recordingSyncer{}
	s := NewSession(testEnvelope(), rec, WithDebounce(time.Hour))

	f, _ := s.AddField(addInput("r1"))
	s.RemoveFieldsByFormID([]string{f.FormID})
	if s.PendingCount() != 0 {
		t.Fatalf("create followed by delete must cancel, pending=%d", s.PendingCount())
	}
}

func TestFlushFailureSetsSignal(t *testing.T) {
	rec := &recordingSyncer{fail: true}
	s := NewSession(testEnvelope(), rec, WithDebounce(time.Hour))

	f, _ := s.AddField(addInput("r1"))
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if !s.AutosaveFailed() {
		t.Fatal("autosave-failed signal must be raised")
	}
	if _, ok := s.FieldByFormID(f.FormID); !ok {
		t.Fatal("local state must not roll back on sync failure")
	}
	if s.PendingCount() == 0 {
		t.Fatal("failed batch must be requeued")
	}

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.AutosaveFailed() {
		t.Fatal("signal must clear after a successful flush")
	}
}

func TestResetForm(t *testing.T) {
	s := NewSession(testEnvelope(), nil)
	s.AddField(addInput("r1"))
	s.SetSelectedField("anything")

	s.ResetForm(nil)
	if len(s.Fields()) != 0 || s.PendingCount() != 0 || s.SelectedField() != "" {
		t.Fatal("reset must replace the collection and drop queued work")
	}
}
