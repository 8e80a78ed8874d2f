package canvas

import (
	"testing"

	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
)

var page = geometry.Size{Width: 800, Height: 1000}

func testSession() *editor.Session {
	env := envelope.Envelope{
		ID:     "env-1",
		Type:   envelope.TypeDocument,
		Status: envelope.StatusDraft,
		Items:  []envelope.Item{{ID: "item-1", PageCount: 3}},
		Recipients: []envelope.Recipient{
			{ID: "r1", Email: "a@x.io", Role: envelope.RoleSigner, SendStatus: envelope.SendStatusNotSent, SigningStatus: envelope.SigningStatusNotSigned},
			{ID: "r2", Email: "b@x.io", Role: envelope.RoleSigner, SendStatus: envelope.SendStatusSent, SigningStatus: envelope.SigningStatusSigned},
		},
	}
	return editor.NewSession(env, nil)
}

// seedField drops a field straight into the store, bypassing the modifiable
// check so tests can stage fields owned by recipients who already acted.
func seedField(s *editor.Session, formID, recipientID string, rect geometry.PercentRect) {
	fields := s.Fields()
	fields = append(fields, envelope.Field{
		ID:          formID,
		FormID:      formID,
		ItemID:      "item-1",
		Page:        1,
		Type:        envelope.FieldText,
		Rect:        rect,
		RecipientID: recipientID,
	})
	s.ResetForm(fields)
}

func TestBandToTypeChoiceToField(t *testing.T) {
	s := testSession()
	s.SetSelectedRecipient("r1")
	c := New(s, "item-1", 1, page)

	c.PointerDown(100, 100, false)
	c.PointerMove(200, 130)
	if c.State() != StateRubberBanding {
		t.Fatalf("state = %v, want rubber banding", c.State())
	}
	c.PointerUp(300, 160)
	if c.State() != StatePendingTypeChoice {
		t.Fatalf("state = %v, want pending type choice", c.State())
	}

	f, ok := c.ChooseFieldType(envelope.FieldSignature)
	if !ok {
		t.Fatal("choose should create a field")
	}
	want := geometry.PercentRect{PositionX: 12.5, PositionY: 10, Width: 25, Height: 6}
	if f.Rect != want {
		t.Fatalf("rect = %+v, want %+v", f.Rect, want)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after choice = %v, want idle", c.State())
	}
	if len(c.Shapes()) != 1 {
		t.Fatalf("shapes = %d, want 1", len(c.Shapes()))
	}
	if got := c.Selected(); len(got) != 0 {
		t.Fatalf("new field must not be auto-selected, got %v", got)
	}
}

func TestBandWithoutRecipientStaysIdle(t *testing.T) {
	s := testSession()
	c := New(s, "item-1", 1, page)

	c.PointerDown(100, 100, false)
	c.PointerUp(300, 160)
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle without a selected recipient", c.State())
	}
	if len(s.Fields()) != 0 {
		t.Fatal("no field should be created")
	}
}

func TestUndersizedBandClearsSelection(t *testing.T) {
	s := testSession()
	s.SetSelectedRecipient("r1")
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 12.5, PositionY: 10, Width: 25, Height: 6})
	c := New(s, "item-1", 1, page)

	c.PointerDown(150, 120, false) // on the shape
	if c.State() != StateFieldsSelected {
		t.Fatalf("state = %v, want fields selected", c.State())
	}

	c.PointerDown(500, 500, false)
	c.PointerUp(510, 505) // below the create minimum
	if c.State() != StateIdle || len(c.Selected()) != 0 {
		t.Fatalf("plain click must clear selection, state=%v selected=%v", c.State(), c.Selected())
	}
	if s.SelectedField() != "" {
		t.Fatal("store field selection must be cleared")
	}
}

func TestBandSelectsIntersectingShapes(t *testing.T) {
	s := testSession()
	s.SetSelectedRecipient("r1")
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 10, Height: 5})
	seedField(s, "field-bbbbbbbbbbbb", "r1", geometry.PercentRect{PositionX: 50, PositionY: 10, Width: 10, Height: 5})
	seedField(s, "field-cccccccccccc", "r2", geometry.PercentRect{PositionX: 30, PositionY: 10, Width: 10, Height: 5})
	c := New(s, "item-1", 1, page)

	// Band covering the whole strip: selects the two modifiable shapes,
	// skips the read-only one.
	c.PointerDown(0, 50, false)
	c.PointerUp(800, 200)
	if c.State() != StateFieldsSelected {
		t.Fatalf("state = %v, want fields selected", c.State())
	}
	got := c.Selected()
	if len(got) != 2 {
		t.Fatalf("selected = %v, want two modifiable shapes", got)
	}
	if s.SelectedField() != "" {
		t.Fatal("multi-select must not open a single-field selection")
	}
}

func TestSingleClickSelectionAndToggle(t *testing.T) {
	s := testSession()
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 10, Height: 5})
	seedField(s, "field-bbbbbbbbbbbb", "r1", geometry.PercentRect{PositionX: 50, PositionY: 10, Width: 10, Height: 5})
	c := New(s, "item-1", 1, page)

	c.PointerDown(85, 110, false)
	if got := c.Selected(); len(got) != 1 || got[0] != "field-aaaaaaaaaaaa" {
		t.Fatalf("selected = %v", got)
	}
	if s.SelectedField() != "field-aaaaaaaaaaaa" {
		t.Fatalf("store selection = %q", s.SelectedField())
	}

	c.PointerDown(410, 110, true) // shift-click the second shape
	if len(c.Selected()) != 2 {
		t.Fatalf("selected = %v, want both", c.Selected())
	}
	if s.SelectedField() != "" {
		t.Fatal("two selected shapes must clear store selection")
	}

	c.PointerDown(85, 110, true) // shift-click deselects the first
	if got := c.Selected(); len(got) != 1 || got[0] != "field-bbbbbbbbbbbb" {
		t.Fatalf("selected = %v", got)
	}
}

func TestReadOnlyShapeIgnoresClicks(t *testing.T) {
	s := testSession()
	seedField(s, "field-cccccccccccc", "r2", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 10, Height: 5})
	c := New(s, "item-1", 1, page)

	shapes := c.Shapes()
	if len(shapes) != 1 || !shapes[0].ReadOnly {
		t.Fatalf("shape should render read-only: %+v", shapes)
	}
	c.PointerDown(85, 110, false)
	if c.State() != StateIdle || len(c.Selected()) != 0 {
		t.Fatal("read-only shapes must not be selectable")
	}
}

func TestCommitDragUpdatesPositionOnly(t *testing.T) {
	s := testSession()
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 25, Height: 6})
	c := New(s, "item-1", 1, page)
	c.PointerDown(100, 110, false)

	moved := geometry.PixelRect{X: 400, Y: 500, Width: 123, Height: 45} // stale dims from the DOM
	if !c.CommitDrag("field-aaaaaaaaaaaa", moved) {
		t.Fatal("drag commit failed")
	}
	f, _ := s.FieldByFormID("field-aaaaaaaaaaaa")
	if f.Rect.PositionX != 50 || f.Rect.PositionY != 50 {
		t.Fatalf("position = %v,%v", f.Rect.PositionX, f.Rect.PositionY)
	}
	if f.Rect.Width != 25 || f.Rect.Height != 6 {
		t.Fatalf("dimensions must be untouched, got %v×%v", f.Rect.Width, f.Rect.Height)
	}
}

func TestCommitResizeEnforcesMinimum(t *testing.T) {
	s := testSession()
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 25, Height: 6})
	c := New(s, "item-1", 1, page)
	c.PointerDown(100, 110, false)

	if c.CommitResize("field-aaaaaaaaaaaa", geometry.PixelRect{X: 80, Y: 100, Width: 29, Height: 50}) {
		t.Fatal("resize below 30px width must be rejected")
	}
	if c.CommitResize("field-aaaaaaaaaaaa", geometry.PixelRect{X: 80, Y: 100, Width: 100, Height: 19}) {
		t.Fatal("resize below 20px height must be rejected")
	}
	f, _ := s.FieldByFormID("field-aaaaaaaaaaaa")
	if f.Rect.Width != 25 || f.Rect.Height != 6 {
		t.Fatalf("old box must be kept after a rejected resize, got %+v", f.Rect)
	}

	if !c.CommitResize("field-aaaaaaaaaaaa", geometry.PixelRect{X: 80, Y: 100, Width: 400, Height: 100}) {
		t.Fatal("valid resize failed")
	}
	f, _ = s.FieldByFormID("field-aaaaaaaaaaaa")
	if f.Rect.PositionX != 10 || f.Rect.Width != 50 || f.Rect.Height != 10 {
		t.Fatalf("resize not applied: %+v", f.Rect)
	}
}

func TestDeleteSelectedBatch(t *testing.T) {
	s := testSession()
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 10, Height: 5})
	seedField(s, "field-bbbbbbbbbbbb", "r1", geometry.PercentRect{PositionX: 50, PositionY: 10, Width: 10, Height: 5})
	c := New(s, "item-1", 1, page)

	c.PointerDown(0, 50, false)
	c.PointerUp(800, 200)
	if n := c.DeleteSelected(); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if len(c.Shapes()) != 0 || len(s.Fields()) != 0 {
		t.Fatal("shapes and fields must be gone")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestReconcilePrunesRemovedShapes(t *testing.T) {
	s := testSession()
	seedField(s, "field-aaaaaaaaaaaa", "r1", geometry.PercentRect{PositionX: 10, PositionY: 10, Width: 10, Height: 5})
	c := New(s, "item-1", 1, page)
	c.PointerDown(85, 110, false)

	// Field removed elsewhere (another tab, a server push).
	s.RemoveFieldsByFormID([]string{"field-aaaaaaaaaaaa"})
	c.Reconcile()
	if len(c.Shapes()) != 0 || len(c.Selected()) != 0 {
		t.Fatal("reconcile must drop the shape and its selection")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestClickPlaceUsesMinimumFootprint(t *testing.T) {
	s := testSession()
	s.SetSelectedRecipient("r1")
	c := New(s, "item-1", 1, page)

	f, ok := c.ClickPlace(400, 500, envelope.FieldInitials)
	if !ok {
		t.Fatal("click place failed")
	}
	px := geometry.ToPixels(f.Rect, page)
	if px.Width != geometry.MinCreateWidth || px.Height != geometry.MinCreateHeight {
		t.Fatalf("footprint = %v×%v", px.Width, px.Height)
	}
	if px.X != 400-geometry.MinCreateWidth/2 || px.Y != 500-geometry.MinCreateHeight/2 {
		t.Fatalf("not centered on the click: %+v", px)
	}
}

func TestCancelTypeChoice(t *testing.T) {
	s := testSession()
	s.SetSelectedRecipient("r1")
	c := New(s, "item-1", 1, page)

	c.PointerDown(100, 100, false)
	c.PointerUp(300, 160)
	c.CancelTypeChoice()
	if c.State() != StateIdle || len(s.Fields()) != 0 {
		t.Fatal("cancel must discard the pending rectangle")
	}
}
