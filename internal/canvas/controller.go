// Package canvas translates pointer gestures over one rendered page into
// field store operations: rubber-band selection, drag-to-create, move,
// resize and multi-select.
package canvas

import (
	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
)

// State of the per-page interaction machine.
type State string

const (
	StateIdle              State = "idle"
	StateRubberBanding     State = "rubber_banding"
	StatePendingTypeChoice State = "pending_type_choice"
	StateFieldsSelected    State = "fields_selected"
)

// Shape is one rendered interactive rectangle. Read-only shapes belong to
// recipients whose fields can no longer change: they take no handles and do
// not participate in selection.
type Shape struct {
	FormID   string
	Rect     geometry.PixelRect
	Type     envelope.FieldType
	ReadOnly bool
}

// Controller owns the interactive layer of one page.
type Controller struct {
	itemID    string
	page      int
	container geometry.Size
	session   *editor.Session

	state     State
	shapes    []Shape
	selected  map[string]bool
	bandStart geometry.PixelRect // X/Y used as the anchor point
	band      geometry.PixelRect
	pending   geometry.PixelRect // rectangle awaiting a field type choice
}

// New builds a controller for one page of one envelope item over a measured
// container. Callers must not construct a controller before the container
// has been measured; conversions against a zero-sized container are
// undefined.
func New(session *editor.Session, itemID string, page int, container geometry.Size) *Controller {
	c := &Controller{
		itemID:    itemID,
		page:      page,
		container: container,
		session:   session,
		state:     StateIdle,
		selected:  make(map[string]bool),
	}
	c.Reconcile()
	return c
}

// State returns the current machine state.
func (c *Controller) State() State { return c.state }

// Shapes returns the current render result.
func (c *Controller) Shapes() []Shape {
	out := make([]Shape, len(c.shapes))
	copy(out, c.shapes)
	return out
}

// Selected returns the form ids of all selected shapes.
func (c *Controller) Selected() []string {
	var out []string
	for _, s := range c.shapes {
		if c.selected[s.FormID] {
			out = append(out, s.FormID)
		}
	}
	return out
}

// PendingRect returns the rectangle awaiting a type choice.
func (c *Controller) PendingRect() geometry.PixelRect { return c.pending }

// Reconcile rebuilds every shape from the field store. This is a full
// destroy-and-rebuild pass rather than incremental patching: field counts
// per page are tens, not thousands, and rebuilding cannot desync. Shapes for
// fields removed elsewhere disappear here, and their selection with them.
func (c *Controller) Reconcile() {
	c.shapes = c.shapes[:0]
	live := make(map[string]bool)
	for _, f := range c.session.Fields() {
		if f.ItemID != c.itemID || f.Page != c.page {
			continue
		}
		live[f.FormID] = true
		c.shapes = append(c.shapes, Shape{
			FormID:   f.FormID,
			Rect:     geometry.ToPixels(f.Rect, c.container),
			Type:     f.Type,
			ReadOnly: !c.session.RecipientModifiable(f.RecipientID),
		})
	}
	for id := range c.selected {
		if !live[id] {
			delete(c.selected, id)
		}
	}
	if len(c.selected) == 0 && c.state == StateFieldsSelected {
		c.state = StateIdle
	}
	c.syncSingleSelection()
}

// PointerDown starts a gesture. toggle reflects a held shift/ctrl/meta key.
func (c *Controller) PointerDown(x, y float64, toggle bool) {
	if c.state == StatePendingTypeChoice {
		// Clicking away dismisses the type picker.
		c.state = StateIdle
		c.pending = geometry.PixelRect{}
	}

	if shape, ok := c.hitTest(x, y); ok {
		if shape.ReadOnly {
			return
		}
		if toggle {
			if c.selected[shape.FormID] {
				delete(c.selected, shape.FormID)
			} else {
				c.selected[shape.FormID] = true
			}
		} else if !c.selected[shape.FormID] {
			c.selected = map[string]bool{shape.FormID: true}
		}
		if len(c.selected) > 0 {
			c.state = StateFieldsSelected
		} else {
			c.state = StateIdle
		}
		c.syncSingleSelection()
		return
	}

	// Empty canvas: begin a rubber band anchored at the pointer.
	c.state = StateRubberBanding
	c.bandStart = geometry.PixelRect{X: x, Y: y}
	c.band = geometry.PixelRect{X: x, Y: y}
}

// PointerMove extends the rubber band.
func (c *Controller) PointerMove(x, y float64) {
	if c.state != StateRubberBanding {
		return
	}
	c.band = normalizedRect(c.bandStart.X, c.bandStart.Y, x, y)
}

// PointerUp finishes a gesture. A band over existing shapes selects them; a
// band large enough to be a field opens the type picker when a modifiable
// recipient is selected; anything else clears selection and returns to idle.
func (c *Controller) PointerUp(x, y float64) {
	if c.state != StateRubberBanding {
		return
	}
	c.band = normalizedRect(c.bandStart.X, c.bandStart.Y, x, y)

	hits := c.intersecting(c.band)
	if len(hits) > 0 {
		c.selected = make(map[string]bool, len(hits))
		for _, s := range hits {
			c.selected[s.FormID] = true
		}
		c.state = StateFieldsSelected
		c.syncSingleSelection()
		return
	}

	recipientID := c.session.SelectedRecipient()
	if geometry.MeetsCreateMinimum(c.band) && recipientID != "" && c.session.RecipientModifiable(recipientID) {
		c.pending = c.band
		c.state = StatePendingTypeChoice
		return
	}

	// Plain click (or an undersized band) on empty canvas clears selection.
	c.selected = make(map[string]bool)
	c.state = StateIdle
	c.syncSingleSelection()
}

// ChooseFieldType commits the pending rectangle as a new field of the chosen
// type. Selection is not applied to the new field.
func (c *Controller) ChooseFieldType(t envelope.FieldType) (envelope.Field, bool) {
	if c.state != StatePendingTypeChoice {
		return envelope.Field{}, false
	}
	recipientID := c.session.SelectedRecipient()
	f, ok := c.session.AddField(editor.AddFieldInput{
		ItemID:      c.itemID,
		Page:        c.page,
		Type:        t,
		Rect:        geometry.ToPercent(c.pending, c.container),
		RecipientID: recipientID,
	})
	c.state = StateIdle
	c.pending = geometry.PixelRect{}
	if ok {
		c.Reconcile()
	}
	return f, ok
}

// CancelTypeChoice dismisses the type picker without creating a field.
func (c *Controller) CancelTypeChoice() {
	if c.state == StatePendingTypeChoice {
		c.state = StateIdle
		c.pending = geometry.PixelRect{}
	}
}

// ClickPlace creates a field centered on a bare click using the minimum
// footprint, bypassing the rubber band flow.
func (c *Controller) ClickPlace(x, y float64, t envelope.FieldType) (envelope.Field, bool) {
	recipientID := c.session.SelectedRecipient()
	if recipientID == "" || !c.session.RecipientModifiable(recipientID) {
		return envelope.Field{}, false
	}
	rect := geometry.CenterOnPoint(x, y, geometry.MinCreateWidth, geometry.MinCreateHeight)
	f, ok := c.session.AddField(editor.AddFieldInput{
		ItemID:      c.itemID,
		Page:        c.page,
		Type:        t,
		Rect:        geometry.ToPercent(rect, c.container),
		RecipientID: recipientID,
	})
	if ok {
		c.Reconcile()
	}
	return f, ok
}

// CommitDrag persists a move. Only the position is written: recomputing
// width/height from pixels on a move-only gesture introduces visible
// round-trip drift, so dimensions are deliberately left untouched.
func (c *Controller) CommitDrag(formID string, moved geometry.PixelRect) bool {
	if !c.selected[formID] {
		return false
	}
	pct := geometry.ToPercent(moved, c.container)
	ok := c.session.UpdateFieldByFormID(formID, editor.FieldPatch{
		PositionX: &pct.PositionX,
		PositionY: &pct.PositionY,
	})
	if ok {
		c.Reconcile()
	}
	return ok
}

// CommitResize persists a transform. Results below the minimum footprint are
// rejected and the old box kept.
func (c *Controller) CommitResize(formID string, resized geometry.PixelRect) bool {
	if !c.selected[formID] {
		return false
	}
	if !geometry.MeetsResizeMinimum(resized) {
		return false
	}
	pct := geometry.ToPercent(resized, c.container)
	ok := c.session.UpdateFieldByFormID(formID, editor.FieldPatch{
		PositionX: &pct.PositionX,
		PositionY: &pct.PositionY,
		Width:     &pct.Width,
		Height:    &pct.Height,
	})
	if ok {
		c.Reconcile()
	}
	return ok
}

// DeleteSelected removes every selected field in one batch.
func (c *Controller) DeleteSelected() int {
	ids := c.Selected()
	if len(ids) == 0 {
		return 0
	}
	removed := c.session.RemoveFieldsByFormID(ids)
	c.selected = make(map[string]bool)
	c.state = StateIdle
	c.Reconcile()
	return removed
}

// syncSingleSelection mirrors the canvas selection into the store's single
// field selection: exactly one selected shape opens the meta panel, zero or
// several clear it.
func (c *Controller) syncSingleSelection() {
	if len(c.selected) == 1 {
		for id := range c.selected {
			c.session.SetSelectedField(id)
		}
		return
	}
	c.session.SetSelectedField("")
}

func (c *Controller) hitTest(x, y float64) (Shape, bool) {
	// Iterate in reverse so the top-most shape wins.
	for i := len(c.shapes) - 1; i >= 0; i-- {
		s := c.shapes[i]
		if x >= s.Rect.X && x <= s.Rect.X+s.Rect.Width &&
			y >= s.Rect.Y && y <= s.Rect.Y+s.Rect.Height {
			return s, true
		}
	}
	return Shape{}, false
}

func (c *Controller) intersecting(band geometry.PixelRect) []Shape {
	var out []Shape
	for _, s := range c.shapes {
		if s.ReadOnly {
			continue
		}
		if band.X < s.Rect.X+s.Rect.Width && band.X+band.Width > s.Rect.X &&
			band.Y < s.Rect.Y+s.Rect.Height && band.Y+band.Height > s.Rect.Y {
			out = append(out, s)
		}
	}
	return out
}

func normalizedRect(x0, y0, x1, y1 float64) geometry.PixelRect {
	r := geometry.PixelRect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if r.Width < 0 {
		r.X, r.Width = x1, -r.Width
	}
	if r.Height < 0 {
		r.Y, r.Height = y1, -r.Height
	}
	return r
}
