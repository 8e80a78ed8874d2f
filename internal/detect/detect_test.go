package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/geometry"
)

func testSession() *editor.Session {
	env := envelope.Envelope{
		ID:     "env-1",
		Type:   envelope.TypeDocument,
		Status: envelope.StatusDraft,
		Items:  []envelope.Item{{ID: "item-1", PageCount: 3}},
		Recipients: []envelope.Recipient{
			{ID: "r1", Email: "a@x.io", Role: envelope.RoleSigner, SigningOrder: 1, SendStatus: envelope.SendStatusNotSent, SigningStatus: envelope.SigningStatusNotSigned},
			{ID: "r2", Email: "b@x.io", Role: envelope.RoleSigner, SigningOrder: 2, SendStatus: envelope.SendStatusNotSent, SigningStatus: envelope.SigningStatusNotSigned},
		},
	}
	return editor.NewSession(env, nil)
}

func TestApplyMapsBoundingBox(t *testing.T) {
	s := testSession()
	res := Apply(s, "item-1", []Suggestion{{
		PageNumber:  2,
		BoundingBox: geometry.DetectionBox{XMin: 100, YMin: 200, XMax: 350, YMax: 260},
		Label:       envelope.FieldSignature,
		RecipientID: "r2",
	}})
	if res.AppliedCount() != 1 || res.FailedCount() != 0 {
		t.Fatalf("result = %+v", res)
	}
	f := res.Applied[0]
	// 0-1000 space divided by 1000 times 100.
	want := geometry.PercentRect{PositionX: 10, PositionY: 20, Width: 25, Height: 6}
	if f.Rect != want {
		t.Fatalf("rect = %+v, want %+v", f.Rect, want)
	}
	if f.Page != 2 || f.RecipientID != "r2" {
		t.Fatalf("field = %+v", f)
	}
}

func TestApplyRecipientFallback(t *testing.T) {
	box := geometry.DetectionBox{XMin: 0, YMin: 0, XMax: 100, YMax: 50}

	// Unresolvable suggested recipient falls back to the selected one.
	s := testSession()
	s.SetSelectedRecipient("r2")
	res := Apply(s, "item-1", []Suggestion{{PageNumber: 1, BoundingBox: box, Label: envelope.FieldText, RecipientID: "ghost"}})
	if res.AppliedCount() != 1 || res.Applied[0].RecipientID != "r2" {
		t.Fatalf("result = %+v", res)
	}

	// No selection falls back to the first recipient by signing order.
	s = testSession()
	res = Apply(s, "item-1", []Suggestion{{PageNumber: 1, BoundingBox: box, Label: envelope.FieldText}})
	if res.AppliedCount() != 1 || res.Applied[0].RecipientID != "r1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestApplyCollectsPerPageErrors(t *testing.T) {
	s := testSession()
	box := geometry.DetectionBox{XMin: 0, YMin: 0, XMax: 100, YMax: 50}
	res := Apply(s, "item-1", []Suggestion{
		{PageNumber: 1, BoundingBox: box, Label: envelope.FieldText},
		{PageNumber: 1, BoundingBox: box, Label: "MYSTERY"},
		{PageNumber: 0, BoundingBox: box, Label: envelope.FieldText},
		{PageNumber: 3, BoundingBox: box, Label: envelope.FieldDate},
	})
	if res.AppliedCount() != 2 {
		t.Fatalf("applied = %d", res.AppliedCount())
	}
	if res.FailedCount() != 2 || res.Skipped != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.PageErrors[1]) != 1 || len(res.PageErrors[0]) != 1 {
		t.Fatalf("page errors = %+v", res.PageErrors)
	}
}

func TestApplySkipsWhenNoRecipientExists(t *testing.T) {
	env := envelope.Envelope{
		ID: "env-1", Type: envelope.TypeDocument, Status: envelope.StatusDraft,
		Items: []envelope.Item{{ID: "item-1", PageCount: 1}},
	}
	s := editor.NewSession(env, nil)
	res := Apply(s, "item-1", []Suggestion{{
		PageNumber:  1,
		BoundingBox: geometry.DetectionBox{XMax: 100, YMax: 50},
		Label:       envelope.FieldText,
	}})
	if res.AppliedCount() != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestHTTPClientDetectFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/envelopes/env-1/detect-fields" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(detectResponse{Suggestions: []Suggestion{{
			PageNumber:  1,
			BoundingBox: geometry.DetectionBox{XMin: 10, YMin: 10, XMax: 200, YMax: 60},
			Label:       envelope.FieldSignature,
		}}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	got, err := c.DetectFields(context.Background(), "env-1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 || got[0].Label != envelope.FieldSignature {
		t.Fatalf("suggestions = %+v", got)
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.DetectFields(context.Background(), "env-1"); err == nil {
		t.Fatal("bad status must surface an error")
	}
}
