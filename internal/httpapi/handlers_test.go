package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"signato.org/internal/auditlog"
	"signato.org/internal/auth"
	"signato.org/internal/envelope"
	"signato.org/internal/reauth"
	"signato.org/internal/workflow"
)

type testAPI struct {
	handler http.Handler
	store   *reauth.MemoryTokenStore
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	t.Setenv("SIGNATO_AUTH_SECRET", "httpapi-test-secret-value-123456")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	log := auditlog.NewMemory()
	store := reauth.NewMemoryTokenStore()
	verifier := reauth.NewVerifier(store, log, []byte("test-proof-secret"))
	svc := workflow.NewInMemory(log, workflow.WithVerifier(verifier))
	api := New(svc, ReadyProbe{}, "test", WithVerifier(verifier))

	token, err := auth.GenerateToken("u1", "owner@x.io", "Olive Owner", tokenTTL)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return &testAPI{handler: api.Handler(), store: store, token: token}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any, wantStatus int) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+ta.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s = %d, want %d; body: %s", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rec.Body.String())
	}
	return v
}

func TestRequiresAuthentication(t *testing.T) {
	ta := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/envelopes", nil)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	ta := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthTokenEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/token",
		map[string]any{"user_id": "u2", "email": "signer@x.io", "name": "Sam"}, http.StatusOK)
	resp := decodeBody[tokenResponse](t, rec)
	if resp.Token == "" {
		t.Fatal("no token issued")
	}
}

func TestEnvelopeLifecycleOverHTTP(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/v1/envelopes", map[string]any{
		"title": "Lease Agreement",
		"items": []map[string]any{{"id": "item-1", "title": "lease.pdf", "page_count": 3}},
	}, http.StatusCreated)
	env := decodeBody[envelope.Envelope](t, rec)
	if env.ID == "" || env.Status != envelope.StatusDraft {
		t.Fatalf("created envelope: %+v", env)
	}
	base := "/v1/envelopes/" + env.ID

	rec = ta.do(t, http.MethodPost, base+"/recipients",
		map[string]any{"email": "signer@x.io", "name": "Sam Signer"}, http.StatusCreated)
	signer := decodeBody[envelope.Recipient](t, rec)
	if signer.SigningOrder != 1 {
		t.Fatalf("signing order = %d", signer.SigningOrder)
	}

	ta.do(t, http.MethodPost, base+"/fields/sync", map[string]any{
		"changes": []map[string]any{{
			"kind": "create",
			"field": map[string]any{
				"form_id":      "form_000000000001",
				"item_id":      "item-1",
				"page":         1,
				"type":         "TEXT",
				"rect":         map[string]any{"position_x": 10, "position_y": 20, "width": 25, "height": 6},
				"recipient_id": signer.ID,
			},
		}},
	}, http.StatusNoContent)

	ta.do(t, http.MethodPost, base+"/send", nil, http.StatusAccepted)

	got := decodeBody[envelope.Envelope](t, ta.do(t, http.MethodGet, base, nil, http.StatusOK))
	if got.Status != envelope.StatusPending || len(got.Fields) != 1 {
		t.Fatalf("after send: status=%s fields=%d", got.Status, len(got.Fields))
	}

	ta.do(t, http.MethodPost, base+"/sign", map[string]any{
		"field_id":     got.Fields[0].ID,
		"recipient_id": signer.ID,
		"value":        "Sam Signer",
	}, http.StatusNoContent)
	ta.do(t, http.MethodPost, base+"/complete",
		map[string]any{"recipient_id": signer.ID}, http.StatusNoContent)

	got = decodeBody[envelope.Envelope](t, ta.do(t, http.MethodGet, base, nil, http.StatusOK))
	if got.Status != envelope.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}

	audit := decodeBody[map[string]json.RawMessage](t, ta.do(t, http.MethodGet, base+"/audit", nil, http.StatusOK))
	var items []map[string]any
	if err := json.Unmarshal(audit["items"], &items); err != nil {
		t.Fatalf("decode audit items: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("no audit entries")
	}
	last := items[len(items)-1]
	if last["type"] != "DOCUMENT_COMPLETED" {
		t.Fatalf("last audit type = %v", last["type"])
	}

	cert := decodeBody[map[string]json.RawMessage](t, ta.do(t, http.MethodGet, base+"/certificate", nil, http.StatusOK))
	var certEntries []json.RawMessage
	if err := json.Unmarshal(cert["Entries"], &certEntries); err != nil {
		t.Fatalf("decode certificate entries: %v", err)
	}
	if len(certEntries) == 0 {
		t.Fatal("certificate has no entries")
	}
}

func TestErrorMapping(t *testing.T) {
	ta := newTestAPI(t)

	ta.do(t, http.MethodGet, "/v1/envelopes/missing", nil, http.StatusNotFound)
	ta.do(t, http.MethodPost, "/v1/envelopes", map[string]any{"title": "  "}, http.StatusBadRequest)

	rec := ta.do(t, http.MethodPost, "/v1/envelopes",
		map[string]any{"title": "Draft"}, http.StatusCreated)
	env := decodeBody[envelope.Envelope](t, rec)
	// Sending without recipients is invalid input.
	ta.do(t, http.MethodPost, "/v1/envelopes/"+env.ID+"/send", nil, http.StatusBadRequest)

	rec = ta.do(t, http.MethodPost, "/v1/envelopes/"+env.ID+"/recipients",
		map[string]any{"email": "signer@x.io"}, http.StatusCreated)
	_ = decodeBody[envelope.Recipient](t, rec)
	ta.do(t, http.MethodPost, "/v1/envelopes/"+env.ID+"/send", nil, http.StatusAccepted)
	// A second send conflicts with the pending state.
	ta.do(t, http.MethodPost, "/v1/envelopes/"+env.ID+"/send", nil, http.StatusConflict)
}

func TestTwoFactorChallengeOverHTTP(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/v1/envelopes",
		map[string]any{"title": "NDA"}, http.StatusCreated)
	env := decodeBody[envelope.Envelope](t, rec)
	base := "/v1/envelopes/" + env.ID

	rec = ta.do(t, http.MethodPost, base+"/auth/2fa",
		map[string]any{"recipient_id": "r1", "session_id": "sess-1"}, http.StatusCreated)
	issued := decodeBody[issueTwoFactorResponse](t, rec)
	if issued.TokenID == "" {
		t.Fatal("no token id")
	}

	// Wrong code is rejected with a reason.
	rec = ta.do(t, http.MethodPost, base+"/auth/2fa/verify", map[string]any{
		"token_id": issued.TokenID, "code": "000000",
		"recipient_id": "r1", "session_id": "sess-1",
	}, http.StatusUnauthorized)
	failure := decodeBody[map[string]string](t, rec)
	if failure["reason"] != "INVALID" {
		t.Fatalf("reason = %q", failure["reason"])
	}

	token, err := ta.store.Get(t.Context(), issued.TokenID)
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	rec = ta.do(t, http.MethodPost, base+"/auth/2fa/verify", map[string]any{
		"token_id": issued.TokenID, "code": token.Code,
		"recipient_id": "r1", "session_id": "sess-1",
	}, http.StatusOK)
	success := decodeBody[map[string]string](t, rec)
	if success["proof"] == "" {
		t.Fatal("no proof returned")
	}
}

func TestPatchEnvelope(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/envelopes",
		map[string]any{"title": "Original"}, http.StatusCreated)
	env := decodeBody[envelope.Envelope](t, rec)

	rec = ta.do(t, http.MethodPatch, "/v1/envelopes/"+env.ID, map[string]any{
		"title":       "Renamed",
		"external_id": "crm-42",
	}, http.StatusOK)
	got := decodeBody[envelope.Envelope](t, rec)
	if got.Title != "Renamed" || got.ExternalID != "crm-42" {
		t.Fatalf("patched envelope: %+v", got)
	}

	entries := decodeBody[map[string]json.RawMessage](t,
		ta.do(t, http.MethodGet, fmt.Sprintf("/v1/envelopes/%s/audit?types=DOCUMENT_TITLE_UPDATED", env.ID), nil, http.StatusOK))
	var items []map[string]any
	if err := json.Unmarshal(entries["items"], &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("title update entries = %d, want 1", len(items))
	}
}
