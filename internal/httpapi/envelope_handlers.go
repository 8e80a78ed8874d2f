package httpapi

import (
	"context"
	"net/http"
	"strings"

	"signato.org/internal/auditlog"
	"signato.org/internal/auth"
	"signato.org/internal/detect"
	"signato.org/internal/editor"
	"signato.org/internal/envelope"
	"signato.org/internal/obs"
	"signato.org/internal/workflow"
)

type createEnvelopeRequest struct {
	Title string          `json:"title"`
	Type  envelope.Type   `json:"type,omitempty"`
	Items []envelope.Item `json:"items,omitempty"`
	Meta  envelope.Meta   `json:"meta,omitempty"`
}

func (a *API) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var req createEnvelopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	env, err := a.svc.Create(r.Context(), workflow.CreateInput{
		Title: req.Title,
		Type:  req.Type,
		Items: req.Items,
		Meta:  req.Meta,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/envelopes/"+env.ID)
	writeJSON(w, http.StatusCreated, env)
}

func (a *API) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := a.svc.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": envs})
}

func (a *API) getEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := a.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type patchEnvelopeRequest struct {
	Title      *string `json:"title,omitempty"`
	ExternalID *string `json:"external_id,omitempty"`
	Visibility *string `json:"visibility,omitempty"`
	TeamID     *string `json:"team_id,omitempty"`
}

func (a *API) patchEnvelope(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchEnvelopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apply := func(err error) bool {
		if err != nil {
			handleServiceError(w, r, err)
			return false
		}
		return true
	}
	if req.Title != nil && !apply(a.svc.UpdateTitle(r.Context(), id, *req.Title)) {
		return
	}
	if req.ExternalID != nil && !apply(a.svc.SetExternalID(r.Context(), id, *req.ExternalID)) {
		return
	}
	if req.Visibility != nil && !apply(a.svc.SetVisibility(r.Context(), id, *req.Visibility)) {
		return
	}
	if req.TeamID != nil && !apply(a.svc.MoveToTeam(r.Context(), id, *req.TeamID)) {
		return
	}
	env, err := a.svc.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (a *API) deleteEnvelope(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateMetaRequest struct {
	Meta       envelope.Meta         `json:"meta"`
	AccessAuth []envelope.AuthMethod `json:"access_auth,omitempty"`
	ActionAuth []envelope.AuthMethod `json:"action_auth,omitempty"`
}

func (a *API) updateMeta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateMetaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.UpdateMeta(r.Context(), id, req.Meta); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.AccessAuth != nil {
		if err := a.svc.SetGlobalAccessAuth(r.Context(), id, req.AccessAuth); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}
	if req.ActionAuth != nil {
		if err := a.svc.SetGlobalActionAuth(r.Context(), id, req.ActionAuth); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- recipients ---

func (a *API) addRecipient(w http.ResponseWriter, r *http.Request) {
	var rec envelope.Recipient
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	added, err := a.svc.AddRecipient(r.Context(), r.PathValue("id"), rec)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *API) updateRecipient(w http.ResponseWriter, r *http.Request) {
	var rec envelope.Recipient
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec.ID = r.PathValue("rid")
	if err := a.svc.UpdateRecipient(r.Context(), r.PathValue("id"), rec); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeRecipient(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveRecipient(r.Context(), r.PathValue("id"), r.PathValue("rid")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setSigningOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SigningOrder int `json:"signing_order"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetSigningOrder(r.Context(), r.PathValue("id"), r.PathValue("rid"), req.SigningOrder); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setSigningMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode      envelope.SigningOrderMode `json:"mode"`
		Confirmed bool                      `json:"confirmed"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetSigningMode(r.Context(), r.PathValue("id"), req.Mode, req.Confirmed); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- fields ---

type fieldChange struct {
	Kind  editor.ChangeKind `json:"kind"`
	Field envelope.Field    `json:"field"`
}

func (a *API) syncFields(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Changes []fieldChange `json:"changes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	changes := make([]editor.Change, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, editor.Change{Kind: c.Kind, Field: c.Field})
	}
	if err := a.svc.SyncFields(r.Context(), r.PathValue("id"), changes); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// detectFields runs the external detector over an item and persists the
// applied suggestions through the regular field sync path.
func (a *API) detectFields(w http.ResponseWriter, r *http.Request) {
	if a.detector == nil {
		writeError(w, r, http.StatusServiceUnavailable, "field detection disabled")
		return
	}
	id := r.PathValue("id")
	env, err := a.svc.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	suggestions, err := a.detector.DetectFields(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}

	session := editor.NewSession(env, syncerFunc(a.svc.SyncFields))
	result := detect.Apply(session, r.PathValue("itemID"), suggestions)
	if err := session.Flush(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": result.AppliedCount(),
		"skipped": result.Skipped,
		"failed":  result.FailedCount(),
		"errors":  result.PageErrors,
	})
}

type syncerFunc func(ctx context.Context, envelopeID string, changes []editor.Change) error

func (f syncerFunc) SyncFields(ctx context.Context, envelopeID string, changes []editor.Change) error {
	return f(ctx, envelopeID, changes)
}

// --- signing flow ---

func (a *API) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Send(r.Context(), r.PathValue("id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) resendEnvelope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientIDs []string `json:"recipient_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Resend(r.Context(), r.PathValue("id"), req.RecipientIDs); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) openEnvelope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
		Password    string `json:"password,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Open(r.Context(), r.PathValue("id"), req.RecipientID, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type signFieldRequest struct {
	FieldID           string `json:"field_id"`
	RecipientID       string `json:"recipient_id"`
	ActingRecipientID string `json:"acting_recipient_id,omitempty"`
	Value             string `json:"value,omitempty"`
	SignatureID       string `json:"signature_id,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	SessionEmail      string `json:"session_email,omitempty"`
	Proof             string `json:"proof,omitempty"`
}

func (a *API) signField(w http.ResponseWriter, r *http.Request) {
	var req signFieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userAgent, ip := requestMeta(r)
	err := a.svc.SignField(r.Context(), workflow.SignInput{
		EnvelopeID:        r.PathValue("id"),
		FieldID:           req.FieldID,
		RecipientID:       req.RecipientID,
		ActingRecipientID: req.ActingRecipientID,
		Value:             req.Value,
		SignatureID:       req.SignatureID,
		SessionID:         req.SessionID,
		SessionEmail:      req.SessionEmail,
		Proof:             req.Proof,
		Request:           auditlog.RequestMeta{UserAgent: userAgent, IPAddress: ip},
	})
	if err != nil {
		obs.CountSigningAction("sign", "failure")
		handleServiceError(w, r, err)
		return
	}
	obs.CountSigningAction("sign", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) unsignField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FieldID     string `json:"field_id"`
		RecipientID string `json:"recipient_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.UnsignField(r.Context(), r.PathValue("id"), req.FieldID, req.RecipientID); err != nil {
		obs.CountSigningAction("unsign", "failure")
		handleServiceError(w, r, err)
		return
	}
	obs.CountSigningAction("unsign", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) completeRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.CompleteRecipient(r.Context(), r.PathValue("id"), req.RecipientID); err != nil {
		obs.CountSigningAction("complete", "failure")
		handleServiceError(w, r, err)
		return
	}
	obs.CountSigningAction("complete", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rejectRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
		Reason      string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RejectRecipient(r.Context(), r.PathValue("id"), req.RecipientID, req.Reason); err != nil {
		obs.CountSigningAction("reject", "failure")
		handleServiceError(w, r, err)
		return
	}
	obs.CountSigningAction("reject", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) expireRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ExpireRecipient(r.Context(), r.PathValue("id"), req.RecipientID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- audit trail ---

func (a *API) auditTrail(w http.ResponseWriter, r *http.Request) {
	var types []auditlog.EventType
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				types = append(types, auditlog.EventType(t))
			}
		}
	}
	entries, err := a.svc.Audit(r.Context(), r.PathValue("id"), types...)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	viewer := ""
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		viewer = p.UserID
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		isOwner := viewer != "" && e.Actor.UserID == viewer
		items = append(items, map[string]any{
			"id":         e.ID,
			"type":       e.Type,
			"created_at": e.CreatedAt,
			"actor":      e.Actor,
			"action":     auditlog.FormatAction(e, isOwner),
			"data":       e.Data,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) certificate(w http.ResponseWriter, r *http.Request) {
	cert, err := a.svc.Certificate(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}
