package httpapi

import (
	"errors"
	"net/http"
	"time"

	"signato.org/internal/auditlog"
	"signato.org/internal/auth"
	"signato.org/internal/obs"
	"signato.org/internal/reauth"
)

type issueTwoFactorRequest struct {
	RecipientID string `json:"recipient_id"`
	SessionID   string `json:"session_id"`
}

type issueTwoFactorResponse struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueTwoFactor creates a challenge token. The code itself is delivered out
// of band; the response only carries the token handle.
func (a *API) issueTwoFactor(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		writeError(w, r, http.StatusServiceUnavailable, "two-factor disabled")
		return
	}
	var req issueTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := a.verifier.Issue(r.Context(), r.PathValue("id"), req.RecipientID, req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueTwoFactorResponse{
		TokenID:   token.ID,
		ExpiresAt: token.ExpiresAt,
	})
}

type verifyTwoFactorRequest struct {
	TokenID     string `json:"token_id"`
	Code        string `json:"code"`
	RecipientID string `json:"recipient_id"`
	SessionID   string `json:"session_id"`
}

func (a *API) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		writeError(w, r, http.StatusServiceUnavailable, "two-factor disabled")
		return
	}
	var req verifyTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var actor auditlog.Actor
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		actor = auditlog.Actor{UserID: p.UserID, Email: p.Email, Name: p.Name}
	}
	userAgent, ip := requestMeta(r)

	proof, err := a.verifier.Verify(r.Context(), reauth.Attempt{
		TokenID:     req.TokenID,
		Code:        req.Code,
		EnvelopeID:  r.PathValue("id"),
		RecipientID: req.RecipientID,
		SessionID:   req.SessionID,
		Actor:       actor,
		Request:     auditlog.RequestMeta{UserAgent: userAgent, IPAddress: ip},
	})
	if err != nil {
		reason := twoFactorReason(err)
		if reason == "" {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		obs.CountReauthOutcome("failure", reason)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error(), "reason": reason})
		return
	}
	obs.CountReauthOutcome("success", "")
	writeJSON(w, http.StatusOK, map[string]any{"proof": proof})
}

func twoFactorReason(err error) string {
	switch {
	case errors.Is(err, reauth.ErrNotIssued):
		return string(reauth.ReasonNotIssued)
	case errors.Is(err, reauth.ErrExpired):
		return string(reauth.ReasonExpired)
	case errors.Is(err, reauth.ErrAttemptLimitReached):
		return string(reauth.ReasonAttemptLimitReached)
	case errors.Is(err, reauth.ErrInvalidCode):
		return string(reauth.ReasonInvalid)
	default:
		return ""
	}
}
