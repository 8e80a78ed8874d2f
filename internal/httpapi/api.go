// Package httpapi is the HTTP surface of the Signato API: envelope CRUD,
// recipient and field management, the signing flow, two-factor challenges
// and the live audit stream.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"signato.org/internal/detect"
	"signato.org/internal/envelope"
	"signato.org/internal/obs"
	"signato.org/internal/reauth"
	"signato.org/internal/stream"
	"signato.org/internal/workflow"
)

// ReadyProbe checks dependencies before the instance takes traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        workflow.Service
	verifier   *reauth.Verifier
	stream     *stream.Stream
	detector   detect.Detector

	ratePerSecond int
	rateBurst     int
}

// APIOption customizes the API.
type APIOption func(*API)

// WithVerifier enables the two-factor challenge endpoints.
func WithVerifier(v *reauth.Verifier) APIOption {
	return func(a *API) { a.verifier = v }
}

// WithStream enables the SSE audit stream.
func WithStream(s *stream.Stream) APIOption {
	return func(a *API) { a.stream = s }
}

// WithDetector enables the field detection endpoint.
func WithDetector(d detect.Detector) APIOption {
	return func(a *API) { a.detector = d }
}

// WithRateLimit overrides the per-IP rate limit applied by Handler.
func WithRateLimit(perSecond, burst int) APIOption {
	return func(a *API) {
		a.ratePerSecond = perSecond
		a.rateBurst = burst
	}
}

func New(svc workflow.Service, rp ReadyProbe, version string, opts ...APIOption) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,

		ratePerSecond: 50,
		rateBurst:     100,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session tokens
	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	// envelopes
	a.mux.HandleFunc("POST /v1/envelopes", a.createEnvelope)
	a.mux.HandleFunc("GET /v1/envelopes", a.listEnvelopes)
	a.mux.HandleFunc("GET /v1/envelopes/{id}", a.getEnvelope)
	a.mux.HandleFunc("PATCH /v1/envelopes/{id}", a.patchEnvelope)
	a.mux.HandleFunc("DELETE /v1/envelopes/{id}", a.deleteEnvelope)
	a.mux.HandleFunc("PUT /v1/envelopes/{id}/meta", a.updateMeta)

	// recipients
	a.mux.HandleFunc("POST /v1/envelopes/{id}/recipients", a.addRecipient)
	a.mux.HandleFunc("PATCH /v1/envelopes/{id}/recipients/{rid}", a.updateRecipient)
	a.mux.HandleFunc("DELETE /v1/envelopes/{id}/recipients/{rid}", a.removeRecipient)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/recipients/{rid}/order", a.setSigningOrder)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/signing-mode", a.setSigningMode)

	// fields
	a.mux.HandleFunc("POST /v1/envelopes/{id}/fields/sync", a.syncFields)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/items/{itemID}/detect-fields", a.detectFields)

	// signing flow
	a.mux.HandleFunc("POST /v1/envelopes/{id}/send", a.sendEnvelope)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/resend", a.resendEnvelope)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/open", a.openEnvelope)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/sign", a.signField)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/unsign", a.unsignField)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/complete", a.completeRecipient)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/reject", a.rejectRecipient)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/expire", a.expireRecipient)

	// two-factor challenges
	a.mux.HandleFunc("POST /v1/envelopes/{id}/auth/2fa", a.issueTwoFactor)
	a.mux.HandleFunc("POST /v1/envelopes/{id}/auth/2fa/verify", a.verifyTwoFactor)

	// audit trail
	a.mux.HandleFunc("GET /v1/envelopes/{id}/audit", a.auditTrail)
	a.mux.HandleFunc("GET /v1/envelopes/{id}/certificate", a.certificate)
	a.mux.HandleFunc("GET /v1/envelopes/{id}/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "signato-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "signato-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps domain sentinels onto HTTP status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, envelope.ErrInvalidInput), errors.Is(err, envelope.ErrInvalidFieldType):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, envelope.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, envelope.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, envelope.ErrOutOfTurn),
		errors.Is(err, envelope.ErrInvalidStatus),
		errors.Is(err, envelope.ErrNotModifiable):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func requestMeta(r *http.Request) (userAgent, ip string) {
	ip = clientIP(r)
	userAgent = strings.TrimSpace(r.UserAgent())
	return userAgent, ip
}
