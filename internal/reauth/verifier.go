package reauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"signato.org/internal/auditlog"
	"signato.org/internal/envelope"
	"signato.org/internal/ids"
)

// Reason is a named rejection code. Every rejection is audited under its
// reason, never as a generic failure.
type Reason string

const (
	ReasonNotIssued           Reason = "NOT_ISSUED"
	ReasonExpired             Reason = "EXPIRED"
	ReasonAttemptLimitReached Reason = "ATTEMPT_LIMIT_REACHED"
	ReasonInvalid             Reason = "INVALID"
)

const (
	outcomeSuccess = "SUCCESS"
	outcomeFailure = "FAILURE"

	proofIssuer = "signato/reauth"
)

var (
	ErrNotIssued           = errors.New("reauth: token was not issued for this action")
	ErrExpired             = errors.New("reauth: token expired")
	ErrAttemptLimitReached = errors.New("reauth: attempt limit reached")
	ErrInvalidCode         = errors.New("reauth: invalid code")
	ErrInvalidProof        = errors.New("reauth: invalid proof")
)

// Verifier runs the server-side 2FA sub-flow: issuing one-time tokens,
// verifying submitted codes, and minting short-lived proofs on success.
// Every verification outcome is appended to the audit log.
type Verifier struct {
	store        TokenStore
	log          auditlog.Log
	secret       []byte
	tokenTTL     time.Duration
	proofTTL     time.Duration
	attemptLimit int
	codeDigits   int
	now          func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

func WithTokenTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) {
		if ttl > 0 {
			v.tokenTTL = ttl
		}
	}
}

func WithProofTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) {
		if ttl > 0 {
			v.proofTTL = ttl
		}
	}
}

func WithAttemptLimit(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.attemptLimit = n
		}
	}
}

func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier wires the token store, audit log and proof signing secret.
func NewVerifier(store TokenStore, log auditlog.Log, secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store:        store,
		log:          log,
		secret:       secret,
		tokenTTL:     10 * time.Minute,
		proofTTL:     5 * time.Minute,
		attemptLimit: 3,
		codeDigits:   6,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issue creates a pending token for one signing action. The returned token
// carries the plaintext code for delivery; it is never logged.
func (v *Verifier) Issue(ctx context.Context, envelopeID, recipientID, sessionID string) (Token, error) {
	if envelopeID == "" || recipientID == "" || sessionID == "" {
		return Token{}, fmt.Errorf("%w: envelope, recipient and session are required", envelope.ErrInvalidInput)
	}
	code, err := newCode(v.codeDigits)
	if err != nil {
		return Token{}, err
	}
	now := v.now().UTC()
	token := Token{
		ID:           ids.New(),
		EnvelopeID:   envelopeID,
		RecipientID:  recipientID,
		SessionID:    sessionID,
		Code:         code,
		AttemptLimit: v.attemptLimit,
		ExpiresAt:    now.Add(v.tokenTTL),
		CreatedAt:    now,
	}
	if err := v.store.Put(ctx, token); err != nil {
		return Token{}, fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Attempt is one submitted code against a pending token.
type Attempt struct {
	TokenID     string
	Code        string
	EnvelopeID  string
	RecipientID string
	SessionID   string
	Actor       auditlog.Actor
	Request     auditlog.RequestMeta
}

// Verify checks an attempt. On success the token is consumed and a signed
// proof bound to {session, recipient, envelope} is returned. On failure a
// sentinel error carrying the rejection reason is returned. Both paths
// append exactly one audit log entry.
func (v *Verifier) Verify(ctx context.Context, a Attempt) (string, error) {
	token, err := v.store.Get(ctx, a.TokenID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			v.record(ctx, a, outcomeFailure, ReasonNotIssued)
			return "", ErrNotIssued
		}
		return "", fmt.Errorf("load token: %w", err)
	}
	if token.EnvelopeID != a.EnvelopeID || token.RecipientID != a.RecipientID || token.SessionID != a.SessionID {
		// Issued, but for a different action or session. Treat as not
		// issued so the caller restarts the flow.
		v.record(ctx, a, outcomeFailure, ReasonNotIssued)
		return "", ErrNotIssued
	}
	if token.Revoked {
		v.record(ctx, a, outcomeFailure, ReasonAttemptLimitReached)
		return "", ErrAttemptLimitReached
	}
	now := v.now().UTC()
	if now.After(token.ExpiresAt) {
		_ = v.store.Delete(ctx, token.ID)
		v.record(ctx, a, outcomeFailure, ReasonExpired)
		return "", ErrExpired
	}
	if subtleNotEqual(token.Code, a.Code) {
		token.Attempts++
		if token.Attempts >= token.AttemptLimit {
			token.Revoked = true
		}
		if err := v.store.Put(ctx, token); err != nil {
			return "", fmt.Errorf("store token: %w", err)
		}
		v.record(ctx, a, outcomeFailure, ReasonInvalid)
		return "", ErrInvalidCode
	}

	// Success consumes the token.
	if err := v.store.Delete(ctx, token.ID); err != nil {
		return "", fmt.Errorf("consume token: %w", err)
	}
	proof, err := v.signProof(token, now)
	if err != nil {
		return "", err
	}
	v.record(ctx, a, outcomeSuccess, "")
	return proof, nil
}

func (v *Verifier) record(ctx context.Context, a Attempt, outcome string, reason Reason) {
	entry := &auditlog.Entry{
		EnvelopeID: a.EnvelopeID,
		Type:       auditlog.EventTwoFactor,
		Actor:      a.Actor,
		Request:    a.Request,
		Data: auditlog.TwoFactorData{
			RecipientID: a.RecipientID,
			TokenID:     a.TokenID,
			Outcome:     outcome,
			Reason:      string(reason),
		},
	}
	// Audit append failure must not mask the verification outcome; the
	// in-process and pg logs only fail on infrastructure errors.
	_ = v.log.Append(ctx, entry)
}

// ProofClaims binds a successful challenge to one session, recipient and
// envelope. A proof for one signing context is useless in any other.
type ProofClaims struct {
	EnvelopeID  string `json:"envelope_id"`
	RecipientID string `json:"recipient_id"`
	jwt.RegisteredClaims
}

func (v *Verifier) signProof(token Token, now time.Time) (string, error) {
	claims := ProofClaims{
		EnvelopeID:  token.EnvelopeID,
		RecipientID: token.RecipientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    proofIssuer,
			Subject:   token.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.proofTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return signed, nil
}

// VerifyProof checks that a proof is valid, unexpired and bound to the
// given session, recipient and envelope.
func (v *Verifier) VerifyProof(proof, sessionID, recipientID, envelopeID string) error {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return ErrInvalidProof
	}
	parsed, err := jwt.ParseWithClaims(proof, &ProofClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidProof
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return v.now().UTC() }))
	if err != nil {
		return ErrInvalidProof
	}
	claims, ok := parsed.Claims.(*ProofClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidProof
	}
	if claims.Issuer != proofIssuer ||
		claims.Subject != sessionID ||
		claims.RecipientID != recipientID ||
		claims.EnvelopeID != envelopeID {
		return ErrInvalidProof
	}
	return nil
}

// subtleNotEqual compares codes in constant time.
func subtleNotEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1
}
