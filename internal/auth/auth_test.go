package auth

import (
	"context"
	"testing"
	"time"
)

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidateToken(t *testing.T) {
	withSecret(t)

	signed, err := GenerateToken("user-1", "Ada@Example.COM", "Ada Lovelace", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAndValidate(signed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", claims.Email)
	}
	if claims.Name != "Ada Lovelace" {
		t.Fatalf("name = %q", claims.Name)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	withSecret(t)

	if _, err := GenerateToken("", "a@x.io", "", time.Minute); err == nil {
		t.Fatal("empty user id must fail")
	}
	if _, err := GenerateToken("user-1", "a@x.io", "", 0); err == nil {
		t.Fatal("zero ttl must fail")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	withSecret(t)

	signed, err := GenerateToken("user-1", "a@x.io", "", time.Nanosecond)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(signed); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	withSecret(t)

	for _, tok := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := ParseAndValidate(tok); err == nil {
			t.Fatalf("token %q must be rejected", tok)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", "a@x.io", "", time.Minute); err == nil {
		t.Fatal("missing secret must fail closed")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("empty context must not carry a principal")
	}
	p := Principal{UserID: "user-1", Email: "a@x.io", Name: "Ada"}
	ctx = ContextWithPrincipal(ctx, p)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got != p {
		t.Fatalf("principal = %+v ok=%v", got, ok)
	}

	ctx = ContextWithToken(ctx, "raw-token")
	tok, ok := TokenFromContext(ctx)
	if !ok || tok != "raw-token" {
		t.Fatalf("token = %q ok=%v", tok, ok)
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password must fail")
	}
}
