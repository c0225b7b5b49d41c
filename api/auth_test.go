package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "user-123",
		"aud":       "api://aud",
		"iss":       "https://issuer/",
		"exp":       time.Now().Add(5 * time.Minute).Unix(),
		"nbf":       time.Now().Add(-time.Minute).Unix(),
		"iat":       time.Now().Add(-time.Minute).Unix(),
		TenantClaim: "tenant-a",
	}
}

func testAuth() *Auth {
	return &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: testSecret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	if _, err := bearerToken("Bearer " + strings.Repeat(".", 1000)); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerToken("Basic a.b.c"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error for basic scheme, got %v", err)
	}
}

func TestPrincipalFromHS256(t *testing.T) {
	signed := signToken(t, baseClaims())

	p, err := testAuth().PrincipalFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.UserID != "user-123" || p.TenantID != "tenant-a" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestPrincipalFallsBackToPlainTenantClaim(t *testing.T) {
	claims := baseClaims()
	delete(claims, TenantClaim)
	claims["tenant_id"] = "tenant-b"

	p, err := testAuth().PrincipalFromAuthHeader("Bearer " + signToken(t, claims))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TenantID != "tenant-b" {
		t.Fatalf("expected tenant-b, got %q", p.TenantID)
	}
}

func TestPrincipalRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{name: "missing tenant", mutate: func(c jwt.MapClaims) { delete(c, TenantClaim) }},
		{name: "blank tenant", mutate: func(c jwt.MapClaims) { c[TenantClaim] = "  " }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "api://other" }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil/" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			tt.mutate(claims)
			if _, err := testAuth().PrincipalFromAuthHeader("Bearer " + signToken(t, claims)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestPrincipalRejectsWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims())
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := NewTestAuth(string(testSecret)).PrincipalFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected signature error")
	}
}
