package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

func newTestAuthorizer(t *testing.T) (*IdentityAuthorizer, ed25519.PrivateKey) {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authorizer, err := NewIdentityAuthorizer("gathering.space", base64.StdEncoding.EncodeToString(publicKey))
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	return authorizer, privateKey
}

func signIdentityToken(t *testing.T, privateKey ed25519.PrivateKey, claims identityClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(privateKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyValidToken(t *testing.T) {
	authorizer, privateKey := newTestAuthorizer(t)

	token := signIdentityToken(t, privateKey, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gathering.space",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "s1",
		AccountID: "u1",
		Roles:     []string{"moderator"},
	})

	identity, err := authorizer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.SessionID != "s1" || identity.AccountID != "u1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != role.Moderator {
		t.Fatalf("unexpected roles: %+v", identity.Roles)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	authorizer, privateKey := newTestAuthorizer(t)

	token := signIdentityToken(t, privateKey, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "s1",
	})
	if _, err := authorizer.Verify(token); err == nil {
		t.Fatalf("expected issuer mismatch error")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	authorizer, privateKey := newTestAuthorizer(t)

	token := signIdentityToken(t, privateKey, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gathering.space",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		SessionID: "s1",
	})
	if _, err := authorizer.Verify(token); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	authorizer, _ := newTestAuthorizer(t)
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}

	token := signIdentityToken(t, otherKey, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gathering.space",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "s1",
	})
	if _, err := authorizer.Verify(token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestVerifyRejectsEmptyIdentity(t *testing.T) {
	authorizer, privateKey := newTestAuthorizer(t)

	token := signIdentityToken(t, privateKey, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gathering.space",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := authorizer.Verify(token); err == nil {
		t.Fatalf("expected empty identity error")
	}
}
