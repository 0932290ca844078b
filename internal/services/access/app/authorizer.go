package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

// identityClaims is the claims shape of an identity token. Authentication
// itself happens upstream; the token is the trusted identity handoff.
type identityClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"session_id"`
	AccountID string   `json:"account_id"`
	Roles     []string `json:"roles"`
}

// IdentityAuthorizer verifies signed identity tokens on the transport.
type IdentityAuthorizer struct {
	issuer string
	key    ed25519.PublicKey
	now    func() time.Time
}

// NewIdentityAuthorizer builds an authorizer from a base64-encoded ed25519
// public key.
func NewIdentityAuthorizer(issuer, publicKey string) (*IdentityAuthorizer, error) {
	issuer = strings.TrimSpace(issuer)
	publicKey = strings.TrimSpace(publicKey)
	if issuer == "" {
		return nil, fmt.Errorf("identity token issuer is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return nil, fmt.Errorf("decode identity public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity public key must be %d bytes", ed25519.PublicKeySize)
	}
	return &IdentityAuthorizer{
		issuer: issuer,
		key:    ed25519.PublicKey(keyBytes),
		now:    time.Now,
	}, nil
}

// Verify parses and validates an identity token and returns the identity
// it asserts.
func (a *IdentityAuthorizer) Verify(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, fmt.Errorf("identity token is required")
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse identity token: %w", err)
	}

	identity := domain.Identity{
		SessionID: claims.SessionID,
		AccountID: claims.AccountID,
	}
	for _, asserted := range claims.Roles {
		identity.Roles = append(identity.Roles, role.Role(asserted))
	}
	identity = domain.NormalizeIdentity(identity)
	if identity.SessionID == "" && identity.AccountID == "" {
		return domain.Identity{}, fmt.Errorf("identity token carries no session or account")
	}
	return identity, nil
}

// identityFromRequest resolves the caller identity. With an authorizer
// configured the bearer token is mandatory; without one the transport
// trusts the identity headers, which is the mode used by tests and
// trusted-network deployments.
func identityFromRequest(r *http.Request, authorizer *IdentityAuthorizer) (domain.Identity, error) {
	if authorizer != nil {
		return authorizer.Verify(bearerToken(r))
	}

	identity := domain.Identity{
		SessionID: strings.TrimSpace(r.Header.Get("X-Session-Id")),
		AccountID: strings.TrimSpace(r.Header.Get("X-Account-Id")),
	}
	for _, asserted := range strings.Split(r.Header.Get("X-Roles"), ",") {
		asserted = strings.TrimSpace(asserted)
		if asserted != "" {
			identity.Roles = append(identity.Roles, role.Role(asserted))
		}
	}
	return domain.NormalizeIdentity(identity), nil
}

func bearerToken(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// WebSocket clients cannot set headers; allow the token as a query
	// parameter on upgrade requests.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func decodeBase64(value string) ([]byte, error) {
	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		decoded, err := encoding.DecodeString(value)
		if err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("value is not valid base64")
}
