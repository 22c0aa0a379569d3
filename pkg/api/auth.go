package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
)

// Capabilities checked by the handlers.
const (
	CapWorkOrdersRead  = "workorders:read"
	CapWorkOrdersWrite = "workorders:write"
	CapBillingRelease  = "billing:release"
	CapBillingOverride = "billing:override"
	CapJobsReport      = "jobs:report"
)

// roleCapabilities maps role claims to capabilities. A role may also name a
// capability directly.
var roleCapabilities = map[string][]string{
	"admin":    {CapWorkOrdersRead, CapWorkOrdersWrite, CapBillingRelease, CapBillingOverride, CapJobsReport},
	"operator": {CapWorkOrdersRead, CapWorkOrdersWrite},
	"viewer":   {CapWorkOrdersRead},
	"billing":  {CapWorkOrdersRead, CapBillingRelease},
	"finance":  {CapWorkOrdersRead, CapBillingRelease, CapBillingOverride},
	"renderer": {CapJobsReport},
}

// Claims are the JWT claims the API expects.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	TenantID string
	Roles    []string
}

// Can reports whether any role grants capability. A principal without roles
// can do nothing.
func (p *Principal) Can(capability string) bool {
	if p == nil {
		return false
	}
	for _, role := range p.Roles {
		if role == capability || slices.Contains(roleCapabilities[role], capability) {
			return true
		}
	}
	return false
}

// Actor is the principal as seen by the services.
func (p *Principal) Actor() contracts.Actor {
	return contracts.Actor{ID: p.Subject, TenantID: p.TenantID, Roles: p.Roles}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Validate parses a token and returns its claims.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, errors.New("validator uninitialized")
	}
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return a.secret, nil })
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return claims, nil
}

// Issue signs a token; used by tests and local tooling.
func (a *Authenticator) Issue(subject, tenantID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware authenticates every request. A nil authenticator rejects all
// requests.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			WriteUnauthorized(w, "Missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		claims, err := a.Validate(strings.TrimSpace(token))
		if err != nil {
			WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		if claims.Subject == "" {
			WriteUnauthorized(w, "Token subject is required")
			return
		}
		if claims.TenantID == "" {
			WriteUnauthorized(w, "Token tenant binding is required")
			return
		}

		p := &Principal{Subject: claims.Subject, TenantID: claims.TenantID, Roles: claims.Roles}
		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.WithTenant(ctx, p.TenantID)
		ctx = logging.WithActor(ctx, p.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects principals lacking capability.
func Require(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				WriteUnauthorized(w, "")
				return
			}
			if !p.Can(capability) {
				WriteForbidden(w, fmt.Sprintf("missing capability %s", capability))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
