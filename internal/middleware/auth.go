package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/taggov/engine/internal/request"
	"go.uber.org/zap"
)

// TokenVerifier validates a bearer token and resolves the caller.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*request.Principal, error)
}

// JWTVerifier validates tokens against a JWKS endpoint. The key set is
// fetched lazily and cached with automatic refresh.
type JWTVerifier struct {
	cache    *jwk.Cache
	jwksURL  string
	issuer   string
	audience string
}

// NewJWTVerifier creates a verifier backed by a refreshing JWKS cache.
func NewJWTVerifier(ctx context.Context, jwksURL, issuer, audience string) (*JWTVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}
	return &JWTVerifier{
		cache:    cache,
		jwksURL:  jwksURL,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify parses and validates a token, returning the principal carried
// in the sub and org_id claims.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*request.Principal, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseString(token, options...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	actorID, err := uuid.Parse(parsed.Subject())
	if err != nil {
		return nil, fmt.Errorf("sub claim is not a valid actor id")
	}

	orgClaim, ok := parsed.Get("org_id")
	if !ok {
		return nil, fmt.Errorf("token missing org_id claim")
	}
	orgStr, ok := orgClaim.(string)
	if !ok {
		return nil, fmt.Errorf("org_id claim is not a string")
	}
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		return nil, fmt.Errorf("org_id claim is not a valid organization id")
	}

	return &request.Principal{ActorID: actorID, OrganizationID: orgID}, nil
}

// Auth creates authentication middleware that validates bearer tokens
// and attaches the resolved principal to the request context.
func Auth(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			principal, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				logger.Warn("token_verification_failed", zap.Error(err))
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := request.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}

	_ = json.NewEncoder(w).Encode(response)
}
