package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"shotline/internal/domain"
	"shotline/internal/repo"
)

type AuthConfig struct {
	JWTSecret        string
	AllowActorHeader bool
	Logger           *zap.Logger
}

// Principal is the authenticated caller. OrgID is empty for platform
// staff; customer tokens carry the org they belong to.
type Principal struct {
	ActorID string
	Role    domain.Role
	OrgID   string
	Source  string
}

type principalKey struct{}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Org  string `json:"org,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return Principal{}, errors.New("role claim required")
	}
	return Principal{
		ActorID: claims.Subject,
		Role:    role,
		OrgID:   claims.Org,
		Source:  "jwt",
	}, nil
}

// signDevToken mints a short-lived HS256 token for local testing.
func signDevToken(secret, actorID, role, org string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
		},
		Role: role,
		Org:  org,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	hash := repo.HashAPIKey(key)
	apiKey, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return Principal{}, err
	}
	actor, err := r.GetActor(ctx, apiKey.ActorID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		ActorID: actor.ID,
		Role:    actor.Role,
		OrgID:   actor.OrgID,
		Source:  "api_key",
	}, nil
}

// authenticateActorHeader resolves the X-Actor-Id header against the
// actors table so the caller still gets a real role and org.
func authenticateActorHeader(ctx context.Context, r repo.Repo, actorID string) (Principal, error) {
	actor, err := r.GetActor(ctx, actorID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		ActorID: actor.ID,
		Role:    actor.Role,
		OrgID:   actor.OrgID,
		Source:  "actor_header",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := map[string]struct{}{
		path.Join(basePath, "health"):         {},
		path.Join(basePath, "openapi.json"):   {},
		path.Join(basePath, "auth/dev/login"): {},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if _, ok := open[req.URL.Path]; ok {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					cfg.logger().Warn("rejected malformed Authorization header", zap.String("path", req.URL.Path))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Warn("rejected bearer token", zap.String("path", req.URL.Path), zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ctx := withPrincipal(req.Context(), principal)
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					cfg.logger().Warn("rejected api key", zap.String("path", req.URL.Path))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ctx := withPrincipal(req.Context(), principal)
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			if legacyActor != "" && cfg.AllowActorHeader {
				principal, err := authenticateActorHeader(req.Context(), r, legacyActor)
				if err != nil {
					cfg.logger().Warn("rejected actor header", zap.String("actor_id", legacyActor))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "unknown actor", nil))
					return
				}
				cfg.logger().Warn("using X-Actor-Id header without auth; deprecated and ignored when Authorization or X-Api-Key is present",
					zap.String("actor_id", legacyActor))
				ctx := withPrincipal(req.Context(), principal)
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
