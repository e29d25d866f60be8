package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hanko-field/checkout/internal/platform/config"
)

const (
	defaultRoleClaim    = "role"
	defaultFallbackRole = RoleUser
)

// NewVerifier picks the single key source configured in cfg. There is no fallback secret: a
// configuration with zero or several sources is rejected.
func NewVerifier(ctx context.Context, cfg config.AuthConfig, firebaseCfg config.FirebaseConfig) (TokenVerifier, error) {
	opts := ClaimOptions{Issuer: cfg.Issuer, Audience: cfg.Audience}
	switch cfg.Mode() {
	case "hmac":
		return NewHMACVerifier(cfg.HMACSecret, opts)
	case "jwks":
		return NewJWKSVerifier(NewJWKSCache(cfg.JWKSURL), opts)
	case "firebase":
		return NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, firebaseCfg.CredentialsFile, opts)
	default:
		return nil, errors.New("auth: no token key source configured")
	}
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	fallbackRole string
	after        []func(http.Handler) http.Handler
}

// AuthenticatorOption customises an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAuthenticatedMiddleware runs mw, in order, after a request has been authenticated.
func WithAuthenticatedMiddleware(mw ...func(http.Handler) http.Handler) AuthenticatorOption {
	return func(a *Authenticator) {
		a.after = append(a.after, mw...)
	}
}

// NewAuthenticator constructs the middleware factory around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{verifier: verifier, fallbackRole: defaultFallbackRole}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequireAuth verifies the Authorization bearer token. When allowedRoles is non-empty the identity
// must carry at least one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		if a != nil {
			for i := len(a.after) - 1; i >= 0; i-- {
				next = a.after[i](next)
			}
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			claims, err := a.verifier.Verify(r.Context(), raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					respondAuthError(w, http.StatusUnauthorized, "token_expired", "bearer token expired")
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "bearer token invalid")
				return
			}

			identity := &Identity{
				UserID: claims.Subject,
				Email:  claims.Email,
				Roles:  claims.Roles,
				Method: a.verifier.Method(),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{a.fallbackRole}
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
