package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals any other verification failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the verified subset of a bearer token.
type Claims struct {
	Subject string
	Email   string
	Roles   []string
}

// TokenVerifier verifies bearer tokens against exactly one key source.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
	Method() string
}

// ClaimOptions constrains the registered claims every verifier checks.
type ClaimOptions struct {
	Issuer    string
	Audience  string
	RoleClaim string
	Now       func() time.Time
}

func (o ClaimOptions) withDefaults() ClaimOptions {
	if strings.TrimSpace(o.RoleClaim) == "" {
		o.RoleClaim = defaultRoleClaim
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// HMACVerifier verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	opts   ClaimOptions
}

var _ TokenVerifier = (*HMACVerifier)(nil)

// NewHMACVerifier constructs a verifier for the given shared secret.
func NewHMACVerifier(secret string, opts ClaimOptions) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: hmac secret is required")
	}
	return &HMACVerifier{secret: []byte(secret), opts: opts.withDefaults()}, nil
}

func (v *HMACVerifier) Method() string { return "hmac" }

func (v *HMACVerifier) Verify(_ context.Context, raw string) (Claims, error) {
	return parseJWT(raw, v.opts, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
}

// parseJWT validates signature, a mandatory exp and the configured issuer/audience, then extracts claims.
func parseJWT(raw string, opts ClaimOptions, keyfunc jwt.Keyfunc) (Claims, error) {
	parser := jwt.Parser{SkipClaimsValidation: true}
	mapClaims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(raw, mapClaims, keyfunc)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if _, ok := mapClaims["exp"]; !ok {
		return Claims{}, fmt.Errorf("%w: exp claim missing", ErrTokenInvalid)
	}
	now := opts.Now().Unix()
	if !mapClaims.VerifyExpiresAt(now, true) {
		return Claims{}, ErrTokenExpired
	}
	if !mapClaims.VerifyNotBefore(now, false) {
		return Claims{}, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if opts.Issuer != "" && !mapClaims.VerifyIssuer(opts.Issuer, true) {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if opts.Audience != "" && !mapClaims.VerifyAudience(opts.Audience, true) {
		return Claims{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	return claimsFromMap(mapClaims, "", opts.RoleClaim)
}

func claimsFromMap(claims map[string]any, subject, roleClaim string) (Claims, error) {
	if subject == "" {
		subject = claimAsString(claims, "sub")
	}
	if strings.TrimSpace(subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	roles := rolesFromClaims(claims, roleClaim)
	if len(roles) == 0 && roleClaim != "roles" {
		roles = rolesFromClaims(claims, "roles")
	}
	return Claims{
		Subject: strings.TrimSpace(subject),
		Email:   claimAsString(claims, "email"),
		Roles:   roles,
	}, nil
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var values []string
	switch v := claims[key].(type) {
	case string:
		values = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case []string:
		values = v
	case map[string]any:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				values = append(values, role)
			}
		}
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
