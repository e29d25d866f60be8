package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubVerifier struct {
	claims   Claims
	err      error
	received string
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (Claims, error) {
	s.received = raw
	return s.claims, s.err
}

func (s *stubVerifier) Method() string { return "stub" }

func serve(t *testing.T, authn *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := authn.RequireAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func decodeAuthError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	verifier := &stubVerifier{claims: Claims{Subject: "user-1", Email: "ama@example.com"}}
	rec, identity := serve(t, NewAuthenticator(verifier), "Bearer token-abc")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected raw token forwarded, got %q", verifier.received)
	}
	if identity.UserID != "user-1" || identity.Email != "ama@example.com" || identity.Method != "stub" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.HasRole(RoleUser) {
		t.Fatalf("expected fallback user role, got %v", identity.Roles)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		header   string
		roles    []string
		status   int
		code     string
	}{
		{"missing header", &stubVerifier{}, "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"wrong scheme", &stubVerifier{}, "Basic abc", nil, http.StatusUnauthorized, "unauthenticated"},
		{"empty token", &stubVerifier{}, "Bearer   ", nil, http.StatusUnauthorized, "unauthenticated"},
		{"expired", &stubVerifier{err: fmt.Errorf("%w: old", ErrTokenExpired)}, "Bearer t", nil, http.StatusUnauthorized, "token_expired"},
		{"invalid", &stubVerifier{err: ErrTokenInvalid}, "Bearer t", nil, http.StatusUnauthorized, "invalid_token"},
		{"missing role", &stubVerifier{claims: Claims{Subject: "user-1"}}, "Bearer t", []string{RoleStaff, RoleAdmin}, http.StatusForbidden, "insufficient_role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, identity := serve(t, NewAuthenticator(tc.verifier), tc.header, tc.roles...)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if identity != nil {
				t.Fatalf("handler should not run")
			}
			if code := decodeAuthError(t, rec); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestRequireAuthAllowsStaffRole(t *testing.T) {
	verifier := &stubVerifier{claims: Claims{Subject: "ops-1", Roles: []string{"admin"}}}
	rec, identity := serve(t, NewAuthenticator(verifier), "bearer t", RoleStaff, "ADMIN")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !identity.HasAnyRole(RoleAdmin) {
		t.Fatalf("expected admin role, got %v", identity.Roles)
	}
}

func TestRequireAuthWithoutVerifier(t *testing.T) {
	rec, _ := serve(t, NewAuthenticator(nil), "Bearer t")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatedMiddlewareRunsAfterVerification(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := IdentityFromContext(r.Context()); !ok {
					t.Errorf("%s ran before identity was attached", name)
				}
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	verifier := &stubVerifier{claims: Claims{Subject: "user-1"}}
	authn := NewAuthenticator(verifier, WithAuthenticatedMiddleware(mark("first"), mark("second")))
	rec, _ := serve(t, authn, "Bearer t")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected order %v", order)
	}

	order = nil
	rec, _ = serve(t, authn, "")
	if rec.Code != http.StatusUnauthorized || len(order) != 0 {
		t.Fatalf("expected rejection before post-auth middleware, got %d %v", rec.Code, order)
	}
}
