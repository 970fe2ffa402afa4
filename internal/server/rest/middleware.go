package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/auth"
)

type ctxKey string

const identityKey ctxKey = "identity"

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*auth.Identity)
	return id, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeaderName)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *HTTPServer) authenticate(r *http.Request) (*auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	return auth.ParseToken(token, s.jwtSecret)
}

func writeAuthError(w http.ResponseWriter, err error) {
	msg := "invalid token"
	if errors.Is(err, common.ErrTokenExpired) {
		msg = "token expired"
	}
	WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", msg, nil)
}

// requireIdentity rejects requests without a valid bearer JWT.
func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if id == nil {
			WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// optionalIdentity attaches the caller when a token is present. A present but
// invalid token is still rejected.
func (s *HTTPServer) optionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if id != nil {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
		}
		next.ServeHTTP(w, r)
	})
}
