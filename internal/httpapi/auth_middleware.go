package httpapi

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/authn"
)

// withAuth mirrors lib/auth/apiserver.go's withAuth: it resolves the
// caller's Identity before the wrapped handler runs, rejecting the
// request with 401 on failure. Unlike the teacher, the resolved
// identity is attached to the request context rather than threaded as
// an explicit parameter, so authenticated handlers keep the plain
// HandlerFunc signature. The identity is set only on the request passed
// down to fn; middleware outside the router (accessLog) does not see it.
func (s *Server) withAuth(fn HandlerFunc) httprouter.Handle {
	return MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		identity, err := s.authn.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			return nil, err
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		return fn(w, r.WithContext(ctx), p)
	})
}

// requirePermission further restricts withAuth to callers holding perm.
func (s *Server) requirePermission(perm string, fn HandlerFunc) httprouter.Handle {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		identity, _ := IdentityFromContext(r)
		if identity == nil || !authn.HasPermission(identity.Permissions, perm) {
			return nil, forbidden(perm)
		}
		return fn(w, r, p)
	})
}
