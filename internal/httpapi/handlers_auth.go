package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/sanitize"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string        `json:"token"`
	User  userSanitized `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req loginRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	username := sanitize.String(req.Username, 128)

	token, user, err := s.authn.Login(username, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		return nil, err
	}
	return loginResponse{Token: token, User: sanitizeUser(user)}, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	if token := bearerFromHeader(r); token != "" {
		_ = s.authn.Logout(token)
	}
	return map[string]string{"status": "ok"}, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	identity, _ := IdentityFromContext(r)
	return identity, nil
}

func bearerFromHeader(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return h
}
