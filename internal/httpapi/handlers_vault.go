package httpapi

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) handleListVaultKeys(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	keys, err := s.vault.List(false)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return keys, nil
}

type importVaultKeyRequest struct {
	Name       string `json:"name"`
	PEMKey     string `json:"pem_key"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleImportVaultKey(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req importVaultKeyRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	identity, _ := IdentityFromContext(r)
	var createdBy int64
	if identity != nil {
		createdBy = identity.UserID
	}

	meta, err := s.vault.Import(req.Name, []byte(req.PEMKey), req.Passphrase, createdBy)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.events.Emit(eventInput("vault.key.imported", "vault_key", meta.ID, identity, r))
	return meta, nil
}

func (s *Server) handleDeleteVaultKey(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id := p.ByName("id")
	if err := s.vault.Delete(id); err != nil {
		return nil, trace.Wrap(err)
	}
	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInput("vault.key.deleted", "vault_key", id, identity, r))
	return nil, nil
}
