package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/inventory"
)

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	latest, err := s.store.GetHostInventoryLatest(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var facts map[string]interface{}
	if err := json.Unmarshal([]byte(latest.JSON), &facts); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"collected_at": latest.CollectedAt, "facts": facts}, nil
}

func (s *Server) handleRefreshInventory(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	host, err := s.store.GetHost(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	creds, err := s.resolveCredentials(host)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	facts, err := s.inventory.Collect(r.Context(), host, creds, inventory.Options{})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInputForHost("inventory.refreshed", identity, host, r))
	return facts, nil
}
