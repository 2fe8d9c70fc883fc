package httpapi

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/ratelimit"
	"github.com/gravitational/fleetctl/internal/sanitize"
	"github.com/gravitational/fleetctl/internal/store"
)

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	q := r.URL.Query()
	cacheKey := "servers:list:" + q.Encode()
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	page := pageFromQuery(q)
	hosts, err := s.store.ListHosts(q.Get("status"), q.Get("group"), page)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := sanitizeHosts(hosts)
	s.cache.Set(cacheKey, out, ratelimit.TTLServersList)
	return out, nil
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	h, err := s.store.GetHost(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return sanitizeHost(h), nil
}

type createHostRequest struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Port        int      `json:"port"`
	Username    string   `json:"username"`
	Description string   `json:"description"`
	AgentPort   int      `json:"agent_port"`
	Tags        []string `json:"tags"`
	GroupRef    string   `json:"group_ref"`
	SSHKeyPath  string   `json:"ssh_key_path"`
	VaultKeyRef string   `json:"vault_key_ref"`
	Password    string   `json:"password"`
}

func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req createHostRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if !sanitize.ValidHostnameOrIP(req.Address) {
		return nil, trace.BadParameter("invalid address %q", req.Address)
	}
	if !sanitize.ValidPort(req.Port) {
		return nil, trace.BadParameter("invalid port %d", req.Port)
	}

	h := &model.Host{
		Name:           sanitize.String(req.Name, 128),
		Address:        req.Address,
		Port:           req.Port,
		Username:       sanitize.String(req.Username, 64),
		Description:    sanitize.HTML(req.Description),
		AgentPort:      req.AgentPort,
		Tags:           req.Tags,
		GroupRef:       req.GroupRef,
		SSHKeyPath:     req.SSHKeyPath,
		SSHKeyVaultRef: req.VaultKeyRef,
	}
	if req.Password != "" {
		wrapped, err := s.vault.WrapPassword(req.Password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		h.SSHPasswordWrapped = wrapped
	}
	if err := s.store.CreateHost(h); err != nil {
		return nil, trace.Wrap(err)
	}
	s.cache.InvalidatePrefix("servers:list:")

	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInputForHost("server.created", identity, h, r))
	return sanitizeHost(h), nil
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	existing, err := s.store.GetHost(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var req createHostRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if req.Address != "" && !sanitize.ValidHostnameOrIP(req.Address) {
		return nil, trace.BadParameter("invalid address %q", req.Address)
	}
	if req.Port != 0 && !sanitize.ValidPort(req.Port) {
		return nil, trace.BadParameter("invalid port %d", req.Port)
	}

	existing.Name = sanitize.String(req.Name, 128)
	existing.Address = req.Address
	existing.Port = req.Port
	existing.Username = sanitize.String(req.Username, 64)
	existing.Description = sanitize.HTML(req.Description)
	existing.AgentPort = req.AgentPort
	existing.Tags = req.Tags
	existing.GroupRef = req.GroupRef
	existing.SSHKeyPath = req.SSHKeyPath
	existing.SSHKeyVaultRef = req.VaultKeyRef
	existing.SSHPasswordWrapped = nil
	if req.Password != "" {
		wrapped, err := s.vault.WrapPassword(req.Password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		existing.SSHPasswordWrapped = wrapped
	}

	if err := s.store.UpdateHost(existing); err != nil {
		return nil, trace.Wrap(err)
	}
	s.cache.InvalidatePrefix("servers:list:")

	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInputForHost("server.updated", identity, existing, r))
	return sanitizeHost(existing), nil
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteHost(id); err != nil {
		return nil, trace.Wrap(err)
	}
	s.cache.InvalidatePrefix("servers:list:")

	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInputForHost("server.deleted", identity, &model.Host{ID: id}, r))
	return nil, nil
}

func (s *Server) handleExportHostsCSV(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	body, err := s.store.ExportHostsCSV()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	writeCSV(w, "servers.csv", body)
	return nil, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, trace.BadParameter("invalid id %q", raw)
	}
	return id, nil
}

func pageFromQuery(q url.Values) store.Page {
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return store.Page{Limit: limit, Offset: offset}
}
