package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/sanitize"
)

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	webhooks, err := s.store.ListWebhooks()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return sanitizeWebhooks(webhooks), nil
}

type webhookRequest struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	Enabled    bool     `json:"enabled"`
	EventTypes []string `json:"event_types"`
	RetryMax   int      `json:"retry_max"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req webhookRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, trace.BadParameter("url is required")
	}

	wh := &model.Webhook{
		ID: uuid.NewString(), Name: sanitize.String(req.Name, 128), URL: req.URL,
		Secret: req.Secret, Enabled: req.Enabled, EventTypes: req.EventTypes,
		RetryMax: req.RetryMax, Timeout: 5 * time.Second,
	}
	identity, _ := IdentityFromContext(r)
	if identity != nil {
		wh.CreatedBy = identity.UserID
	}
	if err := s.store.CreateWebhook(wh); err != nil {
		return nil, trace.Wrap(err)
	}
	s.events.Emit(eventInput("webhook.created", "webhook", wh.ID, identity, r))
	return sanitizeWebhook(wh), nil
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	wh, err := s.store.GetWebhook(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req webhookRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	wh.Name = sanitize.String(req.Name, 128)
	wh.URL = req.URL
	if req.Secret != "" {
		wh.Secret = req.Secret
	}
	wh.Enabled = req.Enabled
	wh.EventTypes = req.EventTypes
	wh.RetryMax = req.RetryMax

	if err := s.store.UpdateWebhook(wh); err != nil {
		return nil, trace.Wrap(err)
	}
	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInput("webhook.updated", "webhook", wh.ID, identity, r))
	return sanitizeWebhook(wh), nil
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id := p.ByName("id")
	if err := s.store.DeleteWebhook(id); err != nil {
		return nil, trace.Wrap(err)
	}
	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInput("webhook.deleted", "webhook", id, identity, r))
	return nil, nil
}
