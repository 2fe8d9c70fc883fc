package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	q := r.URL.Query()
	var hostRef int64
	if v := q.Get("host_id"); v != "" {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		hostRef = id
	}
	unreadOnly, _ := strconv.ParseBool(q.Get("unread_only"))
	alerts, err := s.store.ListAlerts(hostRef, unreadOnly, pageFromQuery(q))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return alerts, nil
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id, err := parseID(p.ByName("id"))
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkAlertRead(id); err != nil {
		return nil, trace.Wrap(err)
	}
	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInput("alert.acknowledged", "alert", p.ByName("id"), identity, r))
	return nil, nil
}

func (s *Server) handleExportAlertsCSV(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var hostRef int64
	if v := r.URL.Query().Get("host_id"); v != "" {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		hostRef = id
	}
	body, err := s.store.ExportAlertsCSV(hostRef)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	writeCSV(w, "alerts.csv", body)
	return nil, nil
}
