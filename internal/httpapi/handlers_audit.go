package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/store"
)

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	f := auditFilterFromQuery(r.URL.Query())
	rows, err := s.store.ListAuditLogs(f, pageFromQuery(r.URL.Query()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rows, nil
}

func (s *Server) handleExportAuditLogsCSV(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	body, err := s.store.ExportAuditLogsCSV(auditFilterFromQuery(r.URL.Query()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	writeCSV(w, "audit.csv", body)
	return nil, nil
}

func auditFilterFromQuery(q url.Values) store.AuditFilter {
	var f store.AuditFilter
	if action := q.Get("action"); action != "" {
		f.Action = action
	}
	if userRef := q.Get("user_ref"); userRef != "" {
		if n, err := strconv.ParseInt(userRef, 10, 64); err == nil {
			f.UserRef = &n
		}
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = &t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			f.Until = &t
		}
	}
	return f
}
