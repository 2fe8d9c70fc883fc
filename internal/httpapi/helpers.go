package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gravitational/fleetctl/internal/authn"
	"github.com/gravitational/fleetctl/internal/events"
	"github.com/gravitational/fleetctl/internal/model"
)

func eventInputForHost(eventType string, identity *authn.Identity, h *model.Host, r *http.Request) events.EventInput {
	return events.EventInput{
		EventType: eventType, UserRef: userRef(identity), TargetType: "host",
		TargetID: fmt.Sprintf("%d", h.ID), IP: clientIP(r), UserAgent: r.UserAgent(),
		Severity: model.SeverityInfo,
	}
}

func eventInput(eventType, targetType, targetID string, identity *authn.Identity, r *http.Request) events.EventInput {
	return events.EventInput{
		EventType: eventType, UserRef: userRef(identity), TargetType: targetType,
		TargetID: targetID, IP: clientIP(r), UserAgent: r.UserAgent(),
		Severity: model.SeverityInfo,
	}
}

func userRef(identity *authn.Identity) *int64 {
	if identity == nil {
		return nil
	}
	id := identity.UserID
	return &id
}

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
