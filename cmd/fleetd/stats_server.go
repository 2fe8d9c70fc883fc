package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/gravitational/fleetctl/internal/obslog"
	"github.com/gravitational/fleetctl/internal/stats"
)

var statsLog = obslog.New(obslog.Component("cmd/fleetd/stats"))

var statsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type statsInFrame struct {
	Type      string  `json:"type"`
	ServerIDs []int64 `json:"server_ids"`
}

// statsServer upgrades stats WebSocket connections and drives their
// read loop (ping/pong, subscribe), per spec.md §6's stats protocol.
// The broadcaster itself owns the write side via its ticker.
type statsServer struct {
	broadcaster  *stats.Broadcaster
	intervalSecs int
}

func (s *statsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := statsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		statsLog.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := s.broadcaster.Register(conn)
	defer s.broadcaster.Unregister(c)

	if err := conn.WriteJSON(map[string]any{
		"type": "connection", "status": "connected", "update_interval": s.intervalSecs,
	}); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f statsInFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch f.Type {
		case "ping":
			conn.WriteJSON(map[string]string{"type": "pong"})
		case "subscribe":
			c.Subscribe(f.ServerIDs)
			subscribedTo := any("all")
			if f.ServerIDs != nil {
				subscribedTo = f.ServerIDs
			}
			conn.WriteJSON(map[string]any{
				"type": "subscription_updated", "subscribed_to": subscribedTo,
			})
		}
	}
}
