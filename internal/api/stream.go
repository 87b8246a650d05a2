package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const keepAliveInterval = 30 * time.Second

// streamEvents writes every refreshed item to the client as a
// server-sent event until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Outcome: "error"})
		return
	}
	events, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt.Item)
			if err != nil {
				s.logger.Error("encode refresh event failed", zap.String("item_id", evt.Item.ID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: refresh\nid: %s\ndata: %s\n\n", evt.Item.ID, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
