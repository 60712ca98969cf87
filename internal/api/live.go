package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamLive sends each detected beat to the client as a server-sent
// event, prefixed with one snapshot of the current detector state so the
// client can render immediately.
func (s *Server) streamLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, beats := s.sampler.SubscribeBeats()
	defer s.sampler.UnsubscribeBeats(id)

	snap, err := json.Marshal(s.sampler.Snapshot())
	if err == nil {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snap)
		flusher.Flush()
	}

	for {
		select {
		case beat, ok := <-beats:
			if !ok {
				return
			}
			payload, err := json.Marshal(beat)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: beat\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
