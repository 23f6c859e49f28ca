package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// handleSSE serves /events: one snapshot event, then one event frame per
// message until the client disconnects.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.rateLimiter.Allow(clientKey(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	st, err := newStream(s, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := st.open(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer st.close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	data, _ := json.Marshal(snapshot)
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	flusher.Flush()

	slog.Info("stream connected", "transport", "sse", "agent", st.agent.ID())

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-st.sub.C():
			if !ok {
				return
			}
			if d.Seq <= st.lastSeq || !st.allow(ctx, d.Event) {
				continue
			}
			data, err := json.Marshal(frame(d))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", d.Seq, data)
			flusher.Flush()
		}
	}
}
