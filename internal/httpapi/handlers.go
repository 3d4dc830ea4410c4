package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/snake-relay/internal/relay"
	"github.com/DoyleJ11/snake-relay/internal/types"
	"github.com/DoyleJ11/snake-relay/internal/ws"
)

const askTimeout = 2 * time.Second

// ask sends a request built around reply and waits for the relay to answer.
func ask[T any](ctx context.Context, inbox ws.Inbox, build func(chan T) relay.Msg) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	reply := make(chan T, 1)
	if !inbox.Send(ctx, build(reply)) {
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-ctx.Done():
		return zero, false
	}
}

// Stats serves the most recent BotStats document.
func Stats(inbox ws.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := ask(r.Context(), inbox, func(c chan []byte) relay.Msg { return relay.GetStats{Reply: c} })
		if !ok || doc == nil {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(doc)
	}
}

func Healthz(inbox ws.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := ask(r.Context(), inbox, func(c chan relay.View) relay.Msg { return relay.GetState{Reply: c} })
		if !ok {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(types.StatusResponse{
			Status:      "ok",
			Subscribers: view.NumSubscribers,
			FrameID:     view.FrameID,
			Bots:        view.NumBots,
			Food:        view.NumFood,
		})
	}
}
