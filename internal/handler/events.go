package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/middleware"
	"github.com/smeportal/onboarding-server/internal/sse"
)

// ClientKeyer maps a client token to the key its events are published under.
type ClientKeyer interface {
	ClientKey(token string) string
}

// EventsHandler streams session lifecycle events to the browser so the UI
// can react to idle timeout, expiry and revocation without polling.
type EventsHandler struct {
	broker    *sse.Broker
	keys      ClientKeyer
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker, keys ClientKeyer) *EventsHandler {
	return &EventsHandler{broker: broker, keys: keys, heartbeat: sse.HeartbeatInterval}
}

// GET /api/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetClientToken(r.Context())
	a := middleware.GetAuthenticator(r.Context())
	if token == "" || a == nil {
		writeError(w, apperrors.Unauthorized("No client session"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	key := h.keys.ClientKey(token)
	client := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(client)

	log.Debug().Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{"state": a.State()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Debug().Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Warn().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				log.Debug().Err(err).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
