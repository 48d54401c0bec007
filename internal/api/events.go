package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/linqmd/voice-onboarding/internal/domain"
)

const eventWriteTimeout = 5 * time.Second

// SessionEvent is one snapshot pushed over the event stream after a state
// change on the session.
type SessionEvent struct {
	SessionID    string                `json:"session_id"`
	Status       string                `json:"status"`
	FieldsStatus []*domain.FieldStatus `json:"fields_status"`
	IsComplete   bool                  `json:"is_complete"`
	TurnCount    int                   `json:"turn_count"`
	Timestamp    time.Time             `json:"ts"`
}

// EventHub fans session snapshots out to websocket subscribers. A session
// may have multiple subscribers (e.g. an operator console next to the
// caller's own client); each gets every event. Slow subscribers are
// disconnected rather than buffered without bound.
type EventHub struct {
	mu            sync.RWMutex
	subscribers   map[string]map[chan SessionEvent]struct{}
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewEventHub creates the hub. allowedOrigin guards the websocket upgrade
// outside development.
func NewEventHub(allowedOrigin string, isDev bool, logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		subscribers:   make(map[string]map[chan SessionEvent]struct{}),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// Publish implements voice.EventPublisher. It never blocks: a subscriber
// whose buffer is full misses the event and catches up on the next one.
func (h *EventHub) Publish(session *domain.Session) {
	event := SessionEvent{
		SessionID:    session.ID,
		Status:       string(session.Status),
		FieldsStatus: session.Fields,
		IsComplete:   session.IsComplete(),
		TurnCount:    session.TurnCount,
		Timestamp:    time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[session.ID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) subscribe(sessionID string) chan SessionEvent {
	ch := make(chan SessionEvent, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[chan SessionEvent]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

func (h *EventHub) unsubscribe(sessionID string, ch chan SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[sessionID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
}

// Serve upgrades the request and streams events for one session until the
// client disconnects.
func (h *EventHub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ch := h.subscribe(sessionID)
	defer h.unsubscribe(sessionID, ch)

	h.logger.Info("event stream opened", "session_id", sessionID)

	ctx := r.Context()
	// Read loop only drains control frames; the stream is server to client.
	go func() {
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if err := h.writeEvent(ctx, ws, event); err != nil {
				h.logger.Debug("event write failed", "error", err, "session_id", sessionID)
				return
			}
			if domain.SessionStatus(event.Status).Terminal() {
				return
			}
		}
	}
}

func (h *EventHub) writeEvent(ctx context.Context, ws *websocket.Conn, event SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (h *EventHub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	return origin == h.allowedOrigin
}
