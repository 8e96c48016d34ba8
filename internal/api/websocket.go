package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/httpapi"
)

const (
	streamBuffer = 256
	writeTimeout = 5 * time.Second
)

// handleStream upgrades to a WebSocket and relays the match's events as
// JSON text frames until the match reaches a terminal state or the client
// goes away. A match that already finished yields its final status event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.GetMatch(r.Context(), id, false); err != nil {
		http.Error(w, err.Error(), httpapi.StatusFor(err))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept", "match", id, "error", err)
		return
	}
	defer conn.CloseNow()

	subID, events := s.svc.Events().Subscribe(id, streamBuffer)
	defer s.svc.Events().Unsubscribe(subID)
	s.log.Info("stream client subscribed", "match", id, "subID", subID)

	// Subscribing races with completion; re-read after the subscription is
	// in place.
	m, err := s.svc.GetMatch(r.Context(), id, false)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "match lookup failed")
		return
	}
	ctx := conn.CloseRead(r.Context())
	if m.Status.Terminal() {
		final := arena.Event{Type: arena.EventStatus, MatchID: id, Status: m.Status, Error: m.ErrorMessage, Results: m.Results}
		if err := writeEvent(ctx, conn, final); err == nil {
			conn.Close(websocket.StatusNormalClosure, "match finished")
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stream client disconnected", "match", id, "subID", subID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.log.Warn("stream write", "match", id, "error", err)
				return
			}
			if ev.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "match finished")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev arena.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
