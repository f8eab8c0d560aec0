package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crowdplay-room-service/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS streams version-tagged state events for one room. The stream skips
// state events at or below the last state version written, so a slow or
// reordered fan-out never rewinds a client. Other event kinds pass through
// unfiltered and never advance that watermark: a reveal publishes a question
// event and its RESULTS state event at the same version, and both must land.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	room, state, err := a.service.RoomSnapshot(roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := a.events.Subscribe(roomID)
	defer cancel()

	// The stream is one-way; reads only detect the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := domain.StateEvent{
		RoomID:  roomID,
		Version: state.Version,
		Kind:    domain.EventRoom,
		Room:    &room,
		State:   &state,
	}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}
	lastStateVersion := state.Version

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Kind == domain.EventState {
				if event.Version <= lastStateVersion {
					continue
				}
				lastStateVersion = event.Version
			}
			if err := conn.WriteJSON(event); err != nil {
				a.logger.Debug("ws write error", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
