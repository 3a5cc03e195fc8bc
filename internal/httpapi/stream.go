package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/untoldecay/fieldmerge/internal/types"
)

const streamWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// HandleStreamMigration handles GET /api/migrations/{id}/stream. It upgrades
// to a websocket and sends the record as JSON every time its progress
// changes. The server closes the socket once the run is terminal.
func (h *Handler) HandleStreamMigration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.engine.GetMigrationStatus(r.Context(), id)
	if err != nil {
		h.reply(w, r, http.StatusOK, nil, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Warn("websocket upgrade failed", "migration", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// Clients only send close frames; a read error means they left
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	var last *types.MigrationRecord
	for {
		if last == nil || !last.SameProgress(rec) {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Debug("websocket client gone", "migration", id, "error", err)
				return
			}
		}
		last = rec
		if rec.Status.IsTerminal() {
			closeStream(conn, websocket.CloseNormalClosure, string(rec.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if rec, err = h.engine.GetMigrationStatus(ctx, id); err != nil {
			h.logger.Error("stream status read failed", "migration", id, "error", err)
			closeStream(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
	}
}

func closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
