package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/mtr002/thumbnail-queue/internal/logger"
)

func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// BroadcastJobUpdate sends {"type":"job_update","data":job} to every client
func BroadcastJobUpdate(hub *Hub, job any) {
	message, err := json.Marshal(map[string]any{
		"type": "job_update",
		"data": job,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to marshal job update")
		return
	}

	hub.Broadcast(message)
}
