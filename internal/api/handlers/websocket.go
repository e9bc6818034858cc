package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/booking-manager/backend/internal/logger"
	ws "github.com/booking-manager/backend/internal/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The UI may be served through a reverse proxy on another origin.
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
func WebSocketUpgrade(hub *ws.Hub, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", logger.Error(err))
			return
		}

		client := ws.NewClient(hub)
		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub, log)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, log logger.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("websocket read error", logger.Error(err))
			}
			return
		}

		handleClientMessage(message, client, hub)
	}
}

// handleClientMessage answers client commands. Only ping is understood.
func handleClientMessage(message []byte, client *ws.Client, hub *ws.Hub) {
	var cmd struct {
		Type ws.MessageType `json:"type"`
	}

	reply := ws.NewMessage(ws.TypePong, nil)
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type != ws.TypePing {
		reply = ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unsupported_command",
			Message:      "only ping is supported",
			OriginalType: string(cmd.Type),
		})
	}

	if data, err := reply.JSON(); err == nil {
		hub.SendTo(client, data)
	}
}
