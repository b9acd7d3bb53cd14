package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// inbound is the only message shape clients send.
type inbound struct {
	Event string `json:"event"`
}

// Handler bridges the Hub onto a WebSocket endpoint. current supplies
// the update describing the published snapshot; it answers client
// request_update events without triggering a refresh and may return nil
// when nothing has been collected yet.
func Handler(hub *Hub, current func() *Update, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "ws").Logger()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		// The HTTP surface is open; origin policy is enforced by the CORS
		// layer in front of it.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		id, updates := hub.Subscribe()
		defer hub.Unsubscribe(id)

		welcome, _ := json.Marshal(Update{Event: "connected", Data: map[string]string{"client_id": id}})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			conn.Close()
			return
		}

		// Replies to this client only; broadcasts go through the hub.
		direct := make(chan Update, 2)
		done := make(chan struct{})
		go readLoop(conn, current, direct, done)
		writeLoop(conn, updates, direct, done, log)
		conn.Close()
	}
}

func readLoop(conn *websocket.Conn, current func() *Update, direct chan<- Update, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event == "request_update" && current != nil {
			if u := current(); u != nil {
				select {
				case direct <- *u:
				default:
				}
			}
		}
	}
}

func writeLoop(conn *websocket.Conn, updates <-chan Update, direct <-chan Update, done <-chan struct{}, log zerolog.Logger) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	send := func(u Update) bool {
		data, err := json.Marshal(u)
		if err != nil {
			log.Error().Err(err).Str("event", u.Event).Msg("failed to encode update")
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !send(u) {
				return
			}
		case u := <-direct:
			if !send(u) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
