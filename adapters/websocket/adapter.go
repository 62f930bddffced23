package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"achievekit/core"
	"achievekit/realtime"
)

const writeTimeout = 5 * time.Second

// Handler returns an http.Handler that upgrades to WebSocket and streams bus
// events from the hub. A ?user_id= query parameter narrows the stream to one
// learner's events.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var (
			id int
			ch <-chan core.BusEvent
		)
		if user := r.URL.Query().Get("user_id"); user != "" {
			id, ch = hub.SubscribeUser(256, core.UserID(user))
		} else {
			id, ch = hub.Subscribe(256)
		}
		defer hub.Unsubscribe(id)

		for ev := range ch {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
				return
			}
		}
	})
}
