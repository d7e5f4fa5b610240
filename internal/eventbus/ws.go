package eventbus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linkpellow/scrapegoat/internal/runlog"
)

// writeWait/pongWait/pingPeriod mirror the donor's websocket client
// keepalive cadence (internal/websocket/client.go).
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP connection to a websocket and streams every
// Bus event to it as one JSON text frame per event, independent of any
// HTTP route the excluded API surface might define (§6: "independent of
// any HTTP route").
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		runlog.Printf(runlog.LevelWarn, "eventbus: websocket upgrade failed: %v", err)
		return
	}

	events, unsubscribe := b.Subscribe(64)
	go b.writePump(conn, events, unsubscribe)
}

func (b *Bus) writePump(conn *websocket.Conn, events <-chan Event, unsubscribe func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = conn.Close()
	}()

	for {
		select {
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := e.Marshal()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
