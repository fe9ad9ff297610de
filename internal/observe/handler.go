package observe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP attaches an observer websocket to the session named by the
// {id} path value. Returns 404 if the session is not live.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok := h.Lookup(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, ok := f.subscribe()
	if !ok {
		return
	}
	defer f.unsubscribe(ch)
	f.log.Info("observer connected", "remote", r.RemoteAddr)

	gone := make(chan struct{})
	go func() {
		readControl(conn, f)
		close(gone)
	}()

	for {
		select {
		case <-gone:
			f.log.Info("observer disconnected", "remote", r.RemoteAddr)
			return
		case frame, open := <-ch:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				f.log.Debug("observer write failed", "error", err)
				return
			}
		}
	}
}

// readControl forwards observer frames to the feed until the socket closes.
func readControl(conn *websocket.Conn, f *Feed) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
			f.log.Warn("bad observer frame")
			continue
		}
		f.Deliver(env)
	}
}
