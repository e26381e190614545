package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexcodex/commander/framework"
)

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = (streamPongWait * 9) / 10
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowedOrigin,
}

// StreamMessage is one websocket frame sent to output subscribers.
type StreamMessage struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Lines   []string `json:"lines,omitempty"`
	Message string   `json:"message,omitempty"`
}

// handleStream upgrades to a websocket that first sends a snapshot of the
// output log and then relays print, clear, and notice events.
func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		s.logger().Printf("stream set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	buffer := s.Runner.Output()
	events, unsubscribe := buffer.Subscribe(256)
	defer unsubscribe()

	notices := make(chan string, 16)
	removeNotifier := s.Runner.AddNotifier(framework.NotifierFunc(func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	}))
	defer removeNotifier()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		defer cancel()
		ticker := time.NewTicker(streamPingEvery)
		defer ticker.Stop()

		write := func(msg StreamMessage) bool {
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
				return false
			}
			return conn.WriteJSON(msg) == nil
		}
		if !write(StreamMessage{Type: "snapshot", Lines: buffer.Lines()}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				msg := StreamMessage{Type: string(evt.Type), Text: evt.Text}
				if !write(msg) {
					return
				}
			case notice := <-notices:
				if !write(StreamMessage{Type: "notice", Message: notice}) {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Inbound frames are ignored; reading keeps pong handling alive and
	// detects client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			<-writerDone
			return
		}
	}
}
