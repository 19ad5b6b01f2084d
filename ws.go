package main

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/teamshuffle/internal/broadcast"
	"github.com/Seednode/teamshuffle/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is the only message clients send: {"type":"sync"} asks for
// the current state again.
type clientMessage struct {
	Type string `json:"type"`
}

// serveSocket attaches one push subscriber per websocket connection. The
// first message is always the full current state.
func serveSocket(cfg *Config, coord *session.Coordinator) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).WithField("remote", realIP(r)).Warn("SOCKET: Upgrade failed")
			return
		}

		sub := coord.Subscribe()
		remote := realIP(r)

		logf(cfg, "SOCKET: %s connected (%d subscribers)", remote, coord.Subscribers())

		go writePump(conn, sub)
		readPump(conn, coord, sub)

		logf(cfg, "SOCKET: %s disconnected", remote)
	}
}

func readPump(conn *websocket.Conn, coord *session.Coordinator, sub *broadcast.Subscription) {
	defer func() {
		sub.Cancel()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "sync":
			coord.Resync(sub)
		default:
			// ignore unknown types
		}
	}
}

// writePump forwards events until the subscription closes, which happens
// when the client falls too far behind or the server stops.
func writePump(conn *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"))
				return
			}

			if err := conn.WriteJSON(ev); err != nil {
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
