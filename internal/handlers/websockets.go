package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"imagedetect/internal/logger"
	ws "imagedetect/internal/services/websocket"
)

const (
	viewerPongWait = 60 * time.Second
	pingWriteWait  = 10 * time.Second
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers the connection with the hub so the viewer
// receives detection events. Incoming messages are ignored.
func ViewWebsocketHandler(hub *ws.HubService, logger *logger.Logger) gin.HandlerFunc {
	return viewWebsocketHandler(hub, logger, viewerPongWait)
}

// viewWebsocketHandler pings the viewer every 9/10 of pongWait and drops it
// when no pong arrives within pongWait.
func viewWebsocketHandler(hub *ws.HubService, logger *logger.Logger, pongWait time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		connection, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		done := make(chan struct{})
		defer close(done)
		go keepAlive(connection, pongWait*9/10, done, logger)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer disconnected: %v", err)
				break
			}
		}
	}
}

// keepAlive pings the viewer until done is closed or a ping fails.
// WriteControl may run alongside the hub's writes.
func keepAlive(connection *websocket.Conn, pingPeriod time.Duration, done <-chan struct{}, logger *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				logger.Debug("Viewer ping failed: %v", err)
				return
			}
		}
	}
}
