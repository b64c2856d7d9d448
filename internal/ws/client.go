package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/models"
)

// Client is one dashboard socket. The hub owns its lifecycle; readPump and
// writePump run for as long as the connection lives.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	tenant models.TenantContext
	rooms  []string
	logger *logrus.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, tenant models.TenantContext, logger *logrus.Logger) *Client {
	rooms := []string{TeamRoom(tenant.TeamID)}
	if tenant.UserID != "" {
		rooms = append(rooms, UserRoom(tenant.UserID))
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, constants.WSSendBufferSize),
		tenant: tenant,
		rooms:  rooms,
		logger: logger,
	}
}

// readPump drains inbound frames so pong handling stays alive. Dashboards do
// not send commands; anything received is discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.WSMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
	}
}

// writePump flushes queued events and pings on a fixed cadence. A closed
// send channel means the hub dropped this client; send a close frame and
// exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WSPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
