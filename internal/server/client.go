package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// Client is one WebSocket connection. readPump is the only reader of conn and
// writePump the only writer; everything else reaches the socket through send.
type Client struct {
	id      protocol.ClientID
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	session string
	codec   protocol.Codec

	// currentRoom is guarded by hub.mu.
	currentRoom string

	cfg         *config.Config
	rateLimiter *rateLimiter
}

// NewClient creates a Client for an upgraded connection. The client gets its
// id when the hub registers it.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, codec protocol.Codec) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if codec == nil {
		codec = protocol.JSONCodec{}
	}

	return &Client{
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		hub:         hub,
		addr:        addr,
		session:     uuid.NewString(),
		codec:       codec,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
	}
}

// ID returns the id assigned at registration, or 0 before that.
func (c *Client) ID() protocol.ClientID {
	return c.id
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"client_id": c.id,
		"session":   c.session,
		"addr":      c.addr,
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger().Warnf("error setting initial read deadline: %v", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger().Warnf("error setting read deadline in pong handler: %v", err)
		}
		return nil
	})
}

// handleReadError logs why the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger().Warnf("frame exceeded maximum size of %d bytes", c.cfg.MaxMessageSize)

	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger().Infof("client disconnected: %v", err)

	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		c.logger().Infof("client connection closed: %v", err)

	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger().Warnf("unexpected websocket close: %v", err)

	default:
		c.logger().Warnf("websocket read error: %v", err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger().Debugf("rate limit exceeded (%d frames per %s); discarding frame",
			c.cfg.RateLimit.Burst, c.cfg.RateLimit.RefillInterval)
		c.hub.metrics.Dropped("rate_limited")
		return false
	}
	return true
}

// readPump reads frames until the connection fails or closes, then
// unregisters the client. It is the only path that removes a client.
func (c *Client) readPump() {
	defer func() {
		c.hub.leaveHub(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.hub.submit(c, rawMessage) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger().Warnf("error closing connection: %v", err)
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger().Warnf("error setting write deadline: %v", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(c.codec.FrameType(), message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger().Warnf("error writing frame: %v", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger().Debugf("error writing close message: %v", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger().Warnf("error setting write deadline for ping: %v", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger().Debugf("error writing ping message: %v", err)
		return false
	}
	return true
}
