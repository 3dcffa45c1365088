package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is one admin feed connection. A client with an identity only
// receives events for that account and ledger-wide events.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	identity string
	send     chan []byte
}

// NewClient creates a Client for conn. identity may be empty to follow
// every account.
func NewClient(hub *Hub, conn *ws.Conn, identity string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
	}
}

func (c *Client) wants(msg Message) bool {
	if c.identity == "" || msg.Account == nil {
		return true
	}
	return msg.Account.Identity == c.identity
}

// Run subscribes the client and streams messages until the peer goes away
// or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.stream(ctx)
		cancel()
	}()
	c.drain(ctx)
}

// drain consumes inbound frames so control frames (pong, close) are
// processed. Admin clients have nothing to say.
func (c *Client) drain(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) stream(ctx context.Context) {
	keepalive := time.NewTicker(pingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.hub.logger.Debug("feed ping failed", "identity", c.identity, "error", err)
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
