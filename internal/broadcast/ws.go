package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jensholdgaard/draft-auction/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client streams one scope's events to a websocket connection. The stream is
// output only; inbound messages are read and discarded to process control
// frames.
type Client struct {
	conn   *websocket.Conn
	sub    *Subscription
	logger *slog.Logger
}

// NewClient returns a Client writing sub's events to conn.
func NewClient(conn *websocket.Conn, sub *Subscription, logger *slog.Logger) *Client {
	return &Client{conn: conn, sub: sub, logger: logger}
}

// Serve writes snapshot, then every live event newer than it, until the
// peer disconnects, the subscription is evicted or ctx is cancelled. The
// subscription and connection are closed on return.
func (c *Client) Serve(ctx context.Context, snapshot event.Event) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, snapshot)
	}()

	c.readPump()
	cancel()
	c.sub.Close()
	<-done
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context, snapshot event.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if err := c.write(snapshot); err != nil {
		return
	}
	for {
		select {
		case e, ok := <-c.sub.C:
			if !ok {
				// Evicted or closed: tell the peer to refetch state.
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "fell behind; refetch state"))
				return
			}
			if e.Sequence <= snapshot.Sequence {
				continue
			}
			if err := c.write(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (c *Client) write(e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("marshalling event", slog.Any("error", err))
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Debug("websocket write failed", slog.Any("error", err))
		return err
	}
	return nil
}
