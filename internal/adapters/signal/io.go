package signal

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/protocol"
)

func (c *Conn) writePump() {
	defer close(c.writeDone)

	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if !ok {
				// local close: say goodbye
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
					c.logger.Debug().Err(err).Msg("writePump close frame")
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				// the read side notices the broken socket
				_ = c.conn.Close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Warn().Err(err).Msg("writePump ping")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer close(c.readDone)

	if c.opts.PingPeriod > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		if c.opts.PingPeriod > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		}
		c.handleFrame(data)
	}
}

// pongWait allows one missed pong before the peer is considered gone.
func (c *Conn) pongWait() time.Duration { return 2 * c.opts.PingPeriod }

func (c *Conn) handleFrame(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("skipping undecodable frame")
		return
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if !c.Open() {
		return
	}
	if c.handler != nil {
		c.handler(msg)
	}
}

func (c *Conn) readFailed(err error) {
	unexpected := c.markClosed()
	c.cancel()
	_ = c.conn.Close()
	if !unexpected {
		c.logger.Debug().Err(err).Msg("readPump stopped after close")
		return
	}

	c.logger.Error().Err(err).Msg("connection lost")
	if c.onClose != nil {
		c.onClose(&core.ConnectionError{URL: c.url, Unexpected: true, Err: err})
	}
}
