// Package signal is the duplex JSON connection to the mentor service.
package signal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/protocol"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 32
)

type Options struct {
	Header       http.Header
	ReadLimit    int64
	PingPeriod   time.Duration // 0 disables keepalive pings
	WriteTimeout time.Duration
	SendBuffer   int
	Dialer       *websocket.Dialer
}

// Handler receives decoded messages in arrival order on the read goroutine.
// It must not call Close.
type Handler func(protocol.Inbound)

// CloseHandler is told about a connection the server or network dropped.
// It is not called after a local Close.
type CloseHandler func(err error)

// Conn is a client websocket connection. All sends go through a bounded
// buffer drained by a single writer goroutine.
type Conn struct {
	url     string
	conn    *websocket.Conn
	send    chan core.Frame
	opts    Options
	handler Handler
	onClose CloseHandler
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool

	// held for the duration of every dispatch
	dispatchMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	writeDone chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

var _ core.SignalConnection = (*Conn)(nil)

// Dial opens the connection and starts its pumps. Failure to open is a
// *core.ConnectionError.
func Dial(ctx context.Context, url string, handler Handler, onClose CloseHandler, opts Options) (*Conn, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("url", url).Msg("dial failed")
		return nil, &core.ConnectionError{URL: url, Err: err}
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:       url,
		conn:      ws,
		send:      make(chan core.Frame, opts.SendBuffer),
		opts:      opts,
		handler:   handler,
		onClose:   onClose,
		logger:    log.With().Str("module", "signal").Str("url", url).Logger(),
		ctx:       pumpCtx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	c.logger.Info().Msg("connected")

	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Conn) URL() string { return c.url }

// Open reports whether sends are currently accepted.
func (c *Conn) Open() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// TrySend queues a raw frame without blocking.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Send encodes and queues msg. A closed connection yields
// *core.NotConnectedError, a full buffer core.ErrBackpressure.
func (c *Conn) Send(msg protocol.Outbound) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	err = c.TrySend(data)
	if errors.Is(err, core.ErrClosed) {
		return &core.NotConnectedError{Op: protocol.TypeOf(msg)}
	}
	return err
}

// Close flushes queued frames, sends a close frame and tears the socket
// down. Once it returns no handler runs. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		first := c.markClosed()

		// wait out an in-flight dispatch
		c.dispatchMu.Lock()
		c.dispatchMu.Unlock()

		if first {
			select {
			case <-c.writeDone:
			case <-time.After(c.opts.WriteTimeout):
				c.logger.Warn().Msg("writer did not drain in time")
			}
		}
		c.cancel()
		// the read pump may already have closed the socket
		if closeErr := c.conn.Close(); first && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
		c.logger.Info().Msg("closed")
	})
	return err
}

// Done is closed once the read goroutine has exited.
func (c *Conn) Done() <-chan struct{} { return c.readDone }

// markClosed stops accepting sends. It reports whether this call did it.
func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
