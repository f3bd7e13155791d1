package remote

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/transport"
)

// DefaultChunkSize bounds the payload of one websocket message.
const DefaultChunkSize = 1 << 20

// Options configures a Client.
type Options struct {
	// Logger defaults to the package logger.
	Logger *zap.Logger

	// HTTPHeader is sent with the websocket handshake.
	HTTPHeader http.Header

	// ChunkSize splits outgoing messages. It must not exceed the server's
	// read limit.
	ChunkSize int

	// ReadLimit bounds one incoming websocket message.
	ReadLimit int64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = Logger()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = framing.DefaultMaxMessageSize + framing.MaxHeaderSize
	}
	return o
}

// Client is a transport.Transport talking to a backend over a websocket.
// Each binary message carries one chunk of the stream in either direction.
type Client struct {
	conn   *websocket.Conn
	log    *zap.Logger
	sink   transport.Sink
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	url    string
	opts   Options
	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the backend at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.HTTPHeader})
	if err != nil {
		return nil, errors.Transport("dial "+url, err)
	}
	conn.SetReadLimit(opts.ReadLimit)
	opts.Logger.Debug("connected", zap.String("url", url))
	return &Client{
		conn: conn,
		log:  opts.Logger.With(zap.String("url", url)),
		done: make(chan struct{}),
		url:  url,
		opts: opts,
	}, nil
}

// Initialize starts delivering backend messages to sink.
func (c *Client) Initialize(_ context.Context, sink transport.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != nil {
		return errors.AlreadyInitialized("remote transport")
	}
	if c.closed {
		return errors.Transport("remote transport closed", nil)
	}
	c.sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(ctx)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.abort(errors.Transport("read from "+c.url, err))
			return
		}
		if typ != websocket.MessageBinary {
			c.abort(errors.Transport("unexpected text message from "+c.url, nil))
			return
		}
		c.sink.Deliver(data)
	}
}

// Send writes msg as one or more binary messages.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	sink, failed := c.sink, c.err
	c.mu.Unlock()
	if sink == nil {
		return errors.NotInitialized(errors.PhaseTransport, "remote transport")
	}
	if failed != nil {
		return failed
	}

	for _, chunk := range transport.Chunks(msg, c.opts.ChunkSize) {
		if err := c.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			terr := errors.Transport("write to "+c.url, err)
			c.abort(terr)
			return terr
		}
	}
	return nil
}

// abort records the first failure and reports it to the sink unless the
// client is closing.
func (c *Client) abort(err error) {
	c.mu.Lock()
	if c.err != nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.err = err
	sink := c.sink
	c.mu.Unlock()

	c.log.Warn("remote transport failed", zap.Error(err))
	if sink != nil {
		sink.Abort(err)
	}
}

// Close shuts the connection and waits for the read loop to stop.
func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if cancel != nil {
		cancel()
		<-c.done
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
