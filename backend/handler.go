package backend

import (
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/framing"
)

// Handler serves the RPC protocol over websocket connections. Each binary
// message is a chunk of the request stream. Every connection gets its own
// Server, so sequence numbers restart at 0, while the processor is shared
// and used by one connection at a time.
type Handler struct {
	proc Processor
	log  *zap.Logger
	opts Options
	mu   sync.Mutex
}

// NewHandler creates a websocket handler over proc.
func NewHandler(proc Processor, opts Options) *Handler {
	opts = opts.withDefaults()
	return &Handler{proc: proc, log: opts.Logger, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// A chunk never exceeds one framed message.
	conn.SetReadLimit(int64(h.opts.MaxMessageSize) + framing.MaxHeaderSize)

	ctx := r.Context()
	log := h.log.With(zap.String("remote", r.RemoteAddr))
	log.Debug("client connected")

	srv := NewServer(h.proc, func(msg []byte) error {
		return conn.Write(ctx, websocket.MessageBinary, msg)
	}, Options{
		Logger:         log,
		BatchCells:     h.opts.BatchCells,
		MaxMessageSize: h.opts.MaxMessageSize,
	})

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("client disconnected")
			default:
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageBinary {
			_ = conn.Close(websocket.StatusUnsupportedData, "binary messages only")
			return
		}

		h.mu.Lock()
		err = srv.OnData(ctx, data)
		h.mu.Unlock()
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "backend stopped")
			return
		}
	}
}
