package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/wire"
)

// DefaultBatchCells bounds the number of cells in one query result batch.
const DefaultBatchCells = 50000

// Options configures a Server.
type Options struct {
	// Logger defaults to the package logger.
	Logger *zap.Logger

	// BatchCells bounds the cells per query batch. Rows are never split,
	// so a batch may exceed it by less than one row.
	BatchCells int

	// MaxMessageSize bounds a single incoming request.
	MaxMessageSize int

	// ChunkSize splits requests handed over by a Loopback. Zero passes
	// them whole.
	ChunkSize int

	// OriginPatterns lists hosts allowed to open websocket connections
	// from a browser, in addition to the request host.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = Logger()
	}
	if o.BatchCells <= 0 {
		o.BatchCells = DefaultBatchCells
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = framing.DefaultMaxMessageSize
	}
	return o
}

// Server answers the requests of one client over a byte stream. Requests
// are handled in arrival order; each produces its responses before the
// next is decoded.
//
// Not safe for concurrent use.
type Server struct {
	proc  Processor
	reply func([]byte) error
	log   *zap.Logger
	buf   *framing.Buffer
	opts  Options

	txSeq  int64
	rxSeq  int64
	rxSeen bool
	dead   error
}

// NewServer creates a Server that hands every framed response to reply.
func NewServer(proc Processor, reply func([]byte) error, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		proc:  proc,
		reply: reply,
		log:   opts.Logger,
		buf:   framing.NewBuffer(opts.MaxMessageSize),
		opts:  opts,
	}
}

// OnData consumes a chunk of the request stream. It returns an error once
// the stream is unusable; a fatal error has been sent to the client by then
// when possible.
func (s *Server) OnData(ctx context.Context, chunk []byte) error {
	if s.dead != nil {
		return s.dead
	}
	s.buf.Append(chunk)
	for {
		msg, err := s.buf.ReadMessage()
		if err != nil {
			return s.fatal(err)
		}
		if msg == nil {
			return nil
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) error {
	req, err := wire.DecodeRequest(msg)
	if err != nil {
		return s.fatal(err)
	}
	if s.rxSeen && req.Seq != 0 && req.Seq != s.rxSeq+1 {
		return s.fatal(errors.Desync(s.rxSeq+1, req.Seq))
	}
	s.rxSeq = req.Seq
	s.rxSeen = true

	if ce := s.log.Check(zap.DebugLevel, "request"); ce != nil {
		ce.Write(zap.Int64("seq", req.Seq), zap.Stringer("method", req.Method))
	}

	if req.Args == nil {
		return s.send(wire.InvalidRequest{Requested: req.Method})
	}

	switch a := req.Args.(type) {
	case wire.AppendTraceData:
		total, err := s.proc.AppendTraceData(ctx, a.Data)
		return s.send(wire.AppendResult{TotalBytesParsed: total, Error: errString(err)})

	case wire.FinalizeTraceData:
		return s.send(wire.FinalizeResult{Error: errString(s.proc.FinalizeTraceData(ctx))})

	case wire.QueryArgs:
		return s.query(ctx, a)

	case wire.ComputeMetricArgs:
		out, err := s.proc.ComputeMetric(ctx, a.Names, a.Format)
		return s.send(wire.MetricResult{Metrics: out, Error: errString(err)})

	case wire.EnableMetatraceArgs:
		if err := s.proc.EnableMetatrace(ctx, a.Categories); err != nil {
			return s.fatal(err)
		}
		return s.send(wire.EnableMetatraceResult{})

	case wire.DisableAndReadMetatrace:
		out, err := s.proc.DisableAndReadMetatrace(ctx)
		return s.send(wire.MetatraceResult{Trace: out, Error: errString(err)})

	case wire.RestoreInitialTables:
		if err := s.proc.RestoreInitialTables(ctx); err != nil {
			return s.fatal(err)
		}
		return s.send(wire.RestoreResult{})

	case wire.ResetArgs:
		if err := s.proc.Reset(ctx, a); err != nil {
			return s.fatal(err)
		}
		return s.send(wire.ResetResult{})

	case wire.RegisterSQLPackageArgs:
		return s.send(wire.RegisterSQLPackageResult{Error: errString(s.proc.RegisterSQLPackage(ctx, a))})

	case wire.GetStatus:
		st, err := s.proc.Status(ctx)
		if err != nil {
			return s.fatal(err)
		}
		return s.send(st)
	}
	return s.send(wire.InvalidRequest{Requested: req.Method})
}

func (s *Server) query(ctx context.Context, a wire.QueryArgs) error {
	w := &batchWriter{
		limit: s.opts.BatchCells,
		flush: func(data *wire.QueryResultData) error {
			return s.send(wire.QueryResult{Raw: data.Marshal()})
		},
	}
	stats, qerr := s.proc.Query(ctx, a.SQL, w)
	if qerr != nil {
		s.log.Debug("query failed", zap.String("tag", a.Tag), zap.Error(qerr))
	}
	if s.dead != nil {
		return s.dead
	}
	return w.finish(stats, qerr)
}

func (s *Server) send(resp wire.Response) error {
	if s.dead != nil {
		return s.dead
	}
	msg := framing.Encode(nil, wire.EncodeResponse(s.txSeq, resp))
	s.txSeq++
	if err := s.reply(msg); err != nil {
		s.dead = errors.Transport("reply failed", err)
		return s.dead
	}
	return nil
}

// fatal reports err to the client and stops the server.
func (s *Server) fatal(err error) error {
	if s.dead != nil {
		return s.dead
	}
	s.log.Error("fatal backend error", zap.Error(err))
	msg := framing.Encode(nil, wire.EncodeFatal(s.txSeq, err.Error()))
	s.txSeq++
	if rerr := s.reply(msg); rerr != nil {
		s.log.Warn("cannot deliver fatal error", zap.Error(rerr))
	}
	s.dead = errors.Wrap(errors.PhaseBackend, errors.KindFatal, err, "server stopped")
	return s.dead
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
