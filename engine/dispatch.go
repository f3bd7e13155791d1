package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// dispatch handles one decoded message. It returns false once the engine
// has failed and further messages must be ignored.
func (e *Engine) dispatch(msg []byte) bool {
	fr, err := wire.DecodeFrame(msg)
	if err != nil {
		e.fail(errors.CorruptStream(err))
		return false
	}
	if fr.FatalError != "" {
		e.fail(errors.Fatal(fr.FatalError))
		return false
	}

	e.mu.Lock()
	if e.failed != nil || e.closed {
		e.mu.Unlock()
		return false
	}
	// A backend that restarted numbering is accepted once it starts at 0,
	// which happens when attaching to a live remote instance.
	if e.rxSeen && fr.Seq != 0 && fr.Seq != e.rxSeq+1 {
		expected := e.rxSeq + 1
		e.mu.Unlock()
		e.fail(errors.Desync(expected, fr.Seq))
		return false
	}
	e.rxSeq = fr.Seq
	e.rxSeen = true

	if ce := e.log.Check(zap.DebugLevel, "receive"); ce != nil {
		ce.Write(zap.Int64("seq", fr.Seq), zap.Stringer("method", fr.Response.Method()))
	}

	var failure error
	switch r := fr.Response.(type) {
	case wire.InvalidRequest:
		failure = errors.Fatal("backend rejected request " + r.Requested.String())

	case wire.QueryResult:
		if len(e.queries) == 0 {
			failure = unexpected(r)
			break
		}
		res := e.queries[0]
		terminal, err := res.AppendBatch(r.Raw)
		if err != nil {
			failure = errors.CorruptStream(err)
			break
		}
		if terminal {
			e.queries[0] = nil
			e.queries = e.queries[1:]
			e.inflight--
		}

	case wire.AppendResult, wire.FinalizeResult, wire.MetricResult,
		wire.EnableMetatraceResult, wire.MetatraceResult, wire.RestoreResult,
		wire.ResetResult, wire.StatusResult, wire.RegisterSQLPackageResult:
		method := r.Method()
		waiters := e.pending[method]
		if len(waiters) == 0 {
			failure = unexpected(r)
			break
		}
		ch := waiters[0]
		waiters[0] = nil
		e.pending[method] = waiters[1:]
		e.inflight--
		ch <- reply{resp: r, err: requestError(r)}

	default:
		failure = errors.InvalidData(errors.PhaseDecode, "unhandled response variant", nil)
	}
	e.mu.Unlock()

	if failure != nil {
		e.fail(failure)
		return false
	}
	e.changed()
	return true
}

// unexpected reports a response nobody is waiting for.
func unexpected(r wire.Response) error {
	return errors.New(errors.PhaseProtocol, errors.KindDesync).
		Method(r.Method().String()).
		Detail("response with no pending request").
		Build()
}

// requestError extracts the request-scoped error a response carries.
func requestError(r wire.Response) error {
	var msg string
	switch r := r.(type) {
	case wire.AppendResult:
		msg = r.Error
	case wire.FinalizeResult:
		msg = r.Error
	case wire.MetricResult:
		msg = r.Error
	case wire.MetatraceResult:
		msg = r.Error
	case wire.RegisterSQLPackageResult:
		msg = r.Error
	}
	if msg == "" {
		return nil
	}
	return errors.RequestFailed(r.Method().String(), msg)
}
