package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/trace-engine/errors"
)

// Response is the kind-specific part of a response frame. The set of
// implementations is closed; consumers switch over the concrete types.
type Response interface {
	Method() Method
	appendResponse(b []byte) []byte
}

// AppendResult acknowledges a chunk of trace data.
type AppendResult struct {
	Error            string
	TotalBytesParsed int64
}

// FinalizeResult acknowledges the end of trace input.
type FinalizeResult struct {
	Error string
}

// QueryResult is one batch of a streaming query, left in its encoded form.
// Decoding is deferred to the result object that owns the rows.
type QueryResult struct {
	Raw []byte
}

// MetricResult carries computed metrics in the requested format.
type MetricResult struct {
	Error   string
	Metrics []byte
}

// EnableMetatraceResult acknowledges metatrace activation.
type EnableMetatraceResult struct{}

// MetatraceResult carries the recorded metatrace.
type MetatraceResult struct {
	Error string
	Trace []byte
}

// RestoreResult acknowledges a table restore.
type RestoreResult struct{}

// ResetResult acknowledges a backend reset.
type ResetResult struct{}

// StatusResult describes the backend.
type StatusResult struct {
	LoadedTraceName      string
	HumanReadableVersion string
	APIVersion           int32
}

// RegisterSQLPackageResult acknowledges a SQL package registration.
type RegisterSQLPackageResult struct {
	Error string
}

// InvalidRequest is sent by a backend that did not understand a request.
type InvalidRequest struct {
	Requested Method
}

func (AppendResult) Method() Method             { return MethodAppendTraceData }
func (FinalizeResult) Method() Method           { return MethodFinalizeTraceData }
func (QueryResult) Method() Method              { return MethodQueryStreaming }
func (MetricResult) Method() Method             { return MethodComputeMetric }
func (EnableMetatraceResult) Method() Method    { return MethodEnableMetatrace }
func (MetatraceResult) Method() Method          { return MethodDisableAndReadMetatrace }
func (RestoreResult) Method() Method            { return MethodRestoreInitialTables }
func (ResetResult) Method() Method              { return MethodResetTraceProcessor }
func (StatusResult) Method() Method             { return MethodGetStatus }
func (RegisterSQLPackageResult) Method() Method { return MethodRegisterSQLPackage }
func (r InvalidRequest) Method() Method         { return r.Requested }

func (r AppendResult) appendResponse(b []byte) []byte {
	return appendMessageField(b, fieldAppendResult, func(m []byte) []byte {
		m = appendVarintField(m, 1, uint64(r.TotalBytesParsed))
		return appendStringField(m, 2, r.Error)
	})
}

// FinalizeResult errors travel in the append result slot, as the backend
// reports parse failures discovered at end of input the same way.
func (r FinalizeResult) appendResponse(b []byte) []byte {
	if r.Error == "" {
		return b
	}
	return AppendResult{Error: r.Error}.appendResponse(b)
}

func (r QueryResult) appendResponse(b []byte) []byte {
	return appendBytesField(b, fieldQueryResult, r.Raw)
}

func (r MetricResult) appendResponse(b []byte) []byte {
	return appendMessageField(b, fieldMetricResult, func(m []byte) []byte {
		if len(r.Metrics) > 0 {
			m = appendBytesField(m, 1, r.Metrics)
		}
		return appendStringField(m, 2, r.Error)
	})
}

func (EnableMetatraceResult) appendResponse(b []byte) []byte { return b }
func (RestoreResult) appendResponse(b []byte) []byte         { return b }
func (ResetResult) appendResponse(b []byte) []byte           { return b }
func (InvalidRequest) appendResponse(b []byte) []byte        { return b }

func (r MetatraceResult) appendResponse(b []byte) []byte {
	return appendMessageField(b, fieldMetatraceResult, func(m []byte) []byte {
		if len(r.Trace) > 0 {
			m = appendBytesField(m, 1, r.Trace)
		}
		return appendStringField(m, 2, r.Error)
	})
}

func (r StatusResult) appendResponse(b []byte) []byte {
	return appendMessageField(b, fieldStatusResult, func(m []byte) []byte {
		m = appendStringField(m, 1, r.LoadedTraceName)
		m = appendStringField(m, 2, r.HumanReadableVersion)
		return appendVarintField(m, 3, uint64(r.APIVersion))
	})
}

func (r RegisterSQLPackageResult) appendResponse(b []byte) []byte {
	return appendMessageField(b, fieldRegisterSQLPackageReply, func(m []byte) []byte {
		return appendStringField(m, 1, r.Error)
	})
}

// Frame is a decoded response envelope. Response is nil for frames that only
// carry a FatalError.
type Frame struct {
	Response   Response
	FatalError string
	Seq        int64
}

// EncodeResponse builds the envelope for a response. The result is not
// framed; see framing.Encode.
func EncodeResponse(seq int64, resp Response) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(seq))
	if inv, ok := resp.(InvalidRequest); ok {
		b = protowire.AppendTag(b, fieldInvalidRequest, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(inv.Requested))
	}
	b = protowire.AppendTag(b, fieldResponse, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(resp.Method()))
	return resp.appendResponse(b)
}

// EncodeFatal builds an envelope that reports an unrecoverable backend error.
func EncodeFatal(seq int64, msg string) []byte {
	b := make([]byte, 0, len(msg)+16)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(seq))
	return appendStringField(b, fieldFatalError, msg)
}

// DecodeFrame parses a response envelope. QueryResult.Raw aliases msg.
func DecodeFrame(msg []byte) (*Frame, error) {
	fr := &Frame{}
	var (
		method    Method
		hasMethod bool
		invalid   bool
	)
	payloads := make(map[protowire.Number][]byte, 1)

	err := walk(msg, func(f field) error {
		switch f.num {
		case fieldSeq:
			fr.Seq = int64(f.varint)
		case fieldResponse:
			method = Method(f.varint)
			hasMethod = true
		case fieldInvalidRequest:
			method = Method(f.varint)
			hasMethod = true
			invalid = true
		case fieldFatalError:
			fr.FatalError = f.str()
		default:
			if f.num > 100 && f.typ == protowire.BytesType {
				payloads[f.num] = f.bytes
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case invalid:
		fr.Response = InvalidRequest{Requested: method}
		return fr, nil
	case !hasMethod:
		if fr.FatalError == "" {
			return nil, errors.InvalidData(errors.PhaseDecode, "response envelope has neither method nor fatal error", nil)
		}
		return fr, nil
	}

	fr.Response, err = decodeResponse(method, payloads)
	if err != nil {
		return nil, err
	}
	return fr, nil
}

func decodeResponse(method Method, payloads map[protowire.Number][]byte) (Response, error) {
	switch method {
	case MethodAppendTraceData:
		var r AppendResult
		err := decodeAppendResult(payloads[fieldAppendResult], &r)
		return r, err
	case MethodFinalizeTraceData:
		var r AppendResult
		err := decodeAppendResult(payloads[fieldAppendResult], &r)
		return FinalizeResult{Error: r.Error}, err
	case MethodQueryStreaming:
		raw, ok := payloads[fieldQueryResult]
		if !ok {
			return nil, errors.InvalidData(errors.PhaseDecode, "streaming query response without result", nil)
		}
		return QueryResult{Raw: raw}, nil
	case MethodComputeMetric:
		var r MetricResult
		err := walk(payloads[fieldMetricResult], func(f field) error {
			switch f.num {
			case 1, 3, 4: // binary, text and json slots
				r.Metrics = append([]byte(nil), f.bytes...)
			case 2:
				r.Error = f.str()
			}
			return nil
		})
		return r, err
	case MethodEnableMetatrace:
		return EnableMetatraceResult{}, nil
	case MethodDisableAndReadMetatrace:
		var r MetatraceResult
		err := walk(payloads[fieldMetatraceResult], func(f field) error {
			switch f.num {
			case 1:
				r.Trace = append([]byte(nil), f.bytes...)
			case 2:
				r.Error = f.str()
			}
			return nil
		})
		return r, err
	case MethodRestoreInitialTables:
		return RestoreResult{}, nil
	case MethodResetTraceProcessor:
		return ResetResult{}, nil
	case MethodGetStatus:
		var r StatusResult
		err := walk(payloads[fieldStatusResult], func(f field) error {
			switch f.num {
			case 1:
				r.LoadedTraceName = f.str()
			case 2:
				r.HumanReadableVersion = f.str()
			case 3:
				r.APIVersion = int32(f.varint)
			}
			return nil
		})
		return r, err
	case MethodRegisterSQLPackage:
		var r RegisterSQLPackageResult
		err := walk(payloads[fieldRegisterSQLPackageReply], func(f field) error {
			if f.num == 1 {
				r.Error = f.str()
			}
			return nil
		})
		return r, err
	}
	return nil, errors.InvalidData(errors.PhaseDecode, "response for unknown method "+method.String(), nil)
}

func decodeAppendResult(b []byte, r *AppendResult) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.TotalBytesParsed = int64(f.varint)
		case 2:
			r.Error = f.str()
		}
		return nil
	})
}
