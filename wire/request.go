package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/trace-engine/errors"
)

// Args is the kind-specific part of a request. The set of implementations
// is closed; each one maps to exactly one Method.
type Args interface {
	Method() Method
	appendArgs(b []byte) []byte
}

// AppendTraceData carries a chunk of raw trace bytes.
type AppendTraceData struct {
	Data []byte
}

// FinalizeTraceData marks the end of trace input.
type FinalizeTraceData struct{}

// QueryArgs starts a streaming query.
type QueryArgs struct {
	SQL string
	Tag string
}

// ComputeMetricArgs requests one or more named metrics.
type ComputeMetricArgs struct {
	Names  []string
	Format MetricFormat
}

// RestoreInitialTables drops everything created after trace load.
type RestoreInitialTables struct{}

// EnableMetatraceArgs turns on self-tracing of the backend.
type EnableMetatraceArgs struct {
	Categories MetatraceCategories
}

// DisableAndReadMetatrace stops self-tracing and returns the trace.
type DisableAndReadMetatrace struct{}

// GetStatus asks the backend to describe itself.
type GetStatus struct{}

// ResetArgs recreates the backend instance.
type ResetArgs struct {
	DropTrackEventDataBefore   int32
	IngestFtraceInRawTable     bool
	AnalyzeTraceProtoContent   bool
	FtraceDropUntilAllCPUValid bool
}

// SQLModule is one module of a SQL package.
type SQLModule struct {
	Name string
	SQL  string
}

// RegisterSQLPackageArgs registers a package of SQL modules.
type RegisterSQLPackageArgs struct {
	Name          string
	Modules       []SQLModule
	AllowOverride bool
}

func (AppendTraceData) Method() Method         { return MethodAppendTraceData }
func (FinalizeTraceData) Method() Method       { return MethodFinalizeTraceData }
func (QueryArgs) Method() Method               { return MethodQueryStreaming }
func (ComputeMetricArgs) Method() Method       { return MethodComputeMetric }
func (RestoreInitialTables) Method() Method    { return MethodRestoreInitialTables }
func (EnableMetatraceArgs) Method() Method     { return MethodEnableMetatrace }
func (DisableAndReadMetatrace) Method() Method { return MethodDisableAndReadMetatrace }
func (GetStatus) Method() Method               { return MethodGetStatus }
func (ResetArgs) Method() Method               { return MethodResetTraceProcessor }
func (RegisterSQLPackageArgs) Method() Method  { return MethodRegisterSQLPackage }

func (a AppendTraceData) appendArgs(b []byte) []byte {
	return appendBytesField(b, fieldAppendTraceData, a.Data)
}

func (FinalizeTraceData) appendArgs(b []byte) []byte       { return b }
func (RestoreInitialTables) appendArgs(b []byte) []byte    { return b }
func (DisableAndReadMetatrace) appendArgs(b []byte) []byte { return b }
func (GetStatus) appendArgs(b []byte) []byte               { return b }

func (a QueryArgs) appendArgs(b []byte) []byte {
	return appendMessageField(b, fieldQueryArgs, func(m []byte) []byte {
		m = appendStringField(m, 1, a.SQL)
		return appendStringField(m, 3, a.Tag)
	})
}

func (a ComputeMetricArgs) appendArgs(b []byte) []byte {
	return appendMessageField(b, fieldComputeMetricArgs, func(m []byte) []byte {
		for _, name := range a.Names {
			m = protowire.AppendTag(m, 1, protowire.BytesType)
			m = protowire.AppendString(m, name)
		}
		return appendVarintField(m, 2, uint64(a.Format))
	})
}

func (a EnableMetatraceArgs) appendArgs(b []byte) []byte {
	return appendMessageField(b, fieldEnableMetatraceArgs, func(m []byte) []byte {
		return appendVarintField(m, 1, uint64(a.Categories))
	})
}

func (a ResetArgs) appendArgs(b []byte) []byte {
	return appendMessageField(b, fieldResetArgs, func(m []byte) []byte {
		m = appendVarintField(m, 1, uint64(a.DropTrackEventDataBefore))
		m = appendBoolField(m, 2, a.IngestFtraceInRawTable)
		m = appendBoolField(m, 3, a.AnalyzeTraceProtoContent)
		return appendBoolField(m, 4, a.FtraceDropUntilAllCPUValid)
	})
}

func (a RegisterSQLPackageArgs) appendArgs(b []byte) []byte {
	return appendMessageField(b, fieldRegisterSQLPackageArgs, func(m []byte) []byte {
		m = appendStringField(m, 1, a.Name)
		for _, mod := range a.Modules {
			m = appendMessageField(m, 2, func(mm []byte) []byte {
				mm = appendStringField(mm, 1, mod.Name)
				return appendStringField(mm, 2, mod.SQL)
			})
		}
		return appendBoolField(m, 3, a.AllowOverride)
	})
}

// Request is a decoded request envelope. Args is nil when Method is not
// known to this package.
type Request struct {
	Args   Args
	Seq    int64
	Method Method
}

// EncodeRequest builds the envelope for a request. The result is not framed;
// see framing.Encode.
func EncodeRequest(seq int64, args Args) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(seq))
	b = protowire.AppendTag(b, fieldRequest, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(args.Method()))
	return args.appendArgs(b)
}

// DecodeRequest parses a request envelope. Byte payloads alias msg.
func DecodeRequest(msg []byte) (*Request, error) {
	req := &Request{}
	payloads := make(map[protowire.Number][]byte, 1)
	hasMethod := false

	err := walk(msg, func(f field) error {
		switch f.num {
		case fieldSeq:
			req.Seq = int64(f.varint)
		case fieldRequest:
			req.Method = Method(f.varint)
			hasMethod = true
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
	if !hasMethod {
		return nil, errors.InvalidData(errors.PhaseDecode, "request envelope has no method", nil)
	}

	switch req.Method {
	case MethodAppendTraceData:
		req.Args = AppendTraceData{Data: payloads[fieldAppendTraceData]}
	case MethodFinalizeTraceData:
		req.Args = FinalizeTraceData{}
	case MethodQueryStreaming:
		req.Args, err = decodeQueryArgs(payloads[fieldQueryArgs])
	case MethodComputeMetric:
		req.Args, err = decodeComputeMetricArgs(payloads[fieldComputeMetricArgs])
	case MethodRestoreInitialTables:
		req.Args = RestoreInitialTables{}
	case MethodEnableMetatrace:
		req.Args, err = decodeEnableMetatraceArgs(payloads[fieldEnableMetatraceArgs])
	case MethodDisableAndReadMetatrace:
		req.Args = DisableAndReadMetatrace{}
	case MethodGetStatus:
		req.Args = GetStatus{}
	case MethodResetTraceProcessor:
		req.Args, err = decodeResetArgs(payloads[fieldResetArgs])
	case MethodRegisterSQLPackage:
		req.Args, err = decodeRegisterSQLPackageArgs(payloads[fieldRegisterSQLPackageArgs])
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeQueryArgs(b []byte) (Args, error) {
	var a QueryArgs
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.SQL = f.str()
		case 3:
			a.Tag = f.str()
		}
		return nil
	})
	return a, err
}

func decodeComputeMetricArgs(b []byte) (Args, error) {
	var a ComputeMetricArgs
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.Names = append(a.Names, f.str())
		case 2:
			a.Format = MetricFormat(f.varint)
		}
		return nil
	})
	return a, err
}

func decodeEnableMetatraceArgs(b []byte) (Args, error) {
	var a EnableMetatraceArgs
	err := walk(b, func(f field) error {
		if f.num == 1 {
			a.Categories = MetatraceCategories(f.varint)
		}
		return nil
	})
	return a, err
}

func decodeResetArgs(b []byte) (Args, error) {
	var a ResetArgs
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.DropTrackEventDataBefore = int32(f.varint)
		case 2:
			a.IngestFtraceInRawTable = f.varint != 0
		case 3:
			a.AnalyzeTraceProtoContent = f.varint != 0
		case 4:
			a.FtraceDropUntilAllCPUValid = f.varint != 0
		}
		return nil
	})
	return a, err
}

func decodeRegisterSQLPackageArgs(b []byte) (Args, error) {
	var a RegisterSQLPackageArgs
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.Name = f.str()
		case 2:
			var mod SQLModule
			if err := walk(f.bytes, func(mf field) error {
				switch mf.num {
				case 1:
					mod.Name = mf.str()
				case 2:
					mod.SQL = mf.str()
				}
				return nil
			}); err != nil {
				return err
			}
			a.Modules = append(a.Modules, mod)
		case 3:
			a.AllowOverride = f.varint != 0
		}
		return nil
	})
	return a, err
}
