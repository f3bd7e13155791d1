package wire

import "strconv"

// Method identifies which RPC operation a request or response belongs to.
type Method int32

const (
	MethodUnspecified             Method = 0
	MethodAppendTraceData         Method = 1
	MethodFinalizeTraceData       Method = 2
	MethodQueryStreaming          Method = 3
	MethodComputeMetric           Method = 5
	MethodRestoreInitialTables    Method = 7
	MethodEnableMetatrace         Method = 8
	MethodDisableAndReadMetatrace Method = 9
	MethodGetStatus               Method = 10
	MethodResetTraceProcessor     Method = 11
	MethodRegisterSQLPackage      Method = 13
)

var methodNames = map[Method]string{
	MethodUnspecified:             "UNSPECIFIED",
	MethodAppendTraceData:         "APPEND_TRACE_DATA",
	MethodFinalizeTraceData:       "FINALIZE_TRACE_DATA",
	MethodQueryStreaming:          "QUERY_STREAMING",
	MethodComputeMetric:           "COMPUTE_METRIC",
	MethodRestoreInitialTables:    "RESTORE_INITIAL_TABLES",
	MethodEnableMetatrace:         "ENABLE_METATRACE",
	MethodDisableAndReadMetatrace: "DISABLE_AND_READ_METATRACE",
	MethodGetStatus:               "GET_STATUS",
	MethodResetTraceProcessor:     "RESET_TRACE_PROCESSOR",
	MethodRegisterSQLPackage:      "REGISTER_SQL_PACKAGE",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "METHOD_" + strconv.Itoa(int(m))
}

// Known reports whether m is a method this package can encode and decode.
func (m Method) Known() bool {
	_, ok := methodNames[m]
	return ok && m != MethodUnspecified
}

// Methods lists every known method in wire order.
func Methods() []Method {
	return []Method{
		MethodAppendTraceData,
		MethodFinalizeTraceData,
		MethodQueryStreaming,
		MethodComputeMetric,
		MethodRestoreInitialTables,
		MethodEnableMetatrace,
		MethodDisableAndReadMetatrace,
		MethodGetStatus,
		MethodResetTraceProcessor,
		MethodRegisterSQLPackage,
	}
}

// MetricFormat selects the encoding of computed metrics.
type MetricFormat int32

const (
	MetricFormatBinary MetricFormat = 0
	MetricFormatText   MetricFormat = 1
	MetricFormatJSON   MetricFormat = 2
)

func (f MetricFormat) String() string {
	switch f {
	case MetricFormatBinary:
		return "binary"
	case MetricFormatText:
		return "text"
	case MetricFormatJSON:
		return "json"
	}
	return "format_" + strconv.Itoa(int(f))
}

// MetatraceCategories is a bitmask of metatrace categories.
type MetatraceCategories uint32

const (
	MetatraceQueryToplevel MetatraceCategories = 1 << iota
	MetatraceQueryDetailed
	MetatraceFunctionCall
	MetatraceDB
	MetatraceAPI

	MetatraceNone MetatraceCategories = 0
	MetatraceAll                      = MetatraceQueryToplevel | MetatraceQueryDetailed |
		MetatraceFunctionCall | MetatraceDB | MetatraceAPI
)

// Envelope field numbers.
const (
	fieldSeq            = 1
	fieldRequest        = 2
	fieldResponse       = 3
	fieldInvalidRequest = 4
	fieldFatalError     = 5

	fieldAppendTraceData         = 101
	fieldQueryArgs               = 103
	fieldComputeMetricArgs       = 105
	fieldEnableMetatraceArgs     = 106
	fieldResetArgs               = 107
	fieldRegisterSQLPackageArgs  = 108
	fieldAppendResult            = 201
	fieldQueryResult             = 203
	fieldMetricResult            = 204
	fieldMetatraceResult         = 206
	fieldStatusResult            = 207
	fieldRegisterSQLPackageReply = 208
)
