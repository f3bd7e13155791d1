package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/trace-engine/errors"
)

// field is one decoded protobuf field. Only the member matching typ is set.
type field struct {
	bytes  []byte
	varint uint64
	fixed  uint64
	num    protowire.Number
	typ    protowire.Type
}

func (f field) str() string {
	return string(f.bytes)
}

// nextField decodes the field at the start of b and returns it along with
// the number of bytes consumed.
func nextField(b []byte) (field, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return field{}, 0, decodeErr(protowire.ParseError(n))
	}
	f := field{num: num, typ: typ}
	rest := b[n:]

	var m int
	switch typ {
	case protowire.VarintType:
		f.varint, m = protowire.ConsumeVarint(rest)
	case protowire.BytesType:
		f.bytes, m = protowire.ConsumeBytes(rest)
	case protowire.Fixed64Type:
		f.fixed, m = protowire.ConsumeFixed64(rest)
	case protowire.Fixed32Type:
		var v uint32
		v, m = protowire.ConsumeFixed32(rest)
		f.fixed = uint64(v)
	default:
		m = protowire.ConsumeFieldValue(num, typ, rest)
	}
	if m < 0 {
		return field{}, 0, decodeErr(protowire.ParseError(m))
	}
	return f, n + m, nil
}

// walk calls fn for every field in b.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		f, n, err := nextField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// packedVarints decodes a repeated varint field in either packed or
// unpacked form, appending to dst.
func packedVarints(dst []uint64, f field) ([]uint64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, f.varint), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, decodeErr(protowire.ParseError(n))
		}
		dst = append(dst, v)
		b = b[n:]
	}
	return dst, nil
}

func packedDoubles(dst []float64, f field) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.fixed)), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, decodeErr(protowire.ParseError(n))
		}
		dst = append(dst, math.Float64frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

// appendMessageField appends a nested message, built by fn, as a
// length-delimited field.
func appendMessageField(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

func decodeErr(cause error) *errors.Error {
	return errors.InvalidData(errors.PhaseDecode, "malformed RPC message", cause)
}
