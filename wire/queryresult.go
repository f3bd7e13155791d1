package wire

import (
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/trace-engine/errors"
)

// CellType tags each cell of a CellsBatch.
type CellType int32

const (
	CellInvalid CellType = 0
	CellNull    CellType = 1
	CellVarint  CellType = 2
	CellFloat64 CellType = 3
	CellString  CellType = 4
	CellBlob    CellType = 5
)

func (c CellType) String() string {
	switch c {
	case CellNull:
		return "NULL"
	case CellVarint:
		return "LONG"
	case CellFloat64:
		return "DOUBLE"
	case CellString:
		return "STR"
	case CellBlob:
		return "BLOB"
	}
	return "INVALID"
}

// CellsBatch is a run of cells in row-major order. Values live in per-type
// pools consumed in order as cells of that type are met.
type CellsBatch struct {
	Cells   []CellType
	Varints []int64
	Floats  []float64
	Blobs   [][]byte
	Strings []string
	IsLast  bool
}

// AppendNull appends a NULL cell.
func (c *CellsBatch) AppendNull() {
	c.Cells = append(c.Cells, CellNull)
}

// AppendVarint appends an integer cell.
func (c *CellsBatch) AppendVarint(v int64) {
	c.Cells = append(c.Cells, CellVarint)
	c.Varints = append(c.Varints, v)
}

// AppendFloat appends a floating point cell.
func (c *CellsBatch) AppendFloat(v float64) {
	c.Cells = append(c.Cells, CellFloat64)
	c.Floats = append(c.Floats, v)
}

// AppendString appends a string cell. Strings must not contain NUL bytes;
// any that do are truncated at the first one.
func (c *CellsBatch) AppendString(v string) {
	if i := strings.IndexByte(v, 0); i >= 0 {
		v = v[:i]
	}
	c.Cells = append(c.Cells, CellString)
	c.Strings = append(c.Strings, v)
}

// AppendBlob appends a blob cell.
func (c *CellsBatch) AppendBlob(v []byte) {
	c.Cells = append(c.Cells, CellBlob)
	c.Blobs = append(c.Blobs, v)
}

// QueryResultData is the decoded form of a QueryResult payload.
type QueryResultData struct {
	ColumnNames              []string
	Batches                  []CellsBatch
	Error                    string
	LastStatementSQL         string
	StatementCount           int32
	StatementWithOutputCount int32
}

// Marshal encodes the result into the raw form carried by QueryResult.
func (q *QueryResultData) Marshal() []byte {
	var b []byte
	for _, name := range q.ColumnNames {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = appendStringField(b, 2, q.Error)
	for i := range q.Batches {
		b = appendMessageField(b, 3, q.Batches[i].appendBatch)
	}
	b = appendVarintField(b, 4, uint64(q.StatementCount))
	b = appendVarintField(b, 5, uint64(q.StatementWithOutputCount))
	return appendStringField(b, 6, q.LastStatementSQL)
}

func (c *CellsBatch) appendBatch(b []byte) []byte {
	if len(c.Cells) > 0 {
		var packed []byte
		for _, cell := range c.Cells {
			packed = protowire.AppendVarint(packed, uint64(cell))
		}
		b = appendBytesField(b, 1, packed)
	}
	if len(c.Varints) > 0 {
		var packed []byte
		for _, v := range c.Varints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendBytesField(b, 2, packed)
	}
	if len(c.Floats) > 0 {
		packed := make([]byte, 0, 8*len(c.Floats))
		for _, v := range c.Floats {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendBytesField(b, 3, packed)
	}
	for _, blob := range c.Blobs {
		b = appendBytesField(b, 4, blob)
	}
	if len(c.Strings) > 0 {
		var sb strings.Builder
		for _, s := range c.Strings {
			sb.WriteString(s)
			sb.WriteByte(0)
		}
		b = appendBytesField(b, 5, []byte(sb.String()))
	}
	return appendBoolField(b, 6, c.IsLast)
}

// UnmarshalQueryResult decodes a raw QueryResult payload. Blob cells are
// copied so the result does not alias raw.
func UnmarshalQueryResult(raw []byte) (*QueryResultData, error) {
	q := &QueryResultData{}
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			q.ColumnNames = append(q.ColumnNames, f.str())
		case 2:
			q.Error = f.str()
		case 3:
			batch, err := unmarshalBatch(f.bytes)
			if err != nil {
				return err
			}
			q.Batches = append(q.Batches, batch)
		case 4:
			q.StatementCount = int32(f.varint)
		case 5:
			q.StatementWithOutputCount = int32(f.varint)
		case 6:
			q.LastStatementSQL = f.str()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func unmarshalBatch(b []byte) (CellsBatch, error) {
	var (
		c     CellsBatch
		cells []uint64
		ints  []uint64
		err   error
	)
	err = walk(b, func(f field) error {
		switch f.num {
		case 1:
			cells, err = packedVarints(cells, f)
		case 2:
			ints, err = packedVarints(ints, f)
		case 3:
			c.Floats, err = packedDoubles(c.Floats, f)
		case 4:
			c.Blobs = append(c.Blobs, append([]byte(nil), f.bytes...))
		case 5:
			c.Strings = splitStringCells(f.str())
		case 6:
			c.IsLast = f.varint != 0
		}
		return err
	})
	if err != nil {
		return CellsBatch{}, err
	}

	if len(cells) > 0 {
		c.Cells = make([]CellType, len(cells))
	}
	counts := [CellBlob + 1]int{}
	for i, v := range cells {
		ct := CellType(v)
		if ct <= CellInvalid || ct > CellBlob {
			return CellsBatch{}, errors.InvalidData(errors.PhaseDecode, "invalid cell type "+ct.String(), nil)
		}
		c.Cells[i] = ct
		counts[ct]++
	}
	if len(ints) > 0 {
		c.Varints = make([]int64, len(ints))
	}
	for i, v := range ints {
		c.Varints[i] = int64(v)
	}

	if counts[CellVarint] > len(c.Varints) || counts[CellFloat64] > len(c.Floats) ||
		counts[CellString] > len(c.Strings) || counts[CellBlob] > len(c.Blobs) {
		return CellsBatch{}, errors.InvalidData(errors.PhaseDecode, "cells batch references more values than it carries", nil)
	}
	return c, nil
}

// splitStringCells splits the NUL-terminated string pool.
func splitStringCells(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\x00")
	return strings.Split(s, "\x00")
}
