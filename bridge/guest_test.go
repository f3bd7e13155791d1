package bridge

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Guest modules used by the tests are assembled by hand. Unsigned LEB128,
// used for sizes, counts and indices, is the protobuf varint encoding.

const (
	valI32   = 0x7f
	funcType = 0x60

	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opI32Const    = 0x41
	opUnreachable = 0x00
)

// bufferAddr is where the test guests place their shared buffer. It is
// encoded as i32.const 1024 (signed LEB128 0x80 0x08).
const bufferAddr = 1024

var constBufferAddr = []byte{opI32Const, 0x80, 0x08}

func uleb(v uint64) []byte {
	return protowire.AppendVarint(nil, v)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, body []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// funcBody wraps an instruction sequence into a code entry without locals.
func funcBody(code ...byte) []byte {
	body := append([]byte{0x00}, code...)
	body = append(body, opEnd)
	return append(uleb(uint64(len(body))), body...)
}

type guestOptions struct {
	// stdout is written with fd_write before the request handler traps.
	stdout string
	// trap makes the request handler execute unreachable.
	trap bool
	// missingSubmit drops the request export.
	missingSubmit bool
}

// buildGuest assembles a guest whose rpc_init returns bufferAddr and whose
// request handler echoes the submitted bytes back through the reply import,
// or writes stdout and traps when opts.trap is set.
func buildGuest(opts guestOptions) []byte {
	// (i32 i32) -> (), (i32) -> i32, (i32) -> (), fd_write
	types := section(1, vec(
		[]byte{funcType, 2, valI32, valI32, 0},
		[]byte{funcType, 1, valI32, 1, valI32},
		[]byte{funcType, 1, valI32, 0},
		[]byte{funcType, 4, valI32, valI32, valI32, valI32, 1, valI32},
	))

	imports := [][]byte{cat(name(HostModule), name(ImportOnReply), []byte{0x00}, uleb(0))}
	if opts.trap {
		imports = append(imports, cat(name("wasi_snapshot_preview1"), name("fd_write"), []byte{0x00}, uleb(3)))
	}
	nImports := uint64(len(imports))
	initIdx, requestIdx := nImports, nImports+1

	funcs := section(3, vec(uleb(1), uleb(2)))
	memory := section(5, vec([]byte{0x00, 0x01})) // min 1 page

	exportList := [][]byte{
		cat(name(ExportedMemory), []byte{0x02}, uleb(0)),
		cat(name(ExportInit), []byte{0x00}, uleb(initIdx)),
	}
	if !opts.missingSubmit {
		exportList = append(exportList, cat(name(ExportRequest), []byte{0x00}, uleb(requestIdx)))
	}
	exports := section(7, vec(exportList...))

	initBody := funcBody(constBufferAddr...)
	var requestBody []byte
	if opts.trap {
		requestBody = funcBody(
			opI32Const, 1, // fd
			opI32Const, 0, // iovs
			opI32Const, 1, // iovs_len
			opI32Const, 8, // nwritten
			opCall, 1,
			opDrop,
			opUnreachable,
		)
	} else {
		requestBody = funcBody(cat(constBufferAddr, []byte{opLocalGet, 0, opCall, 0})...)
	}
	code := section(10, vec(initBody, requestBody))

	parts := [][]byte{
		{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types, section(2, vec(imports...)), funcs, memory, exports, code,
	}

	if opts.trap {
		// iovec{buf: 16, len: n} at 0, nwritten at 8, text at 16.
		n := byte(len(opts.stdout))
		data := cat([]byte{16, 0, 0, 0, n, 0, 0, 0}, make([]byte, 8), []byte(opts.stdout))
		segment := cat([]byte{0x00, opI32Const, 0x00, opEnd}, uleb(uint64(len(data))), data)
		parts = append(parts, section(11, vec(segment)))
	}
	return cat(parts...)
}
