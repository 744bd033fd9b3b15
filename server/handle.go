package server

import (
	"fmt"

	"github.com/cesanta/atcmd/catalog"
)

// basicHandle implements catalog.BasicHandle for one basic/ampersand
// command invocation.
type basicHandle struct {
	srv      *Server
	isLast   bool
	hasParam bool
	param    uint32
	callType catalog.CallType
}

func (h *basicHandle) Context() interface{}       { return h.srv.ctx }
func (h *basicHandle) IsLast() bool               { return h.isLast }
func (h *basicHandle) CallType() catalog.CallType { return h.callType }
func (h *basicHandle) HasParam() bool             { return h.hasParam }
func (h *basicHandle) Param() uint32              { return h.param }

func (h *basicHandle) InfoText(format string, args ...interface{}) {
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printText(fmt.Sprintf(format, args...))
}

// extHandle implements catalog.ExtHandle for one extended-command
// invocation. The printIdx cursor enforces the declaration-order/kind
// discipline: each Print* call is matched against the next declared
// parameter, and a call whose kind differs from it, or one past the last
// declared parameter, is a programmer bug, not a user-facing error, so it
// panics rather than silently miscoding the wire.
type extHandle struct {
	srv      *Server
	ext      *catalog.ExtendedCommand
	isLast   bool
	callType catalog.CallType
	values   []catalog.Value // populated for write invocations
	printIdx int
}

func (h *extHandle) Context() interface{}      { return h.srv.ctx }
func (h *extHandle) IsLast() bool              { return h.isLast }
func (h *extHandle) CallType() catalog.CallType { return h.callType }
func (h *extHandle) NumParams() int            { return len(h.ext.Params) }

func (h *extHandle) InfoText(format string, args ...interface{}) {
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printText(fmt.Sprintf(format, args...))
}

func (h *extHandle) ParamValue(i int) catalog.Value {
	return h.values[i]
}

func (h *extHandle) PrintExtHeader() {
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printExtHeaderRaw(h.ext.Name)
}

func (h *extHandle) PrintNumeric(v uint32, base int) {
	h.checkKind(catalog.Dec, catalog.Hex, catalog.Bin)
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printNumber(v, base)
	h.printIdx++
}

func (h *extHandle) PrintString(s string) {
	h.checkKind(catalog.Str)
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printStringParam(s)
	h.printIdx++
}

func (h *extHandle) PrintHexString(b []byte) {
	h.checkKind(catalog.HexStr)
	h.srv.out.ensureHeader(h.srv.session)
	h.srv.out.printHexStringParam(b)
	h.printIdx++
}

func (h *extHandle) checkKind(want ...catalog.ParamKind) {
	if h.printIdx >= len(h.ext.Params) {
		panic(fmt.Sprintf("atcmd: +%s handler printed more parameters than it declared", h.ext.Name))
	}
	k := h.ext.Params[h.printIdx].Kind
	for _, w := range want {
		if k == w {
			return
		}
	}
	panic(fmt.Sprintf("atcmd: +%s handler's parameter %d is %s, printed as a different kind", h.ext.Name, h.printIdx, k))
}
