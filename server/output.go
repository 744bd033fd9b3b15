package server

import "github.com/cesanta/atcmd/catalog"

// PrintFunc is the single-byte sink a Server writes its response stream
// through. ctx is the opaque value last installed with Server.SetContext,
// handed back unchanged so the callback can route bytes to the right
// connection without a closure per session.
type PrintFunc func(b byte, ctx interface{})

// LineResult is the final per-line result code: the nine-value ITU-T
// V.250 enumeration. The executor in this package only
// ever produces RCOk or RCError — nothing here drives a modem's carrier
// or dial state machine — but the full table is implemented because a
// conforming terminal must still recognize and format the reserved codes
// the same way a real modem core would.
type LineResult int

const (
	RCOk LineResult = iota
	RCConnect
	RCRing
	RCNoCarrier
	RCError
	rcReserved
	RCNoDialtone
	RCBusy
	RCNoAnswer
)

var verboseWords = [...]string{
	RCOk:         "OK",
	RCConnect:    "CONNECT",
	RCRing:       "RING",
	RCNoCarrier:  "NO CARRIER",
	RCError:      "ERROR",
	rcReserved:   "",
	RCNoDialtone: "NO DIALTONE",
	RCBusy:       "BUSY",
	RCNoAnswer:   "NO ANSWER",
}

// outputContext owns the response byte sink and the silencing mechanism:
// a non-last command's information text on a ";"-joined line is swapped
// to a no-op sink for the duration of its handler call, while its
// header/trailer framing is still produced so a last command's handler
// sees consistent framing regardless of position.
// Header/trailer framing is lazy, not automatic: nothing is written until
// the handler actually prints content, and the trailer appears only if a
// header did, so a write handler that prints nothing produces no S3/S4
// framing at all, only the final result code.
type outputContext struct {
	sink          PrintFunc
	ctx           interface{}
	saved         PrintFunc
	silent        bool
	headerPrinted bool
}

func noopSink(b byte, ctx interface{}) {}

func (o *outputContext) printByte(b byte) {
	if o.sink != nil {
		o.sink(b, o.ctx)
	}
}

func (o *outputContext) printText(s string) {
	for i := 0; i < len(s); i++ {
		o.printByte(s[i])
	}
}

func (o *outputContext) silence() {
	if o.silent {
		return
	}
	o.silent = true
	o.saved = o.sink
	o.sink = noopSink
}

func (o *outputContext) unsilence() {
	if !o.silent {
		return
	}
	o.silent = false
	o.sink = o.saved
	o.saved = nil
}

// printNumber writes v in the given base (2, 10, or 16), uppercase hex
// digits, no leading zeros save for the value zero itself.
func (o *outputContext) printNumber(v uint32, base int) {
	if v == 0 {
		o.printByte('0')
		return
	}
	var digits [32]byte
	n := 0
	for v > 0 {
		d := v % uint32(base)
		if d < 10 {
			digits[n] = '0' + byte(d)
		} else {
			digits[n] = 'A' + byte(d-10)
		}
		n++
		v /= uint32(base)
	}
	for i := n - 1; i >= 0; i-- {
		o.printByte(digits[i])
	}
}

// printNumberPadded3 writes v as a zero-padded 3-digit decimal, the
// S-parameter read format.
func (o *outputContext) printNumberPadded3(v byte) {
	o.printByte('0' + (v/100)%10)
	o.printByte('0' + (v/10)%10)
	o.printByte('0' + v%10)
}

// printStringParam writes a STR parameter value quoted, verbatim.
func (o *outputContext) printStringParam(s string) {
	o.printByte('"')
	o.printText(s)
	o.printByte('"')
}

// printHexStringParam writes a HEXSTR parameter value quoted, as
// uppercase hex with no separators.
func (o *outputContext) printHexStringParam(b []byte) {
	o.printByte('"')
	for _, by := range b {
		o.printByte(hexDigit(by >> 4))
		o.printByte(hexDigit(by & 0xF))
	}
	o.printByte('"')
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// printExtHeaderRaw writes "+NAME:" for a read or test reply.
func (o *outputContext) printExtHeaderRaw(name string) {
	o.printByte('+')
	o.printText(name)
	o.printByte(':')
}

func baseForKind(k catalog.ParamKind) int {
	switch k {
	case catalog.Hex:
		return 16
	case catalog.Bin:
		return 2
	default:
		return 10
	}
}

// printTestReply writes the standard "+NAME:(ranges)(ranges)..." test
// response for a command whose custom test handler (if any) asked for it,
// or that declared no test handler at all.
func (o *outputContext) printTestReply(name string, params []catalog.Param) {
	o.printExtHeaderRaw(name)
	for _, p := range params {
		o.printByte('(')
		switch p.Kind {
		case catalog.Str:
			o.printByte('s')
			o.printByte(':')
			o.printNumber(uint32(p.MaxLength), 10)
		case catalog.HexStr:
			o.printText("hs")
			o.printByte(':')
			o.printNumber(uint32(p.MaxSize), 10)
		default:
			base := baseForKind(p.Kind)
			for i, r := range p.Ranges {
				if i > 0 {
					o.printByte(',')
				}
				o.printNumber(r.Min, base)
				if r.Min != r.Max {
					o.printByte('-')
					o.printNumber(r.Max, base)
				}
			}
		}
		o.printByte(')')
	}
}

// infoHeader/infoTrailer write the raw S3 S4 framing bytes. Callers
// normally go through beginInvocation/ensureHeader/endInvocation instead
// of calling these directly.
func (o *outputContext) infoHeader(s SessionParams) {
	o.printByte(s.S3)
	o.printByte(s.S4)
}

func (o *outputContext) infoTrailer(s SessionParams) {
	o.printByte(s.S3)
	o.printByte(s.S4)
}

// beginInvocation resets the lazy-header tracking for one handler call.
func (o *outputContext) beginInvocation() {
	o.headerPrinted = false
}

// ensureHeader writes the info header the first time a handler call prints
// anything; subsequent calls within the same invocation are no-ops.
func (o *outputContext) ensureHeader(s SessionParams) {
	if o.headerPrinted {
		return
	}
	o.headerPrinted = true
	o.infoHeader(s)
}

// endInvocation writes the info trailer iff this invocation ever called
// ensureHeader.
func (o *outputContext) endInvocation(s SessionParams) {
	if o.headerPrinted {
		o.infoTrailer(s)
	}
}

// printResultCode writes the final per-line result code, verbose or
// numeric according to s.Verbose.
func (o *outputContext) printResultCode(s SessionParams, code LineResult) {
	if s.Verbose {
		o.printByte(s.S3)
		o.printByte(s.S4)
		o.printText(verboseWords[code])
	} else {
		o.printByte('0' + byte(code))
	}
	o.printByte(s.S3)
	if s.Verbose {
		o.printByte(s.S4)
	}
}
