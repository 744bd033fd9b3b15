package server

import (
	"testing"

	"github.com/cesanta/atcmd/catalog"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// feedAll pushes every byte of line through a Server, returning everything
// the print callback produced.
func feedAll(t *testing.T, srv *Server, line string) string {
	t.Helper()
	var out []byte
	srv.SetPrintCallback(func(b byte, ctx interface{}) {
		out = append(out, b)
	})
	for i := 0; i < len(line); i++ {
		srv.Feed(line[i], false)
	}
	return string(out)
}

// test3Seen captures what +TEST3_RSR's write handler actually received,
// so tests can check default substitution and hex-string decoding.
type test3Seen struct {
	hex1, hex2 []byte
	str        string
}

// buildBoundaryCatalog registers a small calibration command set: basic V
// (no params), +GCI (one mandatory hex numeric 0..255), +MV18AM (one
// mandatory string, max 100), +TEST3_RSR (three optional parameters with
// declared defaults).
func buildBoundaryCatalog(t *testing.T) (*catalog.Catalog, *uint32, *test3Seen) {
	t.Helper()
	var gciSeen uint32
	var mv18amSeen string

	vCmd, err := catalog.NewBasicCommand('V', false, nil, func(h catalog.BasicHandle) catalog.Result {
		return catalog.OK
	})
	assert(t, err == nil, "building V command: %v", err)

	gciParam, err := catalog.NewNumericParam(catalog.Hex, false, []catalog.Range{{Min: 0, Max: 255}})
	assert(t, err == nil, "building GCI param: %v", err)
	gci := catalog.ExtendedCommand{
		Name:   "GCI",
		Params: []catalog.Param{gciParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			gciSeen = h.ParamValue(0).Num
			return catalog.OK
		},
		Read: func(h catalog.ExtHandle) catalog.Result {
			h.PrintExtHeader()
			h.PrintNumeric(gciSeen, 16)
			return catalog.OK
		},
	}

	mv18amParam, err := catalog.NewStringParam(false, 100)
	assert(t, err == nil, "building MV18AM param: %v", err)
	mv18am := catalog.ExtendedCommand{
		Name:   "MV18AM",
		Params: []catalog.Param{mv18amParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			mv18amSeen = h.ParamValue(0).Str
			return catalog.OK
		},
		Read: func(h catalog.ExtHandle) catalog.Result {
			h.PrintExtHeader()
			h.PrintString(mv18amSeen)
			return catalog.OK
		},
	}

	hex1, err := catalog.NewHexStringParam(true, 20)
	assert(t, err == nil, "building hexstring1: %v", err)
	hex1, err = hex1.WithHexStringDefault([]byte{0x01, 0x02})
	assert(t, err == nil, "defaulting hexstring1: %v", err)

	str, err := catalog.NewStringParam(true, 20)
	assert(t, err == nil, "building string: %v", err)
	str, err = str.WithStringDefault("abc")
	assert(t, err == nil, "defaulting string: %v", err)

	hex2, err := catalog.NewHexStringParam(true, 20)
	assert(t, err == nil, "building hexstring2: %v", err)
	hex2, err = hex2.WithHexStringDefault([]byte{0x03, 0x04})
	assert(t, err == nil, "defaulting hexstring2: %v", err)

	seen := &test3Seen{}
	test3 := catalog.ExtendedCommand{
		Name:   "TEST3_RSR",
		Params: []catalog.Param{hex1, str, hex2},
		Write: func(h catalog.ExtHandle) catalog.Result {
			seen.hex1 = h.ParamValue(0).Hex
			seen.str = h.ParamValue(1).Str
			seen.hex2 = h.ParamValue(2).Hex
			return catalog.OK
		},
	}
	cat, err := catalog.NewCatalog([]catalog.BasicCommand{vCmd}, nil, []catalog.ExtendedCommand{gci, mv18am, test3}, 4)
	assert(t, err == nil, "building catalog: %v", err)
	return cat, &gciSeen, seen
}

func newBoundaryServer(t *testing.T) *Server {
	t.Helper()
	cat, _, _ := buildBoundaryCatalog(t)
	return NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 4}, func(b byte, ctx interface{}) {}, nil)
}

func TestEmptyLineProducesOK(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
}

func TestLowercaseAndSpacesNormalized(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "at v\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
}

func TestHexParamWriteThenRead(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+GCI=FF\r")
	assert(t, out == "\r\nOK\r\n", "write output: got %q", out)
	out = feedAll(t, srv, "AT+GCI?\r")
	assert(t, out == "\r\n+GCI:FF\r\n\r\nOK\r\n", "read output: got %q", out)
}

func TestOutOfRangeValueRejected(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+GCI=100\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
}

func TestStringParamWriteThenRead(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, `AT+MV18AM="hello"`+"\r")
	assert(t, out == "\r\nOK\r\n", "write output: got %q", out)
	out = feedAll(t, srv, "AT+MV18AM?\r")
	assert(t, out == "\r\n+MV18AM:\"hello\"\r\n\r\nOK\r\n", "read output: got %q", out)
}

func TestEmptyFieldsTakeDeclaredDefaults(t *testing.T) {
	cat, _, seen := buildBoundaryCatalog(t)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 4}, func(b byte, ctx interface{}) {}, nil)
	out := feedAll(t, srv, `AT+TEST3_RSR=,,"AB"`+"\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
	assert(t, string(seen.hex1) == "\x01\x02", "hexstring1 default: got % X", seen.hex1)
	assert(t, seen.str == "abc", "string default: got %q", seen.str)
	assert(t, string(seen.hex2) == "\xAB", "hexstring2: got % X", seen.hex2)
}

func TestOptionalTailOmittedEntirely(t *testing.T) {
	cat, _, seen := buildBoundaryCatalog(t)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 4}, func(b byte, ctx interface{}) {}, nil)
	out := feedAll(t, srv, `AT+TEST3_RSR="FF 00"`+"\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
	assert(t, string(seen.hex1) == "\xFF\x00", "hexstring1: got % X", seen.hex1)
	assert(t, seen.str == "abc", "string default: got %q", seen.str)
	assert(t, string(seen.hex2) == "\x03\x04", "hexstring2 default: got % X", seen.hex2)
}

func TestMandatoryParameterOmittedRejected(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+GCI=\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
	assert(t, srv.LastError() == ErrSemantic, "got %v", srv.LastError())
}

func TestOddNibbleCountRejected(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, `AT+TEST3_RSR="ABC"`+"\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
	assert(t, srv.LastError() == ErrSemantic, "got %v", srv.LastError())
}

func TestTestQueryPrintsParameterShapes(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+TEST3_RSR=?\r")
	assert(t, out == "\r\n+TEST3_RSR:(hs:20)(s:20)(hs:20)\r\n\r\nOK\r\n", "got %q", out)
}

func TestIntermediateCommandSilenced(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "ATV;+GCI=01\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
}

func TestJoinedLineKeepsEarlierCommands(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "ATV;+GCI=3C\r")
	assert(t, out == "\r\nOK\r\n", "joined line: got %q", out)
	out = feedAll(t, srv, "AT+GCI?\r")
	assert(t, out == "\r\n+GCI:3C\r\n\r\nOK\r\n", "read back: got %q", out)
}

func TestOnlyLastCommandInfoTextEmitted(t *testing.T) {
	srv := newBoundaryServer(t)
	_ = feedAll(t, srv, "AT+GCI=0A\r")
	out := feedAll(t, srv, "AT+GCI?;+GCI?\r")
	assert(t, out == "\r\n+GCI:A\r\n\r\nOK\r\n", "got %q", out)
}

func TestNumericResultCodes(t *testing.T) {
	srv := newBoundaryServer(t)
	srv.SessionParams().Verbose = false
	out := feedAll(t, srv, "AT\r")
	assert(t, out == "0\r", "ok line: got %q", out)
	out = feedAll(t, srv, "ATZ\r")
	assert(t, out == "4\r", "error line: got %q", out)
}

func TestBasicParamTerminatedByNextCommand(t *testing.T) {
	var iSeen uint32
	var iHas bool
	iCmd, err := catalog.NewBasicCommand('I', true, []catalog.Range{{Min: 0, Max: 9}}, func(h catalog.BasicHandle) catalog.Result {
		iHas = h.HasParam()
		if iHas {
			iSeen = h.Param()
		}
		return catalog.OK
	})
	assert(t, err == nil, "building I command: %v", err)
	vCmd, err := catalog.NewBasicCommand('V', false, nil, func(h catalog.BasicHandle) catalog.Result {
		return catalog.OK
	})
	assert(t, err == nil, "building V command: %v", err)
	cat, err := catalog.NewCatalog([]catalog.BasicCommand{iCmd, vCmd}, nil, nil, 4)
	assert(t, err == nil, "building catalog: %v", err)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 4}, func(b byte, ctx interface{}) {}, nil)

	out := feedAll(t, srv, "ATI2V\r")
	assert(t, out == "\r\nOK\r\n", "got %q", out)
	assert(t, iHas && iSeen == 2, "I parameter: has=%v value=%d", iHas, iSeen)

	out = feedAll(t, srv, "ATI42\r")
	assert(t, out == "\r\nERROR\r\n", "out-of-range parameter: got %q", out)
}

func TestReplayLastLine(t *testing.T) {
	srv := newBoundaryServer(t)
	_ = feedAll(t, srv, "AT+GCI=2A\r")
	out := feedAll(t, srv, "AT+GCI?\r")
	assert(t, out == "\r\n+GCI:2A\r\n\r\nOK\r\n", "first read: got %q", out)
	out = feedAll(t, srv, "A/")
	assert(t, out == "\r\n+GCI:2A\r\n\r\nOK\r\n", "replay: got %q", out)
}

func TestSParamWriteAndRead(t *testing.T) {
	srv := newBoundaryServer(t)
	// S4's write takes effect immediately but never changes the line
	// terminator, so every line below can still end in the default S3.
	out := feedAll(t, srv, "ATS4=35\r")
	assert(t, out == "\r#OK\r#", "write output: got %q", out)
	assert(t, srv.SessionParams().S4 == 35, "S4 not updated, got %d", srv.SessionParams().S4)

	out = feedAll(t, srv, "ATS4?\r")
	assert(t, out == "\r#035\r#\r#OK\r#", "read output: got %q", out)
}

func TestAsyncSuspendAndResume(t *testing.T) {
	var gciSeen uint32
	gciParam, _ := catalog.NewNumericParam(catalog.Hex, false, []catalog.Range{{Min: 0, Max: 255}})
	ready := false
	gci := catalog.ExtendedCommand{
		Name:   "GCI",
		Params: []catalog.Param{gciParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			if h.CallType() == catalog.Request {
				gciSeen = h.ParamValue(0).Num
				return catalog.Async
			}
			if !ready {
				return catalog.Async
			}
			return catalog.OK
		},
	}
	cat, err := catalog.NewCatalog(nil, nil, []catalog.ExtendedCommand{gci}, 1)
	assert(t, err == nil, "building catalog: %v", err)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 1}, func(b byte, ctx interface{}) {}, nil)

	var out []byte
	srv.SetPrintCallback(func(b byte, ctx interface{}) { out = append(out, b) })
	for i := 0; i < len("AT+GCI=01\r"); i++ {
		srv.Feed("AT+GCI=01\r"[i], false)
	}
	assert(t, len(out) == 0, "suspended command must not print yet, got %q", string(out))
	assert(t, gciSeen == 1, "handler never ran, got %d", gciSeen)

	ok := srv.NotifyDoneExtWrite("GCI")
	assert(t, ok, "NotifyDone should match the suspended command")
	assert(t, len(out) == 0, "still suspended, got %q", string(out))

	ready = true
	ok = srv.NotifyDoneExtWrite("GCI")
	assert(t, ok, "NotifyDone should match again")
	assert(t, string(out) == "\r\nOK\r\n", "got %q", string(out))
}

func TestAbortDropsSuspendedCommand(t *testing.T) {
	aborted := false
	gciParam, _ := catalog.NewNumericParam(catalog.Hex, false, []catalog.Range{{Min: 0, Max: 255}})
	gci := catalog.ExtendedCommand{
		Name:   "GCI",
		Params: []catalog.Param{gciParam},
		Write: func(h catalog.ExtHandle) catalog.Result {
			if h.CallType() == catalog.Abort {
				aborted = true
				return catalog.OK
			}
			return catalog.Async
		},
	}
	cat, err := catalog.NewCatalog(nil, nil, []catalog.ExtendedCommand{gci}, 1)
	assert(t, err == nil, "building catalog: %v", err)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 1}, func(b byte, ctx interface{}) {}, nil)
	for i := 0; i < len("AT+GCI=01\r"); i++ {
		srv.Feed("AT+GCI=01\r"[i], false)
	}
	srv.Feed('X', true)
	assert(t, aborted, "abort handler never ran")
}

func TestUnknownBasicCommandEndsLineWithError(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "ATZ\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
	assert(t, srv.LastError() == ErrUnknownCommand, "got %v", srv.LastError())
}

func TestUnknownExtendedCommand(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+NOPE?\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
	assert(t, srv.LastError() == ErrUnknownCommand, "got %v", srv.LastError())
}

func TestSemanticErrorSurfacedAsLastError(t *testing.T) {
	srv := newBoundaryServer(t)
	out := feedAll(t, srv, "AT+GCI=100\r")
	assert(t, out == "\r\nERROR\r\n", "got %q", out)
	assert(t, srv.LastError() == ErrSemantic, "got %v", srv.LastError())
}

func TestHandlerOrderDisciplinePanics(t *testing.T) {
	gciParam, _ := catalog.NewNumericParam(catalog.Hex, false, []catalog.Range{{Min: 0, Max: 255}})
	gci := catalog.ExtendedCommand{
		Name:   "GCI",
		Params: []catalog.Param{gciParam},
		Read: func(h catalog.ExtHandle) catalog.Result {
			h.PrintString("oops") // wrong kind for parameter 0 (Hex)
			return catalog.OK
		},
	}
	cat, err := catalog.NewCatalog(nil, nil, []catalog.ExtendedCommand{gci}, 1)
	assert(t, err == nil, "building catalog: %v", err)
	srv := NewServer(Settings{Catalog: cat, MaxCommandsPerLine: 1}, func(b byte, ctx interface{}) {}, nil)

	defer func() {
		r := recover()
		assert(t, r != nil, "expected a panic from the kind-discipline check")
	}()
	for _, b := range "AT+GCI?\r" {
		srv.Feed(byte(b), false)
	}
}
