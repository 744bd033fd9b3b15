// Package server implements the byte-fed AT-command engine: the parser
// FSM (C6), execution engine (C7), output formatter (C8), session
// parameters (C9), and the public façade (C10) that ties them to a
// build-time catalog.Catalog.
package server

import "github.com/cesanta/atcmd/catalog"

// Settings fixes everything a Server needs at construction: the command
// catalogue, which also carries the line-buffer sizing knob
// (Catalog.MaxCommandsPerLine). NewServer sizes the line buffer from the
// catalogue and does not read Settings.MaxCommandsPerLine. There is no
// other configuration surface — no environment variables, files, or
// persisted state.
type Settings struct {
	Catalog            *catalog.Catalog
	MaxCommandsPerLine int
}

// Server is the public façade (C10): single-threaded and cooperative.
// The line buffer is allocated once by NewServer; executing a command
// still allocates on the heap (the handler closure and handle, a write's
// decoded parameter values, and the AT/ copy of the line).
type Server struct {
	cat     *catalog.Catalog
	lb      *lineBuffer
	trie    *catalog.Cursor
	parser  *parser
	out     *outputContext
	session SessionParams
	exec    execState
	ctx     interface{}

	lastLine    []byte
	lastLineErr bool
}

// NewServer builds a Server around settings.Catalog, wired to printCB for
// all response output. ctx is the opaque pointer handed back to printCB
// and to every handler via Handle.Context.
func NewServer(settings Settings, printCB PrintFunc, ctx interface{}) *Server {
	cat := settings.Catalog
	s := &Server{
		cat:     cat,
		lb:      newLineBuffer(cat.LineBufferCapacity()),
		trie:    cat.Trie.NewCursor(),
		out:     &outputContext{sink: printCB, ctx: ctx},
		session: DefaultSessionParams(),
		ctx:     ctx,
	}
	s.parser = newParser(s)
	return s
}

// Feed consumes one incoming byte. It never blocks: it runs synchronously
// through parser transitions and, on line completion, through handler
// calls until one suspends or the line finishes. abortable, when true
// while a command is suspended, delivers an abort to the handler instead
// of being otherwise interpreted.
func (s *Server) Feed(b byte, abortable bool) {
	s.parser.feed(b, abortable)
}

// finalize is called by the parser once a line reaches its S3 terminator:
// it snapshots the encoded line for a future AT/ and hands control to the
// executor. An AT/ replay goes through replayLastLine instead.
func (s *Server) finalize(errorSeen bool) {
	s.exec.errorSeen = errorSeen
	s.saveLastLine(errorSeen)
	s.lb.resetExec()
	s.parser.state = stExecuting
	s.continueExec()
}

func (s *Server) saveLastLine(errorSeen bool) {
	s.lastLine = append(s.lastLine[:0], s.lb.buf[:s.lb.parseOK]...)
	s.lastLineErr = errorSeen
}

// replayLastLine implements "AT/": re-executes the previously finalized
// *encoded* line without re-running the parser.
func (s *Server) replayLastLine() {
	if s.lastLine == nil {
		return
	}
	copy(s.lb.buf, s.lastLine)
	s.lb.parseIndex = len(s.lastLine)
	s.lb.parseOK = len(s.lastLine)
	s.lb.resetExec()
	s.parser.state = stExecuting
	s.exec.errorSeen = s.lastLineErr
	s.continueExec()
}

// SetContext installs the opaque pointer returned by Handle.Context and
// passed to the print callback.
func (s *Server) SetContext(ctx interface{}) {
	s.ctx = ctx
	s.out.ctx = ctx
}

// GetContext returns the currently installed context.
func (s *Server) GetContext() interface{} {
	return s.ctx
}

// SetPrintCallback installs a new response sink.
func (s *Server) SetPrintCallback(cb PrintFunc) {
	s.out.sink = cb
}

// GetPrintCallback returns the currently installed response sink.
func (s *Server) GetPrintCallback() PrintFunc {
	return s.out.sink
}

// LastError returns the sentinel reason the parser itself rejected the
// most recently completed line, or nil if that line parsed cleanly (a
// handler returning ResultError is a separate, handler-owned failure the
// parser never classifies).
func (s *Server) LastError() error {
	return s.parser.lastErr
}

// SessionParams returns a pointer to the server's session parameter bag,
// so callers may read or write S3/S4/Verbose directly; verbose has no
// AT-language setter, this is the only way to change it.
func (s *Server) SessionParams() *SessionParams {
	return &s.session
}

// NotifyDoneBasic resumes a suspended basic command by letter.
func (s *Server) NotifyDoneBasic(letter byte) bool {
	cmd, ok := s.cat.LookupBasic(letter)
	if !ok {
		return false
	}
	idx := indexOfLetter(s.cat.Basic, cmd.Letter)
	return s.NotifyDone(s.cat.BasicCommandID(idx))
}

// NotifyDoneAmpersand resumes a suspended ampersand command by letter.
func (s *Server) NotifyDoneAmpersand(letter byte) bool {
	cmd, ok := s.cat.LookupAmpersand(letter)
	if !ok {
		return false
	}
	idx := indexOfLetter(s.cat.Ampersand, cmd.Letter)
	return s.NotifyDone(s.cat.AmpersandCommandID(idx))
}

// NotifyDoneExtWrite resumes a suspended extended write command by name.
func (s *Server) NotifyDoneExtWrite(name string) bool {
	return s.notifyDoneExt(name, catalog.ExtWrite)
}

// NotifyDoneExtRead resumes a suspended extended read command by name.
func (s *Server) NotifyDoneExtRead(name string) bool {
	return s.notifyDoneExt(name, catalog.ExtRead)
}

func (s *Server) notifyDoneExt(name string, callType catalog.ExtCallType) bool {
	for i, ext := range s.cat.Extended {
		if ext.Name == name {
			return s.NotifyDone(catalog.ExtCommandID(i, callType))
		}
	}
	return false
}
