package catalog

import "fmt"

// Result is the outcome a handler reports back to the executor: OK moves
// on to the next command on the line, Error ends the line immediately,
// Async suspends the engine until a matching NotifyDone call resumes it.
type Result int

const (
	OK Result = iota
	ResultError
	Async
)

// CallType tells a handler why it is being invoked: the first time
// (Request), on every resumption after an Async return (Response), or as a
// one-shot notice that the engine is discarding the command (Abort).
type CallType int

const (
	Request CallType = iota
	Response
	Abort
)

func (c CallType) String() string {
	switch c {
	case Request:
		return "request"
	case Response:
		return "response"
	case Abort:
		return "abort"
	default:
		return "?"
	}
}

// Value is a parsed parameter as handed to a write handler: exactly one of
// Num, Str, Hex is meaningful, selected by Kind.
type Value struct {
	Kind ParamKind
	Num  uint32
	Str  string
	Hex  []byte
}

// Handle is the common surface every handler call gets, regardless of
// command kind. Concrete handles add the operations specific to basic vs.
// extended commands. Rather than one handle type per parameter kind,
// BasicHandle/ExtHandle are single interfaces whose Print* methods
// validate declaration order and kind at run time and panic (a programmer
// bug, not a user-facing error) on violation.
type Handle interface {
	// Context returns the opaque pointer installed via Server.SetContext.
	Context() interface{}
	// IsLast reports whether this is the final command on its line; used
	// by handlers that want to know whether their info text will actually
	// reach the wire (intermediate commands are silenced).
	IsLast() bool
	// CallType reports why this invocation is happening.
	CallType() CallType
	// InfoText writes framed response body content — V.250 information
	// text. May be called zero or more times per handler invocation.
	InfoText(format string, args ...interface{})
}

// BasicHandle is passed to basic and ampersand command handlers.
type BasicHandle interface {
	Handle
	// HasParam reports whether the command line carried the command's
	// optional numeric parameter.
	HasParam() bool
	// Param returns the parameter value; valid only when HasParam.
	Param() uint32
}

// ExtHandle is passed to extended command write, read, test, and abort
// handlers.
type ExtHandle interface {
	Handle
	// NumParams returns the command's declared parameter count.
	NumParams() int
	// ParamValue returns parsed parameter i (write handlers only; i must be
	// in [0, NumParams())).
	ParamValue(i int) Value
	// PrintExtHeader writes "+NAME:" for the command's own name, used by
	// read and test handlers to start their response line.
	PrintExtHeader()
	// PrintNumeric prints a parsed/produced numeric value in the given
	// base (2, 10, or 16). Must be called in declaration order against a
	// numeric parameter; a call against a non-numeric parameter or out of
	// order panics.
	PrintNumeric(v uint32, base int)
	// PrintString prints a string parameter value as "...".
	PrintString(s string)
	// PrintHexString prints a hex-string parameter value as uppercase hex
	// with no separators.
	PrintHexString(b []byte)
}

// BasicHandlerFunc executes a basic or ampersand command.
type BasicHandlerFunc func(h BasicHandle) Result

// ExtHandlerFunc executes an extended command write or read.
type ExtHandlerFunc func(h ExtHandle) Result

// ExtTestHandlerFunc answers a "+NAME=?" test query. Returning name == ""
// means the handler fully produced its own response; returning a non-empty
// name asks the executor to print the standard "+NAME:(ranges)" reply for
// that name (normally the command's own name) after the handler returns.
type ExtTestHandlerFunc func(h ExtHandle) (result Result, name string)

// ExtAbortHandlerFunc is called once when the engine discards a suspended
// command. Any value other than Async lets the engine drop the line, so a
// well-behaved abort handler returns OK or ResultError.
type ExtAbortHandlerFunc func(h ExtHandle) Result

// BasicCommand is a single-letter basic or ampersand command descriptor:
// A-Z excluding S, with at most one unsigned decimal parameter.
type BasicCommand struct {
	Letter  byte
	Numeric bool
	Ranges  []Range
	Handler BasicHandlerFunc
}

// NewBasicCommand validates and builds a basic/ampersand command
// descriptor. ranges is ignored when numeric is false.
func NewBasicCommand(letter byte, numeric bool, ranges []Range, handler BasicHandlerFunc) (BasicCommand, error) {
	if !IsUpperAlpha(letter) || letter == 'S' {
		return BasicCommand{}, fmt.Errorf("catalog: basic command letter must be A-Z excluding S, got %q", letter)
	}
	if handler == nil {
		return BasicCommand{}, fmt.Errorf("catalog: basic command %q needs a handler", letter)
	}
	if numeric {
		for _, r := range ranges {
			if r.Min > r.Max {
				return BasicCommand{}, fmt.Errorf("catalog: invalid range [%d,%d] for command %q", r.Min, r.Max, letter)
			}
		}
	}
	return BasicCommand{Letter: letter, Numeric: numeric, Ranges: append([]Range(nil), ranges...), Handler: handler}, nil
}

// ExtendedCommand is the build-time record for one "+NAME" command: a
// name, ordered parameter list, and up to four handlers.
type ExtendedCommand struct {
	Name   string
	Params []Param
	Write  ExtHandlerFunc
	Read   ExtHandlerFunc
	Test   ExtTestHandlerFunc
	AbortH ExtAbortHandlerFunc
}

// Writable, Readable, CustomTestable, Abortable report the command's
// registered capability set.
func (c ExtendedCommand) Writable() bool       { return c.Write != nil }
func (c ExtendedCommand) Readable() bool       { return c.Read != nil }
func (c ExtendedCommand) CustomTestable() bool { return c.Test != nil }
func (c ExtendedCommand) Abortable() bool      { return c.AbortH != nil }

// AllParamsOptional reports whether every declared parameter is optional,
// the precondition for "+NAME" (bare write, no "=") and for filling the
// rest of a parameter list with defaults at ";"/S3.
func (c ExtendedCommand) AllParamsOptional() bool {
	for _, p := range c.Params {
		if !p.Optional {
			return false
		}
	}
	return true
}

// WriteSlotSize returns the total encoded parameter payload size for one
// write record of this command.
func (c ExtendedCommand) WriteSlotSize() int {
	total := 0
	for _, p := range c.Params {
		total += p.SlotSize()
	}
	return total
}

func validateExtendedCommand(c ExtendedCommand) error {
	if !ValidName(c.Name) {
		return fmt.Errorf("catalog: extended command name %q is empty or outside the trie alphabet", c.Name)
	}
	if c.Write == nil && c.Read == nil && c.Test == nil && c.AbortH == nil {
		return fmt.Errorf("catalog: extended command %q registers no handlers", c.Name)
	}
	for i, p := range c.Params {
		if !p.Optional && p.HasDefault() {
			return fmt.Errorf("catalog: extended command %q parameter %d is mandatory but carries a default", c.Name, i)
		}
		if p.Kind.Numeric() && len(p.Ranges) == 0 {
			return fmt.Errorf("catalog: extended command %q parameter %d has no declared ranges", c.Name, i)
		}
	}
	return nil
}
