package server

import "errors"

// Sentinel error values for the four ways a command line can fail before
// any handler reports its own result. Callers use errors.Is against these
// instead of string-matching ERROR output.
var (
	// ErrSyntax covers malformed input: an unexpected byte, a missing
	// quote.
	ErrSyntax = errors.New("atcmd: syntax error")
	// ErrUnknownCommand covers a well-formed reference to a letter,
	// S-parameter number, or extended name that isn't registered, or an
	// operation (read/write/test) the command doesn't support.
	ErrUnknownCommand = errors.New("atcmd: unknown command")
	// ErrSemantic covers a value that parses fine but violates a
	// declared constraint: a numeric parameter outside its ranges or
	// overflowing 32 bits, a string or hex-string longer than its declared
	// maximum, an odd hex-string nibble count, an omitted mandatory
	// parameter, a comma past the last parameter.
	ErrSemantic = errors.New("atcmd: semantic error")
	// ErrResource covers the line buffer running out of capacity for
	// the current line.
	ErrResource = errors.New("atcmd: resource exhausted")
)
