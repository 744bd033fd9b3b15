package server

// SessionParams holds the per-connection response-formatting parameters:
// the line-termination character (S3), the intermediate-line character
// (S4), the verbose/numeric result-code mode, and the echo flag. S3 and
// S4 are independent knobs; writing one never touches the other. Echo is
// stored for the transport's benefit — the core itself never reads it,
// echo policy belongs to whatever owns the wire.
type SessionParams struct {
	S3      byte
	S4      byte
	Verbose bool
	Echo    bool
}

// DefaultSessionParams returns the V.250-standard defaults: CR for S3, LF
// for S4, verbose result codes on, echo on.
func DefaultSessionParams() SessionParams {
	return SessionParams{S3: '\r', S4: '\n', Verbose: true, Echo: true}
}
