package server

import "github.com/cesanta/atcmd/catalog"

// pstate is the parser's finite state. A handful of generic states
// (paramStart, paramEnd) are parameterized by the parser's
// extIdx/paramIdx fields rather than expanded into one state per
// parameter kind.
type pstate int

const (
	stIdle pstate = iota
	stGotA // "A" consumed; next byte decides replay ('/'), body ('T'), or reset
	stBody
	stSParam
	stSWrite
	stAmpersand
	stBasicParam
	stExtended
	stExtEq
	stExtReadTest
	stParamStart
	stParamDec
	stParamHex
	stParamBin
	stParamStr
	stParamHexStr
	stParamEnd
	stError
	stExecuting
)

type parser struct {
	srv   *Server
	state pstate

	// lastErr is the reason the current or most recently completed line
	// ended in stError, surfaced through Server.LastError.
	lastErr error

	// Body/Ampersand dispatch scratch.
	basicAcc      uint32
	basicHasDigit bool
	basicCmd      catalog.BasicCommand
	basicIsAmp    bool

	// S-parameter scratch.
	sAcc uint32

	// Extended-command scratch.
	extIdx     int
	paramIdx   int
	numAcc     uint32
	strCount   int
	hexHasHigh bool
	hexHigh    byte
	hexCount   int
}

func newParser(srv *Server) *parser {
	return &parser{srv: srv, state: stIdle}
}

// feed processes one incoming byte. abortable mirrors Server.Feed's
// parameter: while executing, a true value attempts to abort the
// suspended command.
func (p *parser) feed(b byte, abortable bool) {
	if p.state == stExecuting {
		if abortable {
			p.srv.attemptAbort()
		}
		return
	}
	if p.state != stParamStr {
		if b == ' ' {
			return
		}
		b = catalog.ToUpper(b)
	}
	p.dispatch(b)
	// An error raised while consuming the terminator itself (range
	// validation, mandatory-parameter checks) must still finalize the
	// line now; there is no later byte to do it.
	if p.state == stError && b == p.srv.session.S3 {
		p.srv.finalize(true)
	}
}

func (p *parser) toError(err error) {
	p.lastErr = err
	p.state = stError
}

// toBodyFresh resets the line buffer and trie cursor for a new "AT" line
// and enters Body. Only valid at line start: it discards anything already
// committed.
func (p *parser) toBodyFresh() {
	p.srv.lb.resetParse()
	p.srv.trie.Reset()
	p.lastErr = nil
	p.state = stBody
}

// toBodyNext re-enters Body after a ";" separator mid-line: the trie
// cursor rewinds for the next command, but the line buffer keeps every
// command committed so far.
func (p *parser) toBodyNext() {
	p.srv.trie.Reset()
	p.state = stBody
}

func (p *parser) dispatch(b byte) {
	s3 := p.srv.session.S3
	switch p.state {
	case stIdle:
		if b == 'A' {
			p.state = stGotA
		}
	case stGotA:
		switch b {
		case 'T':
			p.toBodyFresh()
		case '/':
			p.state = stIdle
			p.srv.replayLastLine()
		default:
			p.state = stIdle
		}
	case stBody:
		p.dispatchBody(b, s3, false)
	case stAmpersand:
		p.dispatchBody(b, s3, true)
	case stSParam:
		p.dispatchSParam(b)
	case stSWrite:
		p.dispatchSWrite(b, s3)
	case stBasicParam:
		p.dispatchBasicParam(b, s3)
	case stExtended:
		p.dispatchExtended(b, s3)
	case stExtEq:
		p.dispatchExtEq(b)
	case stExtReadTest:
		p.dispatchExtReadTest(b, s3)
	case stParamStart:
		p.dispatchParamStart(b, s3)
	case stParamDec:
		p.dispatchParamNumeric(b, s3, catalog.Dec)
	case stParamHex:
		p.dispatchParamNumeric(b, s3, catalog.Hex)
	case stParamBin:
		p.dispatchParamNumeric(b, s3, catalog.Bin)
	case stParamStr:
		p.dispatchParamStr(b)
	case stParamHexStr:
		p.dispatchParamHexStr(b)
	case stParamEnd:
		p.afterParamValue(b, s3)
	case stError:
		if b == s3 {
			p.srv.finalize(true)
		}
	}
}

func (p *parser) dispatchBody(b, s3 byte, isAmp bool) {
	switch {
	case b == s3 && !isAmp:
		p.srv.finalize(false)
	case b == ';' && !isAmp:
		p.toBodyNext()
	case (b == ';' || b == s3) && isAmp:
		p.toError(ErrSyntax)
	case !isAmp && b == '&':
		p.state = stAmpersand
	case !isAmp && b == 'S':
		p.sAcc = 0
		p.state = stSParam
	case !isAmp && b == '+':
		p.state = stExtended
	case catalog.IsUpperAlpha(b) && b != 'S':
		var cmd catalog.BasicCommand
		var ok bool
		if isAmp {
			cmd, ok = p.srv.cat.LookupAmpersand(b)
		} else {
			cmd, ok = p.srv.cat.LookupBasic(b)
		}
		if !ok {
			p.toError(ErrUnknownCommand)
			return
		}
		p.basicCmd = cmd
		p.basicIsAmp = isAmp
		if !cmd.Numeric {
			p.commitBasic(cmd, isAmp, false, 0)
			if p.state != stError {
				p.state = stBody
			}
			return
		}
		p.basicAcc = 0
		p.basicHasDigit = false
		p.state = stBasicParam
	default:
		p.toError(ErrSyntax)
	}
}

func (p *parser) commitBasic(cmd catalog.BasicCommand, isAmp, hasParam bool, value uint32) {
	idx := indexOfLetter(p.letterTable(isAmp), cmd.Letter)
	var id int
	if isAmp {
		id = p.srv.cat.AmpersandCommandID(idx)
	} else {
		id = p.srv.cat.BasicCommandID(idx)
	}
	if !p.srv.lb.addCmdID(id) {
		p.toError(ErrResource)
		return
	}
	if cmd.Numeric {
		v := absentBasicParam
		if hasParam {
			v = value
		}
		if !p.srv.lb.addNumeric(v) {
			p.toError(ErrResource)
			return
		}
	}
	p.srv.lb.commit()
}

func (p *parser) letterTable(isAmp bool) []catalog.BasicCommand {
	if isAmp {
		return p.srv.cat.Ampersand
	}
	return p.srv.cat.Basic
}

func indexOfLetter(cmds []catalog.BasicCommand, letter byte) int {
	for i, c := range cmds {
		if c.Letter == letter {
			return i
		}
	}
	return -1
}

func (p *parser) dispatchSParam(b byte) {
	switch {
	case catalog.IsDigit(b):
		d := uint32(catalog.DigitValue(b))
		if p.sAcc > (0xFFFFFFFF-d)/10 {
			p.toError(ErrSemantic)
			return
		}
		p.sAcc = p.sAcc*10 + d
	case b == '=':
		if p.sAcc != 3 && p.sAcc != 4 {
			p.toError(ErrUnknownCommand)
			return
		}
		if !p.srv.lb.addCmdID(p.srv.cat.SCommandID()) || !p.srv.lb.addByte(0x80|byte(p.sAcc)) {
			p.toError(ErrResource)
			return
		}
		p.numAcc = 0
		p.state = stSWrite
	case b == '?':
		if p.sAcc != 3 && p.sAcc != 4 {
			p.toError(ErrUnknownCommand)
			return
		}
		if !p.srv.lb.addCmdID(p.srv.cat.SCommandID()) || !p.srv.lb.addByte(byte(p.sAcc)) {
			p.toError(ErrResource)
			return
		}
		p.srv.lb.commit()
		p.state = stBody
	default:
		p.toError(ErrSyntax)
	}
}

func (p *parser) dispatchSWrite(b, s3 byte) {
	switch {
	case catalog.IsDigit(b):
		d := uint32(catalog.DigitValue(b))
		if p.numAcc > (127-d)/10 {
			p.toError(ErrSemantic)
			return
		}
		v := p.numAcc*10 + d
		if v > 127 {
			p.toError(ErrSemantic)
			return
		}
		p.numAcc = v
	case b == ';' || b == s3:
		if !p.srv.lb.addByte(byte(p.numAcc)) {
			p.toError(ErrResource)
			return
		}
		p.srv.lb.commit()
		if b == ';' {
			p.toBodyNext()
		} else {
			p.srv.finalize(false)
		}
	default:
		p.toError(ErrSyntax)
	}
}

// dispatchBasicParam accumulates a basic/ampersand command's optional
// decimal parameter; the first non-digit byte ends the parameter and is
// re-dispatched as body input, so "ATX1V" runs X then V.
func (p *parser) dispatchBasicParam(b, s3 byte) {
	if catalog.IsDigit(b) {
		d := uint32(catalog.DigitValue(b))
		if p.basicAcc > (0xFFFFFFFF-d)/10 {
			p.toError(ErrSemantic)
			return
		}
		p.basicAcc = p.basicAcc*10 + d
		p.basicHasDigit = true
		return
	}
	if p.basicHasDigit && len(p.basicCmd.Ranges) > 0 && !catalog.ValidateNumeric(p.basicCmd.Ranges, p.basicAcc) {
		p.toError(ErrSemantic)
		return
	}
	p.commitBasic(p.basicCmd, p.basicIsAmp, p.basicHasDigit, p.basicAcc)
	if p.state == stError {
		return
	}
	p.state = stBody
	p.dispatch(b)
}

func (p *parser) dispatchExtended(b, s3 byte) {
	switch {
	case b == '=':
		if !p.srv.trie.IsLeaf() {
			p.toError(ErrUnknownCommand)
			return
		}
		p.extIdx = p.srv.trie.CommandIndex()
		p.state = stExtEq
	case b == '?':
		if !p.srv.trie.IsLeaf() {
			p.toError(ErrUnknownCommand)
			return
		}
		idx := p.srv.trie.CommandIndex()
		ext := &p.srv.cat.Extended[idx]
		if !ext.Readable() {
			p.toError(ErrUnknownCommand)
			return
		}
		if !p.srv.lb.addCmdID(catalog.ExtCommandID(idx, catalog.ExtRead)) {
			p.toError(ErrResource)
			return
		}
		p.srv.lb.commit()
		p.state = stExtReadTest
	case b == ';' || b == s3:
		if !p.srv.trie.IsLeaf() {
			p.toError(ErrUnknownCommand)
			return
		}
		idx := p.srv.trie.CommandIndex()
		ext := &p.srv.cat.Extended[idx]
		if !ext.Writable() || !ext.AllParamsOptional() {
			p.toError(ErrUnknownCommand)
			return
		}
		if !p.srv.lb.addCmdID(catalog.ExtCommandID(idx, catalog.ExtWrite)) {
			p.toError(ErrResource)
			return
		}
		for _, param := range ext.Params {
			if !p.srv.lb.addDefault(param) {
				p.toError(ErrResource)
				return
			}
		}
		p.srv.lb.commit()
		if b == ';' {
			p.toBodyNext()
		} else {
			p.srv.finalize(false)
		}
	default:
		if !p.srv.trie.Feed(b) {
			p.toError(ErrUnknownCommand)
		}
	}
}

func (p *parser) dispatchExtEq(b byte) {
	if b == '?' {
		if !p.srv.lb.addCmdID(catalog.ExtCommandID(p.extIdx, catalog.ExtTest)) {
			p.toError(ErrResource)
			return
		}
		p.srv.lb.commit()
		p.state = stExtReadTest
		return
	}
	ext := &p.srv.cat.Extended[p.extIdx]
	if !ext.Writable() {
		p.toError(ErrUnknownCommand)
		return
	}
	if !p.srv.lb.addCmdID(catalog.ExtCommandID(p.extIdx, catalog.ExtWrite)) {
		p.toError(ErrResource)
		return
	}
	p.paramIdx = 0
	p.state = stParamStart
	p.dispatch(b)
}

func (p *parser) dispatchExtReadTest(b, s3 byte) {
	switch b {
	case ';':
		p.toBodyNext()
	case s3:
		p.srv.finalize(false)
	default:
		p.toError(ErrSyntax)
	}
}

func (p *parser) currentExt() *catalog.ExtendedCommand {
	return &p.srv.cat.Extended[p.extIdx]
}

// fillRemainingDefaults encodes the declared default for every parameter
// from index from to the end of the list; all of them must be optional.
func (p *parser) fillRemainingDefaults(from int) error {
	ext := p.currentExt()
	for i := from; i < len(ext.Params); i++ {
		if !ext.Params[i].Optional {
			return ErrSemantic
		}
		if !p.srv.lb.addDefault(ext.Params[i]) {
			return ErrResource
		}
	}
	return nil
}

func (p *parser) finalizeWrite(thisLine rune) {
	p.srv.lb.commit()
	if thisLine == ';' {
		p.toBodyNext()
	} else {
		p.srv.finalize(false)
	}
}

func (p *parser) dispatchParamStart(b, s3 byte) {
	ext := p.currentExt()
	// A command with no declared parameters still accepts the bare "="
	// write form; anything after the "=" besides a terminator is noise.
	if p.paramIdx >= len(ext.Params) {
		if b == ';' || b == s3 {
			p.finalizeWrite(rune(b))
		} else {
			p.toError(ErrSyntax)
		}
		return
	}
	switch {
	case b == ',':
		if !ext.Params[p.paramIdx].Optional {
			p.toError(ErrSemantic)
			return
		}
		if !p.srv.lb.addDefault(ext.Params[p.paramIdx]) {
			p.toError(ErrResource)
			return
		}
		p.paramIdx++
		if p.paramIdx >= len(ext.Params) {
			p.toError(ErrSemantic)
			return
		}
	case b == ';' || b == s3:
		if err := p.fillRemainingDefaults(p.paramIdx); err != nil {
			p.toError(err)
			return
		}
		p.finalizeWrite(rune(b))
	default:
		param := ext.Params[p.paramIdx]
		switch param.Kind {
		case catalog.Dec:
			if !catalog.IsDigit(b) {
				p.toError(ErrSyntax)
				return
			}
			p.numAcc = uint32(catalog.DigitValue(b))
			p.state = stParamDec
		case catalog.Hex:
			hv := catalog.HexValue(b)
			if hv < 0 {
				p.toError(ErrSyntax)
				return
			}
			p.numAcc = uint32(hv)
			p.state = stParamHex
		case catalog.Bin:
			if b != '0' && b != '1' {
				p.toError(ErrSyntax)
				return
			}
			p.numAcc = uint32(b - '0')
			p.state = stParamBin
		case catalog.Str:
			if b != '"' {
				p.toError(ErrSyntax)
				return
			}
			p.strCount = 0
			p.state = stParamStr
		case catalog.HexStr:
			if b != '"' {
				p.toError(ErrSyntax)
				return
			}
			p.hexHasHigh = false
			p.hexCount = 0
			p.state = stParamHexStr
		}
	}
}

func (p *parser) dispatchParamNumeric(b, s3 byte, kind catalog.ParamKind) {
	var d uint32
	var ok bool
	switch kind {
	case catalog.Dec:
		if catalog.IsDigit(b) {
			d, ok = uint32(catalog.DigitValue(b)), true
		}
	case catalog.Hex:
		if hv := catalog.HexValue(b); hv >= 0 {
			d, ok = uint32(hv), true
		}
	case catalog.Bin:
		if b == '0' || b == '1' {
			d, ok = uint32(b-'0'), true
		}
	}
	if ok {
		base := uint32(10)
		if kind == catalog.Hex {
			base = 16
		} else if kind == catalog.Bin {
			base = 2
		}
		if p.numAcc > (0xFFFFFFFF-d)/base {
			p.toError(ErrSemantic)
			return
		}
		p.numAcc = p.numAcc*base + d
		return
	}
	if b != ',' && b != ';' && b != s3 {
		p.toError(ErrSyntax)
		return
	}
	ext := p.currentExt()
	param := ext.Params[p.paramIdx]
	if !catalog.ValidateNumeric(param.Ranges, p.numAcc) {
		p.toError(ErrSemantic)
		return
	}
	if !p.srv.lb.addNumeric(p.numAcc) {
		p.toError(ErrResource)
		return
	}
	p.afterParamValue(b, s3)
}

func (p *parser) dispatchParamStr(b byte) {
	if b == '"' {
		ext := p.currentExt()
		maxLen := int(ext.Params[p.paramIdx].MaxLength)
		if !p.srv.lb.finalizeString(maxLen - p.strCount) {
			p.toError(ErrResource)
			return
		}
		p.state = stParamEnd
		return
	}
	if p.strCount >= int(p.currentExt().Params[p.paramIdx].MaxLength) {
		p.toError(ErrSemantic)
		return
	}
	if !p.srv.lb.addStringByte(b) {
		p.toError(ErrResource)
		return
	}
	p.strCount++
}

func (p *parser) dispatchParamHexStr(b byte) {
	switch {
	case b == ' ' || b == '-':
		// formatting-only, ignored within the quotes too
	case b == '"':
		if p.hexHasHigh {
			p.toError(ErrSemantic)
			return
		}
		maxSize := int(p.currentExt().Params[p.paramIdx].MaxSize)
		if !p.srv.lb.finalizeHexString(maxSize-p.hexCount, uint16(p.hexCount)) {
			p.toError(ErrResource)
			return
		}
		p.state = stParamEnd
	default:
		hv := catalog.HexValue(b)
		if hv < 0 {
			p.toError(ErrSyntax)
			return
		}
		if !p.hexHasHigh {
			p.hexHigh = byte(hv)
			p.hexHasHigh = true
			return
		}
		if p.hexCount >= int(p.currentExt().Params[p.paramIdx].MaxSize) {
			p.toError(ErrSemantic)
			return
		}
		full := p.hexHigh<<4 | byte(hv)
		if !p.srv.lb.addHexByte(full) {
			p.toError(ErrResource)
			return
		}
		p.hexCount++
		p.hexHasHigh = false
	}
}

func (p *parser) afterParamValue(b, s3 byte) {
	switch {
	case b == ',':
		p.paramIdx++
		if p.paramIdx >= len(p.currentExt().Params) {
			p.toError(ErrSemantic)
			return
		}
		p.state = stParamStart
	case b == ';' || b == s3:
		if err := p.fillRemainingDefaults(p.paramIdx + 1); err != nil {
			p.toError(err)
			return
		}
		p.finalizeWrite(rune(b))
	default:
		p.toError(ErrSyntax)
	}
}
