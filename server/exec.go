package server

import "github.com/cesanta/atcmd/catalog"

// execState is the suspend/resume record: when a handler returns Async,
// invoke is the single thing needed to re-enter it (with a different
// CallType) without re-decoding the line.
type execState struct {
	suspended bool
	cmdID     int
	nextIdx   int
	isLast    bool
	isTest    bool
	errorSeen bool
	invoke    func(ct catalog.CallType) catalog.Result
}

// pendingCall is the decoded, ready-to-invoke shape of whatever command
// sits at the executor's current exec_index.
type pendingCall struct {
	cmdID   int
	nextIdx int
	isLast  bool
	isTest  bool
	invoke  func(ct catalog.CallType) catalog.Result
}

// continueExec drives the engine from the current execIndex to either
// line completion, a handler-reported error, or a suspension.
func (s *Server) continueExec() {
	for s.lb.execIndex != s.lb.parseOK {
		pc := s.buildPendingCall(s.lb.execIndex)
		var result catalog.Result
		s.withFraming(pc.isLast, pc.isTest, func() {
			result = pc.invoke(catalog.Request)
		})
		switch result {
		case catalog.ResultError:
			s.finishLine(true)
			return
		case catalog.Async:
			s.exec.suspended = true
			s.exec.cmdID = pc.cmdID
			s.exec.nextIdx = pc.nextIdx
			s.exec.isLast = pc.isLast
			s.exec.isTest = pc.isTest
			s.exec.invoke = pc.invoke
			return
		default:
			s.lb.execIndex = pc.nextIdx
		}
	}
	s.finishLine(s.exec.errorSeen)
}

// withFraming brackets one handler invocation with the lazy S3/S4
// framing, silencing the sink for the duration when this command is
// neither the last on its line nor a TEST reply.
func (s *Server) withFraming(isLast, isTest bool, fn func()) {
	s.out.beginInvocation()
	silence := !isLast && !isTest
	if silence {
		s.out.silence()
	}
	fn()
	s.out.endInvocation(s.session)
	if silence {
		s.out.unsilence()
	}
}

func (s *Server) finishLine(errorFlag bool) {
	code := RCOk
	if errorFlag {
		code = RCError
	} else {
		s.parser.lastErr = nil
	}
	s.out.printResultCode(s.session, code)
	s.parser.state = stIdle
	s.exec.suspended = false
	s.exec.errorSeen = false
}

// buildPendingCall decodes the command ID at pos and returns a closure
// that invokes its handler, without committing exec_index — the caller
// decides whether to advance based on the result.
func (s *Server) buildPendingCall(pos int) pendingCall {
	id, idSize := decodeCmdID(s.lb.buf, pos)
	base := s.cat.BasicIDBase()
	if id >= base {
		return s.buildBasicCall(id, id-base, pos+idSize)
	}
	extIdx, callType := catalog.DecodeExtCommandID(id)
	return s.buildExtCall(extIdx, callType, id, pos+idSize)
}

func (s *Server) buildBasicCall(cmdID, local int, payloadPos int) pendingCall {
	if local == catalog.SParamID {
		return s.buildSCall(payloadPos)
	}
	local--
	isAmp := local >= len(s.cat.Basic)
	var cmd catalog.BasicCommand
	if isAmp {
		cmd = s.cat.Ampersand[local-len(s.cat.Basic)]
	} else {
		cmd = s.cat.Basic[local]
	}
	nextIdx := payloadPos
	hasParam := false
	var paramVal uint32
	if cmd.Numeric {
		raw := decodeU32(s.lb.buf, payloadPos)
		nextIdx = payloadPos + 4
		if raw != absentBasicParam {
			hasParam = true
			paramVal = raw
		}
	}
	isLast := nextIdx == s.lb.parseOK
	return pendingCall{
		cmdID:   cmdID,
		nextIdx: nextIdx,
		isLast:  isLast,
		isTest:  false,
		invoke: func(ct catalog.CallType) catalog.Result {
			h := &basicHandle{srv: s, isLast: isLast, hasParam: hasParam, param: paramVal, callType: ct}
			return cmd.Handler(h)
		},
	}
}

// buildSCall handles the built-in S3/S4 pseudo-command, which has no
// user-registered handler: reads print a zero-padded decimal, writes
// apply the new byte directly to SessionParams.
func (s *Server) buildSCall(payloadPos int) pendingCall {
	descriptor := s.lb.buf[payloadPos]
	isWrite := descriptor&0x80 != 0
	n := descriptor & 0x7F
	nextIdx := payloadPos + 1
	if isWrite {
		nextIdx++
	}
	isLast := nextIdx == s.lb.parseOK
	return pendingCall{
		nextIdx: nextIdx,
		isLast:  isLast,
		isTest:  false,
		invoke: func(ct catalog.CallType) catalog.Result {
			if isWrite {
				value := s.lb.buf[payloadPos+1]
				switch n {
				case 3:
					s.session.S3 = value
				case 4:
					s.session.S4 = value
				}
				return catalog.OK
			}
			s.out.ensureHeader(s.session)
			var cur byte
			switch n {
			case 3:
				cur = s.session.S3
			case 4:
				cur = s.session.S4
			}
			s.out.printNumberPadded3(cur)
			return catalog.OK
		},
	}
}

func (s *Server) buildExtCall(extIdx int, callType catalog.ExtCallType, cmdID int, payloadPos int) pendingCall {
	ext := &s.cat.Extended[extIdx]
	switch callType {
	case catalog.ExtTest:
		isLast := payloadPos == s.lb.parseOK
		return pendingCall{
			cmdID: cmdID, nextIdx: payloadPos, isLast: isLast, isTest: true,
			invoke: func(ct catalog.CallType) catalog.Result {
				h := &extHandle{srv: s, ext: ext, isLast: isLast, callType: ct}
				if ext.Test != nil {
					result, name := ext.Test(h)
					if name != "" {
						s.out.ensureHeader(s.session)
						s.out.printTestReply(name, ext.Params)
					}
					return result
				}
				s.out.ensureHeader(s.session)
				s.out.printTestReply(ext.Name, ext.Params)
				return catalog.OK
			},
		}
	case catalog.ExtRead:
		isLast := payloadPos == s.lb.parseOK
		return pendingCall{
			cmdID: cmdID, nextIdx: payloadPos, isLast: isLast, isTest: false,
			invoke: func(ct catalog.CallType) catalog.Result {
				h := &extHandle{srv: s, ext: ext, isLast: isLast, callType: ct}
				if ct == catalog.Abort && ext.AbortH != nil {
					return ext.AbortH(h)
				}
				return ext.Read(h)
			},
		}
	default: // ExtWrite
		values := make([]catalog.Value, len(ext.Params))
		pos := payloadPos
		for i, p := range ext.Params {
			values[i] = decodeParam(s.lb.buf, pos, p)
			pos += p.SlotSize()
		}
		isLast := pos == s.lb.parseOK
		return pendingCall{
			cmdID: cmdID, nextIdx: pos, isLast: isLast, isTest: false,
			invoke: func(ct catalog.CallType) catalog.Result {
				h := &extHandle{srv: s, ext: ext, isLast: isLast, callType: ct, values: values}
				if ct == catalog.Abort && ext.AbortH != nil {
					return ext.AbortH(h)
				}
				return ext.Write(h)
			},
		}
	}
}

func decodeU32(buf []byte, pos int) uint32 {
	return uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16 | uint32(buf[pos+3])<<24
}

// NotifyDone resumes a suspended command, verifying cmdID matches the one
// the engine is actually waiting on. It returns false if nothing is
// suspended or the id doesn't match, in which case the call is ignored.
func (s *Server) NotifyDone(cmdID int) bool {
	if !s.exec.suspended || s.exec.cmdID != cmdID {
		return false
	}
	var result catalog.Result
	s.withFraming(s.exec.isLast, s.exec.isTest, func() {
		result = s.exec.invoke(catalog.Response)
	})
	switch result {
	case catalog.Async:
		return true
	case catalog.ResultError:
		s.exec.suspended = false
		s.finishLine(true)
		return true
	default:
		s.exec.suspended = false
		s.lb.execIndex = s.exec.nextIdx
		s.continueExec()
		return true
	}
}

// attemptAbort delivers a one-shot Abort call to a suspended handler and,
// unless it returns Async again, drops the line.
func (s *Server) attemptAbort() {
	if !s.exec.suspended {
		return
	}
	var result catalog.Result
	s.withFraming(s.exec.isLast, s.exec.isTest, func() {
		result = s.exec.invoke(catalog.Abort)
	})
	if result == catalog.Async {
		return
	}
	s.exec.suspended = false
	s.parser.state = stIdle
}
