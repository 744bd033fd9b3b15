package server

import (
	"encoding/binary"

	"github.com/cesanta/atcmd/catalog"
)

// lineBuffer is the encoded command line under construction: a
// fixed-capacity, append-only byte array with three cursors. parseIndex
// is the write
// cursor while the parser is mid-line; parseOK only ever advances at a
// committed command boundary, so a parse error never lets a half-encoded
// command reach the executor. execIndex is the executor's read cursor.
type lineBuffer struct {
	buf        []byte
	parseIndex int
	parseOK    int
	execIndex  int
}

func newLineBuffer(capacity int) *lineBuffer {
	return &lineBuffer{buf: make([]byte, capacity)}
}

func (lb *lineBuffer) resetParse() {
	lb.parseIndex = 0
	lb.parseOK = 0
}

func (lb *lineBuffer) resetExec() {
	lb.execIndex = 0
}

func (lb *lineBuffer) remainingCapacity() int {
	return len(lb.buf) - lb.parseIndex
}

// commit advances parseOK to the current parseIndex, the only place a
// command becomes visible to the executor.
func (lb *lineBuffer) commit() {
	lb.parseOK = lb.parseIndex
}

func (lb *lineBuffer) addByte(b byte) bool {
	if lb.parseIndex >= len(lb.buf) {
		return false
	}
	lb.buf[lb.parseIndex] = b
	lb.parseIndex++
	return true
}

// addCmdID appends a command ID in the variable-length 1-2 byte encoding:
// first byte's bit7 is a continuation flag, the 15-bit value split
// little-endian into the low 7 bits (first byte) and the high 8 bits
// (second byte).
func (lb *lineBuffer) addCmdID(id int) bool {
	low := byte(id & 0x7F)
	high := id >> 7
	if high == 0 {
		return lb.addByte(low)
	}
	return lb.addByte(low|0x80) && lb.addByte(byte(high&0xFF))
}

func decodeCmdID(buf []byte, pos int) (id int, n int) {
	b0 := buf[pos]
	id = int(b0 & 0x7F)
	if b0&0x80 == 0 {
		return id, 1
	}
	b1 := buf[pos+1]
	id |= int(b1) << 7
	return id, 2
}

// absentBasicParam is the sentinel payload value written for a basic or
// ampersand command's optional numeric parameter when no digit followed
// the letter. Basic command ranges never need the full u32 domain, so
// this value is never a parameter a handler could legitimately receive.
const absentBasicParam uint32 = 0xFFFFFFFF

// addNumeric appends a DEC/HEX/BIN parameter as a little-endian u32.
func (lb *lineBuffer) addNumeric(v uint32) bool {
	if lb.remainingCapacity() < 4 {
		return false
	}
	binary.LittleEndian.PutUint32(lb.buf[lb.parseIndex:], v)
	lb.parseIndex += 4
	return true
}

// addStringByte appends one raw content byte of a STR parameter.
func (lb *lineBuffer) addStringByte(b byte) bool {
	return lb.addByte(b)
}

// finalizeString closes a STR parameter's fixed maxLength+1 slot: a NUL
// terminator followed by remaining zero-padding bytes.
func (lb *lineBuffer) finalizeString(remaining int) bool {
	if !lb.addByte(0) {
		return false
	}
	for i := 0; i < remaining; i++ {
		if !lb.addByte(0) {
			return false
		}
	}
	return true
}

// addHexByte appends one packed content byte (two nibbles already
// combined) of a HEXSTR parameter.
func (lb *lineBuffer) addHexByte(b byte) bool {
	return lb.addByte(b)
}

// finalizeHexString closes a HEXSTR parameter's fixed maxSize+2 slot:
// zero-padding out to maxSize, then a 16-bit little-endian content length.
func (lb *lineBuffer) finalizeHexString(remaining int, length uint16) bool {
	for i := 0; i < remaining; i++ {
		if !lb.addByte(0) {
			return false
		}
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], length)
	return lb.addByte(lenBuf[0]) && lb.addByte(lenBuf[1])
}

// addDefault appends a parameter's declared default using the same
// encoding its parsed form would take.
func (lb *lineBuffer) addDefault(p catalog.Param) bool {
	switch {
	case p.Kind.Numeric():
		return lb.addNumeric(p.DefaultNumeric())
	case p.Kind == catalog.Str:
		s := p.DefaultString()
		for i := 0; i < len(s); i++ {
			if !lb.addStringByte(s[i]) {
				return false
			}
		}
		return lb.finalizeString(int(p.MaxLength) - len(s))
	case p.Kind == catalog.HexStr:
		h := p.DefaultHexString()
		for _, b := range h {
			if !lb.addHexByte(b) {
				return false
			}
		}
		return lb.finalizeHexString(int(p.MaxSize)-len(h), uint16(len(h)))
	default:
		return false
	}
}

// decodeParam reads one parameter value out of the encoded line at pos,
// according to p's kind and fixed slot layout.
func decodeParam(buf []byte, pos int, p catalog.Param) catalog.Value {
	switch {
	case p.Kind.Numeric():
		return catalog.Value{Kind: p.Kind, Num: binary.LittleEndian.Uint32(buf[pos:])}
	case p.Kind == catalog.Str:
		slot := buf[pos : pos+int(p.MaxLength)+1]
		n := 0
		for n < len(slot) && slot[n] != 0 {
			n++
		}
		return catalog.Value{Kind: catalog.Str, Str: string(slot[:n])}
	case p.Kind == catalog.HexStr:
		size := int(p.MaxSize)
		length := binary.LittleEndian.Uint16(buf[pos+size : pos+size+2])
		hex := append([]byte(nil), buf[pos:pos+int(length)]...)
		return catalog.Value{Kind: catalog.HexStr, Hex: hex}
	default:
		return catalog.Value{}
	}
}
