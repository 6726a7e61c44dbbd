package terminal

import "unicode/utf8"

// Performer receives the actions decoded from a terminal byte stream.
type Performer interface {
	Print(r rune)
	Execute(b byte)
	CSIDispatch(final byte, params []int, private bool)
	ESCDispatch(final byte, intermediates []byte)
}

type parserState uint8

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateString
)

const maxParams = 16

// Parser is a byte-at-a-time escape sequence decoder. Partial sequences and
// partial UTF-8 runes are carried across Advance calls.
type Parser struct {
	state         parserState
	params        []int
	current       int
	hasCurrent    bool
	private       bool
	intermediates []byte
	stringEsc     bool
	utf8Buf       [utf8.UTFMax]byte
	utf8Len       int
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Advance(perf Performer, data []byte) {
	for _, b := range data {
		p.step(perf, b)
	}
}

func (p *Parser) step(perf Performer, b byte) {
	if p.utf8Len > 0 && (p.state != stateGround || b&0xC0 != 0x80) {
		perf.Print(utf8.RuneError)
		p.utf8Len = 0
	}
	switch p.state {
	case stateGround:
		p.ground(perf, b)
	case stateEscape:
		p.escape(perf, b)
	case stateCSI:
		p.csi(perf, b)
	case stateString:
		p.str(perf, b)
	}
}

func (p *Parser) ground(perf Performer, b byte) {
	switch {
	case b == 0x1b:
		p.enterEscape()
	case b >= 0x80:
		p.utf8Buf[p.utf8Len] = b
		p.utf8Len++
		if utf8.FullRune(p.utf8Buf[:p.utf8Len]) {
			r, _ := utf8.DecodeRune(p.utf8Buf[:p.utf8Len])
			p.utf8Len = 0
			perf.Print(r)
		} else if p.utf8Len == utf8.UTFMax {
			p.utf8Len = 0
			perf.Print(utf8.RuneError)
		}
	case b < 0x20:
		perf.Execute(b)
	case b == 0x7f:
	default:
		perf.Print(rune(b))
	}
}

func (p *Parser) escape(perf Performer, b byte) {
	switch {
	case b == 0x1b:
		p.enterEscape()
	case b == 0x18 || b == 0x1a:
		p.state = stateGround
	case b < 0x20:
		perf.Execute(b)
	case b >= 0x20 && b <= 0x2f:
		p.intermediates = append(p.intermediates, b)
	case b == '[' && len(p.intermediates) == 0:
		p.state = stateCSI
	case (b == ']' || b == 'P' || b == 'X' || b == '^' || b == '_') && len(p.intermediates) == 0:
		p.state = stateString
		p.stringEsc = false
	default:
		perf.ESCDispatch(b, p.intermediates)
		p.state = stateGround
	}
}

func (p *Parser) csi(perf Performer, b byte) {
	switch {
	case b == 0x1b:
		p.enterEscape()
	case b == 0x18 || b == 0x1a:
		p.state = stateGround
	case b < 0x20:
		perf.Execute(b)
	case b >= '0' && b <= '9':
		p.current = p.current*10 + int(b-'0')
		if p.current > 65535 {
			p.current = 65535
		}
		p.hasCurrent = true
	case b == ';' || b == ':':
		p.pushParam()
	case b >= 0x3c && b <= 0x3f:
		p.private = true
	case b >= 0x20 && b <= 0x2f:
		p.intermediates = append(p.intermediates, b)
	case b >= 0x40 && b <= 0x7e:
		if p.hasCurrent || len(p.params) > 0 {
			p.pushParam()
		}
		perf.CSIDispatch(b, p.params, p.private || len(p.intermediates) > 0)
		p.state = stateGround
	}
}

// str consumes OSC, DCS, SOS, PM and APC payloads up to BEL or ST.
func (p *Parser) str(perf Performer, b byte) {
	if p.stringEsc {
		p.stringEsc = false
		if b == '\\' {
			p.state = stateGround
			return
		}
		p.enterEscape()
		p.escape(perf, b)
		return
	}
	switch b {
	case 0x07, 0x18, 0x1a:
		p.state = stateGround
	case 0x1b:
		p.stringEsc = true
	}
}

func (p *Parser) enterEscape() {
	p.state = stateEscape
	p.params = p.params[:0]
	p.current = 0
	p.hasCurrent = false
	p.private = false
	p.intermediates = p.intermediates[:0]
}

func (p *Parser) pushParam() {
	if len(p.params) < maxParams {
		p.params = append(p.params, p.current)
	}
	p.current = 0
	p.hasCurrent = false
}
