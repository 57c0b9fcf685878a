package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// ParseJSON5 parses JSON5 text into a Node tree. Positions are 1-based.
// The filename is not set; callers stamp it with SetFilename.
func ParseJSON5(data []byte) (*Node, error) {
	p := &json5Parser{src: string(data), line: 1, col: 1}
	if strings.HasPrefix(p.src, "\ufeff") {
		p.pos = len("\ufeff")
	}
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	n, err := p.value()
	if err != nil {
		return nil, err
	}
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q after end of document", p.peekRune())
	}
	return n, nil
}

type json5Parser struct {
	src  string
	pos  int
	line int
	col  int
}

func (p *json5Parser) errorf(format string, args ...any) *Error {
	return &Error{Line: p.line, Column: p.col, Message: fmt.Sprintf(format, args...)}
}

func (p *json5Parser) eof() bool { return p.pos >= len(p.src) }

func (p *json5Parser) peekRune() rune {
	if p.eof() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

func (p *json5Parser) next() rune {
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	if r == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return r
}

func (p *json5Parser) skipSpace() error {
	for !p.eof() {
		r := p.peekRune()
		switch {
		case r == '/' && strings.HasPrefix(p.src[p.pos:], "//"):
			for !p.eof() && p.peekRune() != '\n' {
				p.next()
			}
		case r == '/' && strings.HasPrefix(p.src[p.pos:], "/*"):
			line, col := p.line, p.col
			p.next()
			p.next()
			for {
				if p.eof() {
					return &Error{Line: line, Column: col, Message: "unterminated block comment"}
				}
				if strings.HasPrefix(p.src[p.pos:], "*/") {
					p.next()
					p.next()
					break
				}
				p.next()
			}
		case unicode.IsSpace(r) || r == '\ufeff':
			p.next()
		default:
			return nil
		}
	}
	return nil
}

func (p *json5Parser) value() (*Node, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	start := &Node{Line: p.line, Column: p.col}
	r := p.peekRune()
	switch {
	case r == '{':
		return p.object(start)
	case r == '[':
		return p.array(start)
	case r == '"' || r == '\'':
		s, err := p.str()
		if err != nil {
			return nil, err
		}
		return withPos(&Node{Kind: KindString, Str: s}, start), nil
	case r == '-' || r == '+' || r == '.' || (r >= '0' && r <= '9'):
		f, err := p.number()
		if err != nil {
			return nil, err
		}
		return withPos(&Node{Kind: KindNumber, Num: f}, start), nil
	case isIdentStart(r):
		word := p.ident()
		switch word {
		case "null":
			return withPos(&Node{Kind: KindNull}, start), nil
		case "true":
			return withPos(&Node{Kind: KindBoolean, Bool: true}, start), nil
		case "false":
			return withPos(&Node{Kind: KindBoolean, Bool: false}, start), nil
		case "Infinity":
			return withPos(&Node{Kind: KindNumber, Num: math.Inf(1)}, start), nil
		case "NaN":
			return withPos(&Node{Kind: KindNumber, Num: math.NaN()}, start), nil
		}
		return nil, &Error{Line: start.Line, Column: start.Column, Message: fmt.Sprintf("unexpected identifier %q", word)}
	default:
		return nil, p.errorf("unexpected character %q", r)
	}
}

func (p *json5Parser) object(start *Node) (*Node, error) {
	p.next() // {
	n := withPos(&Node{Kind: KindObject, Fields: NewObject()}, start)
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, p.errorf("unterminated object")
		}
		if p.peekRune() == '}' {
			p.next()
			return n, nil
		}
		keyLine, keyCol := p.line, p.col
		var key string
		switch r := p.peekRune(); {
		case r == '"' || r == '\'':
			s, err := p.str()
			if err != nil {
				return nil, err
			}
			key = s
		case isIdentStart(r):
			key = p.ident()
		default:
			return nil, p.errorf("expected object key, found %q", r)
		}
		if _, dup := n.Fields.Get(key); dup {
			return nil, &Error{Line: keyLine, Column: keyCol, Message: fmt.Sprintf("duplicate key %q", key)}
		}
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.peekRune() != ':' {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		p.next()
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		n.Fields.Set(key, v)
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		switch p.peekRune() {
		case ',':
			p.next()
		case '}':
		default:
			if p.eof() {
				return nil, p.errorf("unterminated object")
			}
			return nil, p.errorf("expected ',' or '}', found %q", p.peekRune())
		}
	}
}

func (p *json5Parser) array(start *Node) (*Node, error) {
	p.next() // [
	n := withPos(&Node{Kind: KindArray, Items: []*Node{}}, start)
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, p.errorf("unterminated array")
		}
		if p.peekRune() == ']' {
			p.next()
			return n, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, v)
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		switch p.peekRune() {
		case ',':
			p.next()
		case ']':
		default:
			if p.eof() {
				return nil, p.errorf("unterminated array")
			}
			return nil, p.errorf("expected ',' or ']', found %q", p.peekRune())
		}
	}
}

func (p *json5Parser) str() (string, error) {
	line, col := p.line, p.col
	quote := p.next()
	var sb strings.Builder
	for {
		if p.eof() {
			return "", &Error{Line: line, Column: col, Message: "unterminated string"}
		}
		r := p.next()
		switch {
		case r == quote:
			return sb.String(), nil
		case r == '\n':
			return "", &Error{Line: line, Column: col, Message: "unescaped newline in string"}
		case r == '\\':
			if p.eof() {
				return "", &Error{Line: line, Column: col, Message: "unterminated string"}
			}
			if err := p.escape(&sb); err != nil {
				return "", err
			}
		default:
			sb.WriteRune(r)
		}
	}
}

func (p *json5Parser) escape(sb *strings.Builder) error {
	r := p.next()
	switch r {
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'v':
		sb.WriteByte('\v')
	case '0':
		sb.WriteByte(0)
	case '\n', '\u2028', '\u2029':
		// line continuation
	case '\r':
		if p.peekRune() == '\n' {
			p.next()
		}
	case 'x':
		v, err := p.hex(2)
		if err != nil {
			return err
		}
		sb.WriteRune(rune(v))
	case 'u':
		v, err := p.hex(4)
		if err != nil {
			return err
		}
		r := rune(v)
		if r >= 0xD800 && r < 0xDC00 && strings.HasPrefix(p.src[p.pos:], `\u`) {
			p.next()
			p.next()
			v, err := p.hex(4)
			if err != nil {
				return err
			}
			// An unpaired surrogate becomes U+FFFD; the second escape is kept.
			lo := rune(v)
			if pair := utf16.DecodeRune(r, lo); pair != utf8.RuneError {
				sb.WriteRune(pair)
				return nil
			}
			sb.WriteRune(utf8.RuneError)
			r = lo
		}
		sb.WriteRune(r)
	default:
		sb.WriteRune(r)
	}
	return nil
}

func (p *json5Parser) hex(digits int) (uint64, error) {
	if p.pos+digits > len(p.src) {
		return 0, p.errorf("truncated escape sequence")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return 0, p.errorf("invalid escape sequence %q", p.src[p.pos:p.pos+digits])
	}
	for i := 0; i < digits; i++ {
		p.next()
	}
	return v, nil
}

func (p *json5Parser) number() (float64, error) {
	line, col := p.line, p.col
	sign := 1.0
	switch p.peekRune() {
	case '-':
		sign = -1
		p.next()
	case '+':
		p.next()
	}
	if isIdentStart(p.peekRune()) {
		word := p.ident()
		switch word {
		case "Infinity":
			return sign * math.Inf(1), nil
		case "NaN":
			return math.NaN(), nil
		}
		return 0, &Error{Line: line, Column: col, Message: fmt.Sprintf("invalid number %q", word)}
	}
	begin := p.pos
	if strings.HasPrefix(p.src[p.pos:], "0x") || strings.HasPrefix(p.src[p.pos:], "0X") {
		p.next()
		p.next()
		hexStart := p.pos
		for !p.eof() && isHexDigit(p.peekRune()) {
			p.next()
		}
		v, err := strconv.ParseUint(p.src[hexStart:p.pos], 16, 64)
		if err != nil {
			return 0, &Error{Line: line, Column: col, Message: fmt.Sprintf("invalid hex number %q", p.src[begin:p.pos])}
		}
		return sign * float64(v), nil
	}
	for !p.eof() {
		r := p.peekRune()
		if (r >= '0' && r <= '9') || r == '.' || r == 'e' || r == 'E' {
			p.next()
			continue
		}
		if (r == '+' || r == '-') && p.pos > begin {
			if prev := p.src[p.pos-1]; prev == 'e' || prev == 'E' {
				p.next()
				continue
			}
		}
		break
	}
	text := p.src[begin:p.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || text == "" {
		return 0, &Error{Line: line, Column: col, Message: fmt.Sprintf("invalid number %q", text)}
	}
	return sign * f, nil
}

func (p *json5Parser) ident() string {
	begin := p.pos
	for !p.eof() {
		r := p.peekRune()
		if p.pos == begin && !isIdentStart(r) {
			break
		}
		if p.pos > begin && !isIdentPart(r) {
			break
		}
		p.next()
	}
	return p.src[begin:p.pos]
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200c' || r == '\u200d'
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
