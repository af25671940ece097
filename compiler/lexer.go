package compiler

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Lua syntax
// ---------------------------------------------------------------------------

const eof = -1

// Lexer tokenizes Lua source. Lua strings are byte strings, so the lexer
// works on bytes rather than runes.
type Lexer struct {
	r      *bufio.Reader
	ch     int // current byte, or eof
	offset int // offset of ch
	line   int // line of ch (1-based)
	col    int // column of ch (1-based)
	err    error

	ahead *Token // token read by Peek and not yet returned by Next
}

// NewLexer creates a lexer reading from r.
func NewLexer(r io.Reader) *Lexer {
	l := &Lexer{
		r:      bufio.NewReader(r),
		offset: -1,
		line:   1,
	}
	l.readChar()
	return l
}

// NewStringLexer creates a lexer over an in-memory source.
func NewStringLexer(input string) *Lexer {
	return NewLexer(strings.NewReader(input))
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() Token {
	if l.ahead == nil {
		tok := l.NextToken()
		l.ahead = &tok
	}
	return *l.ahead
}

// Next consumes and returns the next token. After Peek it returns the
// peeked token without rescanning.
func (l *Lexer) Next() Token {
	if l.ahead != nil {
		tok := *l.ahead
		l.ahead = nil
		return tok
	}
	return l.NextToken()
}

// Tokenize returns every token up to and including EOF or the first error.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

// readChar advances to the next byte.
func (l *Lexer) readChar() {
	if l.ch == eof && l.offset >= 0 {
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.offset++
	l.col++
	b, err := l.r.ReadByte()
	if err != nil {
		if !errors.Is(err, io.EOF) && l.err == nil {
			l.err = err
		}
		l.ch = eof
		return
	}
	l.ch = int(b)
}

// peekChar returns the byte after ch without consuming it.
func (l *Lexer) peekChar() int {
	return l.peekAt(0)
}

// peekAt returns the byte i positions after the one following ch.
func (l *Lexer) peekAt(i int) int {
	buf, err := l.r.Peek(i + 1)
	if err != nil || len(buf) <= i {
		return eof
	}
	return int(buf[i])
}

func (l *Lexer) position() Position {
	return Position{Offset: l.offset, Line: l.line, Column: l.col}
}

func (l *Lexer) errorf(pos Position, format string, args ...interface{}) Token {
	return Token{Type: TokenError, Literal: fmt.Sprintf(format, args...), Pos: pos}
}

func (l *Lexer) simple(typ TokenType, pos Position, n int) Token {
	for i := 0; i < n; i++ {
		l.readChar()
	}
	return Token{Type: typ, Literal: typ.String(), Pos: pos}
}

// twoWay returns long if the byte after ch is next, otherwise short.
func (l *Lexer) twoWay(pos Position, next byte, long, short TokenType) Token {
	if l.peekChar() == int(next) {
		return l.simple(long, pos, 2)
	}
	return l.simple(short, pos, 1)
}

// NextToken scans the next token.
func (l *Lexer) NextToken() Token {
	if tok, ok := l.skipWhitespaceAndComments(); !ok {
		return tok
	}

	pos := l.position()
	if l.err != nil {
		return l.errorf(pos, "read error: %v", l.err)
	}

	switch ch := l.ch; {
	case ch == eof:
		return Token{Type: TokenEOF, Pos: pos}

	case ch == '+':
		return l.simple(TokenAdd, pos, 1)
	case ch == '-':
		return l.simple(TokenSub, pos, 1)
	case ch == '*':
		return l.simple(TokenMul, pos, 1)
	case ch == '%':
		return l.simple(TokenMod, pos, 1)
	case ch == '^':
		return l.simple(TokenPow, pos, 1)
	case ch == '#':
		return l.simple(TokenLen, pos, 1)
	case ch == '&':
		return l.simple(TokenBitAnd, pos, 1)
	case ch == '|':
		return l.simple(TokenBitOr, pos, 1)
	case ch == '(':
		return l.simple(TokenLParen, pos, 1)
	case ch == ')':
		return l.simple(TokenRParen, pos, 1)
	case ch == '{':
		return l.simple(TokenLBrace, pos, 1)
	case ch == '}':
		return l.simple(TokenRBrace, pos, 1)
	case ch == ']':
		return l.simple(TokenRBracket, pos, 1)
	case ch == ';':
		return l.simple(TokenSemicolon, pos, 1)
	case ch == ',':
		return l.simple(TokenComma, pos, 1)

	case ch == '/':
		return l.twoWay(pos, '/', TokenIdiv, TokenDiv)
	case ch == '=':
		return l.twoWay(pos, '=', TokenEqual, TokenAssign)
	case ch == '~':
		return l.twoWay(pos, '=', TokenNotEq, TokenBitXor)
	case ch == ':':
		return l.twoWay(pos, ':', TokenDoubColon, TokenColon)
	case ch == '<':
		if l.peekChar() == '<' {
			return l.simple(TokenShiftL, pos, 2)
		}
		return l.twoWay(pos, '=', TokenLessEq, TokenLess)
	case ch == '>':
		if l.peekChar() == '>' {
			return l.simple(TokenShiftR, pos, 2)
		}
		return l.twoWay(pos, '=', TokenGreaterEq, TokenGreater)

	case ch == '.':
		switch {
		case l.peekChar() == '.' && l.peekAt(1) == '.':
			return l.simple(TokenDots, pos, 3)
		case l.peekChar() == '.':
			return l.simple(TokenConcat, pos, 2)
		case isDigit(l.peekChar()):
			return l.readNumber(pos)
		}
		return l.simple(TokenDot, pos, 1)

	case ch == '[':
		level := l.longBracketLevel()
		switch {
		case level >= 0:
			s, ok := l.readLongString(level)
			if !ok {
				return l.errorf(pos, "unfinished long string")
			}
			return Token{Type: TokenString, Literal: s, Pos: pos}
		case level == -2:
			return l.errorf(pos, "invalid long string delimiter")
		}
		return l.simple(TokenLBracket, pos, 1)

	case ch == '"' || ch == '\'':
		return l.readString(pos)

	case isDigit(ch):
		return l.readNumber(pos)

	case isLetter(ch):
		return l.readName(pos)

	default:
		l.readChar()
		if ch < utf8.RuneSelf && strconv.IsPrint(rune(ch)) {
			return l.errorf(pos, "unexpected character: %c", ch)
		}
		return l.errorf(pos, "unexpected character: <\\%d>", ch)
	}
}

// skipWhitespaceAndComments skips whitespace and comments. It returns an
// error token and false when a long comment is not closed.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for isSpace(l.ch) {
			l.readChar()
		}

		if l.ch != '-' || l.peekChar() != '-' {
			return Token{}, true
		}

		pos := l.position()
		l.readChar()
		l.readChar()

		if l.ch == '[' {
			if level := l.longBracketLevel(); level >= 0 {
				if _, ok := l.readLongString(level); !ok {
					return l.errorf(pos, "unfinished long comment"), false
				}
				continue
			}
		}

		for l.ch != '\n' && l.ch != eof {
			l.readChar()
		}
	}
}

// longBracketLevel inspects an opening '[' at ch. It returns the number of
// '=' signs for "[[" / "[==[", -1 for a plain '[' and -2 for "[=" that is
// not followed by another '['.
func (l *Lexer) longBracketLevel() int {
	level := 0
	for l.peekAt(level) == '=' {
		level++
	}
	switch {
	case l.peekAt(level) == '[':
		return level
	case level > 0:
		return -2
	}
	return -1
}

// readLongString reads a long bracket body starting at the opening '['.
// A newline directly after the opening bracket is skipped.
func (l *Lexer) readLongString(level int) (string, bool) {
	for i := 0; i < level+2; i++ {
		l.readChar()
	}
	if l.ch == '\r' || l.ch == '\n' {
		l.skipNewline()
	}

	var buf bytes.Buffer
	for {
		switch l.ch {
		case eof:
			return "", false
		case ']':
			n := 0
			for l.peekAt(n) == '=' {
				n++
			}
			if n == level && l.peekAt(n) == ']' {
				for i := 0; i < level+2; i++ {
					l.readChar()
				}
				return buf.String(), true
			}
			buf.WriteByte(']')
			l.readChar()
		case '\r', '\n':
			l.skipNewline()
			buf.WriteByte('\n')
		default:
			buf.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
}

// skipNewline consumes one of \n, \r, \n\r or \r\n.
func (l *Lexer) skipNewline() {
	first := l.ch
	l.readChar()
	if (l.ch == '\n' || l.ch == '\r') && l.ch != first {
		l.readChar()
	}
}

// readString reads a quoted string and decodes its escapes.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar()

	var buf bytes.Buffer
	for l.ch != quote {
		switch l.ch {
		case eof, '\n', '\r':
			return l.errorf(pos, "unfinished string")
		case '\\':
			if tok, ok := l.readEscape(&buf); !ok {
				return tok
			}
		default:
			buf.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
	l.readChar() // closing quote

	return Token{Type: TokenString, Literal: buf.String(), Pos: pos}
}

var simpleEscapes = map[int]byte{
	'a':  '\a',
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
	'\\': '\\',
	'"':  '"',
	'\'': '\'',
}

// readEscape decodes one escape sequence starting at the backslash.
func (l *Lexer) readEscape(buf *bytes.Buffer) (Token, bool) {
	pos := l.position()
	l.readChar() // backslash

	if b, ok := simpleEscapes[l.ch]; ok {
		buf.WriteByte(b)
		l.readChar()
		return Token{}, true
	}

	switch {
	case l.ch == '\n' || l.ch == '\r':
		l.skipNewline()
		buf.WriteByte('\n')

	case l.ch == 'x':
		l.readChar()
		var v int
		for i := 0; i < 2; i++ {
			d, ok := hexValue(l.ch)
			if !ok {
				return l.errorf(pos, "hexadecimal digit expected"), false
			}
			v = v*16 + d
			l.readChar()
		}
		buf.WriteByte(byte(v))

	case l.ch == 'z':
		l.readChar()
		for isSpace(l.ch) {
			l.readChar()
		}

	case l.ch == 'u':
		l.readChar()
		if l.ch != '{' {
			return l.errorf(pos, "missing '{' in \\u{xxxx}"), false
		}
		l.readChar()
		var r rune
		digits := 0
		for {
			d, ok := hexValue(l.ch)
			if !ok {
				break
			}
			r = r*16 + rune(d)
			if r > utf8.MaxRune {
				return l.errorf(pos, "UTF-8 value too large"), false
			}
			digits++
			l.readChar()
		}
		if digits == 0 {
			return l.errorf(pos, "hexadecimal digit expected"), false
		}
		if l.ch != '}' {
			return l.errorf(pos, "missing '}' in \\u{xxxx}"), false
		}
		l.readChar()
		var enc [utf8.UTFMax]byte
		n := utf8.EncodeRune(enc[:], r)
		buf.Write(enc[:n])

	case isDigit(l.ch):
		v := 0
		for i := 0; i < 3 && isDigit(l.ch); i++ {
			v = v*10 + (l.ch - '0')
			l.readChar()
		}
		if v > 255 {
			return l.errorf(pos, "decimal escape too large"), false
		}
		buf.WriteByte(byte(v))

	case l.ch == eof:
		return l.errorf(pos, "unfinished string"), false

	default:
		return l.errorf(pos, "invalid escape sequence '\\%c'", l.ch), false
	}
	return Token{}, true
}

// readNumber reads a decimal or hexadecimal number. Decimal integers that
// overflow int64 become floats; hexadecimal integers wrap around.
func (l *Lexer) readNumber(pos Position) Token {
	var buf bytes.Buffer

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		buf.WriteByte('0')
		l.readChar()
		buf.WriteByte(byte(l.ch))
		l.readChar()
		var v uint64
		digits := 0
		for {
			d, ok := hexValue(l.ch)
			if !ok {
				break
			}
			v = v<<4 | uint64(d)
			buf.WriteByte(byte(l.ch))
			digits++
			l.readChar()
		}
		if digits == 0 || isLetter(l.ch) || l.ch == '.' {
			return l.malformed(pos, &buf)
		}
		return Token{Type: TokenInteger, Literal: buf.String(), Int: int64(v), Pos: pos}
	}

	isFloat := false
	for isDigit(l.ch) {
		buf.WriteByte(byte(l.ch))
		l.readChar()
	}
	if l.ch == '.' {
		isFloat = true
		buf.WriteByte('.')
		l.readChar()
		for isDigit(l.ch) {
			buf.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		buf.WriteByte(byte(l.ch))
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			buf.WriteByte(byte(l.ch))
			l.readChar()
		}
		if !isDigit(l.ch) {
			return l.malformed(pos, &buf)
		}
		for isDigit(l.ch) {
			buf.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
	if isLetter(l.ch) || l.ch == '.' {
		return l.malformed(pos, &buf)
	}

	text := buf.String()
	if !isFloat {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Token{Type: TokenInteger, Literal: text, Int: i, Pos: pos}
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return l.errorf(pos, "malformed number near '%s'", text)
	}
	return Token{Type: TokenFloat, Literal: text, Float: f, Pos: pos}
}

// malformed consumes the rest of an alphanumeric run and reports it.
func (l *Lexer) malformed(pos Position, buf *bytes.Buffer) Token {
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '.' {
		buf.WriteByte(byte(l.ch))
		l.readChar()
	}
	return l.errorf(pos, "malformed number near '%s'", buf.String())
}

// readName reads a name or reserved word.
func (l *Lexer) readName(pos Position) Token {
	var sb strings.Builder
	for isLetter(l.ch) || isDigit(l.ch) {
		sb.WriteByte(byte(l.ch))
		l.readChar()
	}
	name := sb.String()
	if typ, ok := reservedWords[name]; ok {
		return Token{Type: typ, Literal: name, Pos: pos}
	}
	return Token{Type: TokenName, Literal: name, Pos: pos}
}

// Helper functions

func isLetter(ch int) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isDigit(ch int) bool {
	return ch >= '0' && ch <= '9'
}

func isSpace(ch int) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func hexValue(ch int) (int, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}
