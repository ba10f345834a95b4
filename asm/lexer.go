package asm

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for one line of assembly
// ---------------------------------------------------------------------------

// Lexer tokenizes a single source line. The textual form is line oriented,
// so the assembler creates one lexer per line.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // source line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a lexer for input, which is line number line of the
// source.
func NewLexer(input string, line int) *Lexer {
	l := &Lexer{input: input, line: line}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Line: l.line, Column: l.col}
}

// Rest returns the unread remainder of the line, starting at the current
// character.
func (l *Lexer) Rest() string {
	return l.input[l.pos:]
}

// Tokens returns every token up to the end of the line or a comment.
func (l *Lexer) Tokens() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return toks
		}
		toks = append(toks, tok)
		if tok.Type == TokenError {
			return toks
		}
	}
}

// NextToken returns the next token. A ';' starts a comment that runs to the
// end of the line.
func (l *Lexer) NextToken() Token {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' {
		l.readChar()
	}
	pos := l.position()

	switch {
	case l.ch == 0 || l.ch == ';':
		return Token{Type: TokenEOF, Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == ':':
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Pos: pos}

	case l.ch == '"':
		return l.readString(TokenString, pos)

	case l.ch == '\'':
		return l.readQuote(pos)

	case l.ch == '$':
		l.readChar()
		return l.readName(TokenVar, pos)

	case l.ch == '@':
		l.readChar()
		return l.readName(TokenLabelRef, pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case (l.ch == '-' || l.ch == '+') && isDigit(l.peekChar()):
		return l.readNumber(pos)

	case l.ch == '-' && isLetter(l.peekChar()):
		// -inf
		start := l.pos
		l.readChar()
		for isIdentChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: pos}

	case isLetter(l.ch) || l.ch == '_':
		start := l.pos
		for isIdentChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: pos}

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
	}
}

// readString reads a double-quoted string with Go escapes and returns a
// token of type typ holding the decoded text.
func (l *Lexer) readString(typ TokenType, pos Position) Token {
	start := l.pos
	l.readChar() // opening quote
	for l.ch != '"' {
		switch l.ch {
		case 0:
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case '\\':
			l.readChar()
		}
		l.readChar()
	}
	l.readChar() // closing quote
	s, err := strconv.Unquote(l.input[start:l.pos])
	if err != nil {
		return Token{Type: TokenError, Literal: fmt.Sprintf("bad string literal: %v", err), Pos: pos}
	}
	return Token{Type: typ, Literal: s, Pos: pos}
}

// readQuote reads 'x' (a character) or 'name (a symbol).
func (l *Lexer) readQuote(pos Position) Token {
	l.readChar() // '
	if l.ch != 0 && l.ch != '\'' {
		r, _, tail, err := strconv.UnquoteChar(l.input[l.pos:], '\'')
		if err == nil && len(tail) > 0 && tail[0] == '\'' {
			end := len(l.input) - len(tail) + 1
			for l.pos < end {
				l.readChar()
			}
			return Token{Type: TokenChar, Literal: string(r), Pos: pos}
		}
	}
	if l.ch == '"' {
		return l.readString(TokenSymbol, pos)
	}
	return l.readName(TokenSymbol, pos)
}

// readName reads the name following a ', $ or @ sigil. Quoted names are
// allowed for symbols and variables.
func (l *Lexer) readName(typ TokenType, pos Position) Token {
	if l.ch == '"' && typ != TokenLabelRef {
		return l.readString(typ, pos)
	}
	start := l.pos
	for isIdentChar(l.ch) {
		l.readChar()
	}
	if l.pos == start {
		return Token{Type: TokenError, Literal: fmt.Sprintf("missing name after %s sigil", typ), Pos: pos}
	}
	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

// readNumber reads a numeric literal including its sign, exponent and type
// suffix. Interpretation is left to the assembler.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}
	for {
		switch {
		case isDigit(l.ch) || isLetter(l.ch) || l.ch == '.' || l.ch == '_':
			prev := l.ch
			l.readChar()
			if (prev == 'e' || prev == 'E') && (l.ch == '-' || l.ch == '+') {
				l.readChar()
			}
		default:
			return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch rune) bool {
	return unicode.IsLetter(ch)
}

// isIdentChar reports whether ch may appear in a mnemonic, variable, label
// or symbol name after the first character.
func isIdentChar(ch rune) bool {
	switch ch {
	case '_', '-', '?', '!', '.', '/':
		return true
	}
	return isLetter(ch) || unicode.IsDigit(ch)
}

// IsIdent reports whether s can be written as a bare name.
func IsIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !isIdentChar(r) {
			return false
		}
	}
	return true
}
