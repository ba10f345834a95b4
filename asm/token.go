package asm

import "fmt"

// TokenType identifies the kind of token produced by the lexer.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError

	TokenIdent    // mnemonic, variable or keyword: calc-add, x, true
	TokenNumber   // 12, -3b, 1.5f, 2L
	TokenString   // "text"
	TokenChar     // 'x'
	TokenSymbol   // 'name or '"odd name"
	TokenVar      // $name or $"odd name"
	TokenLabelRef // @name
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenColon    // :
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "Error",
	TokenIdent:    "Ident",
	TokenNumber:   "Number",
	TokenString:   "String",
	TokenChar:     "Char",
	TokenSymbol:   "Symbol",
	TokenVar:      "Var",
	TokenLabelRef: "LabelRef",
	TokenLBracket: "LBracket",
	TokenRBracket: "RBracket",
	TokenComma:    "Comma",
	TokenColon:    "Colon",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a 1-based location in the source.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical unit. For strings, chars, quoted symbols and quoted
// variables Literal holds the decoded text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %s", t.Type, t.Literal, t.Pos)
}
