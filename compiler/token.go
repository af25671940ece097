package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Lua lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenName    // foo, _bar
	TokenString  // "hello", 'hello', [[hello]]
	TokenInteger // 42, 0xFF
	TokenFloat   // 3.14, 1e10

	// Keywords
	TokenAnd
	TokenBreak
	TokenDo
	TokenElse
	TokenElseif
	TokenEnd
	TokenFalse
	TokenFor
	TokenFunction
	TokenGoto
	TokenIf
	TokenIn
	TokenLocal
	TokenNil
	TokenNot
	TokenOr
	TokenRepeat
	TokenReturn
	TokenThen
	TokenTrue
	TokenUntil
	TokenWhile

	// Operators
	TokenAdd       // +
	TokenSub       // -
	TokenMul       // *
	TokenDiv       // /
	TokenIdiv      // //
	TokenMod       // %
	TokenPow       // ^
	TokenLen       // #
	TokenBitAnd    // &
	TokenBitXor    // ~
	TokenBitOr     // |
	TokenShiftL    // <<
	TokenShiftR    // >>
	TokenConcat    // ..
	TokenEqual     // ==
	TokenNotEq     // ~=
	TokenLess      // <
	TokenLessEq    // <=
	TokenGreater   // >
	TokenGreaterEq // >=
	TokenAssign    // =

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenDoubColon // ::
	TokenSemicolon // ;
	TokenColon     // :
	TokenComma     // ,
	TokenDot       // .
	TokenDots      // ...
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenError:   "ERROR",
	TokenName:    "NAME",
	TokenString:  "STRING",
	TokenInteger: "INTEGER",
	TokenFloat:   "FLOAT",

	TokenAnd:      "and",
	TokenBreak:    "break",
	TokenDo:       "do",
	TokenElse:     "else",
	TokenElseif:   "elseif",
	TokenEnd:      "end",
	TokenFalse:    "false",
	TokenFor:      "for",
	TokenFunction: "function",
	TokenGoto:     "goto",
	TokenIf:       "if",
	TokenIn:       "in",
	TokenLocal:    "local",
	TokenNil:      "nil",
	TokenNot:      "not",
	TokenOr:       "or",
	TokenRepeat:   "repeat",
	TokenReturn:   "return",
	TokenThen:     "then",
	TokenTrue:     "true",
	TokenUntil:    "until",
	TokenWhile:    "while",

	TokenAdd:       "+",
	TokenSub:       "-",
	TokenMul:       "*",
	TokenDiv:       "/",
	TokenIdiv:      "//",
	TokenMod:       "%",
	TokenPow:       "^",
	TokenLen:       "#",
	TokenBitAnd:    "&",
	TokenBitXor:    "~",
	TokenBitOr:     "|",
	TokenShiftL:    "<<",
	TokenShiftR:    ">>",
	TokenConcat:    "..",
	TokenEqual:     "==",
	TokenNotEq:     "~=",
	TokenLess:      "<",
	TokenLessEq:    "<=",
	TokenGreater:   ">",
	TokenGreaterEq: ">=",
	TokenAssign:    "=",

	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenDoubColon: "::",
	TokenSemicolon: ";",
	TokenColon:     ":",
	TokenComma:     ",",
	TokenDot:       ".",
	TokenDots:      "...",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position represents a location in source code.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // name, decoded string bytes, raw number text or error message
	Int     int64    // value of a TokenInteger
	Float   float64  // value of a TokenFloat
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	case TokenName, TokenString, TokenInteger, TokenFloat:
		if len(t.Literal) > 20 {
			return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
		}
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	return fmt.Sprintf("'%s'", t.Type)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"and":      TokenAnd,
	"break":    TokenBreak,
	"do":       TokenDo,
	"else":     TokenElse,
	"elseif":   TokenElseif,
	"end":      TokenEnd,
	"false":    TokenFalse,
	"for":      TokenFor,
	"function": TokenFunction,
	"goto":     TokenGoto,
	"if":       TokenIf,
	"in":       TokenIn,
	"local":    TokenLocal,
	"nil":      TokenNil,
	"not":      TokenNot,
	"or":       TokenOr,
	"repeat":   TokenRepeat,
	"return":   TokenReturn,
	"then":     TokenThen,
	"true":     TokenTrue,
	"until":    TokenUntil,
	"while":    TokenWhile,
}
