package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the unit/patch source lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42
	TokenString     // "hello"
	TokenIdentifier // foo, add_one

	// Reserved words
	TokenUnit
	TokenDef
	TokenDefp
	TokenIf
	TokenThen
	TokenElse
	TokenTrue
	TokenFalse
	TokenRaise

	// Operators
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenEq      // ==
	TokenNotEq   // !=
	TokenLess    // <
	TokenLessEq  // <=
	TokenGreater // >
	TokenGreatEq // >=
	TokenAssign  // =

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenColon    // :
	TokenDot      // .
	TokenAt       // @
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenUnit:       "unit",
	TokenDef:        "def",
	TokenDefp:       "defp",
	TokenIf:         "if",
	TokenThen:       "then",
	TokenElse:       "else",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenRaise:      "raise",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenEq:         "==",
	TokenNotEq:      "!=",
	TokenLess:       "<",
	TokenLessEq:     "<=",
	TokenGreater:    ">",
	TokenGreatEq:    ">=",
	TokenAssign:     "=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenDot:        ".",
	TokenAt:         "@",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"unit":  TokenUnit,
	"def":   TokenDef,
	"defp":  TokenDefp,
	"if":    TokenIf,
	"then":  TokenThen,
	"else":  TokenElse,
	"true":  TokenTrue,
	"false": TokenFalse,
	"raise": TokenRaise,
}

// binaryPrecedence gives the binding power of infix operators. Higher binds
// tighter; tokens absent from the map are not infix operators.
var binaryPrecedence = map[TokenType]int{
	TokenEq:      1,
	TokenNotEq:   1,
	TokenLess:    2,
	TokenLessEq:  2,
	TokenGreater: 2,
	TokenGreatEq: 2,
	TokenPlus:    3,
	TokenMinus:   3,
	TokenStar:    4,
	TokenSlash:   4,
	TokenPercent: 4,
}
