package expr

// TokenType identifies the lexical class of a token.
type TokenType string

const (
	tokenEOF     TokenType = "EOF"
	tokenIllegal TokenType = "ILLEGAL"

	tokenNumber TokenType = "NUMBER"
	tokenIdent  TokenType = "IDENT"

	tokenPlus     TokenType = "+"
	tokenMinus    TokenType = "-"
	tokenAsterisk TokenType = "*"
	tokenSlash    TokenType = "/"
	tokenCaret    TokenType = "^"
	tokenLParen   TokenType = "("
	tokenRParen   TokenType = ")"
	tokenComma    TokenType = ","
)

// Token is one lexical unit of a formula, with its byte offset for
// error reporting.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

// Lexer tokenizes a formula string. Formulas are short and static, so
// the lexer works on the whole input without buffering.
type Lexer struct {
	input string
	pos   int // current position
	next  int // next read position
	ch    byte
}

// NewLexer creates a lexer over the given formula.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.next >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.next]
	}
	l.pos = l.next
	l.next++
}

// NextToken returns the next token in the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.pos
	var tok Token

	switch l.ch {
	case '+':
		tok = Token{Type: tokenPlus, Literal: "+", Pos: pos}
	case '-':
		tok = Token{Type: tokenMinus, Literal: "-", Pos: pos}
	case '*':
		// "**" is accepted as a synonym for "^" since both appear in
		// hand-written runcard formulas.
		if l.peekChar() == '*' {
			l.readChar()
			tok = Token{Type: tokenCaret, Literal: "**", Pos: pos}
		} else {
			tok = Token{Type: tokenAsterisk, Literal: "*", Pos: pos}
		}
	case '/':
		tok = Token{Type: tokenSlash, Literal: "/", Pos: pos}
	case '^':
		tok = Token{Type: tokenCaret, Literal: "^", Pos: pos}
	case '(':
		tok = Token{Type: tokenLParen, Literal: "(", Pos: pos}
	case ')':
		tok = Token{Type: tokenRParen, Literal: ")", Pos: pos}
	case ',':
		tok = Token{Type: tokenComma, Literal: ",", Pos: pos}
	case 0:
		return Token{Type: tokenEOF, Pos: pos}
	default:
		if isDigit(l.ch) || l.ch == '.' {
			return Token{Type: tokenNumber, Literal: l.readNumber(), Pos: pos}
		}
		if isIdentStart(l.ch) {
			return Token{Type: tokenIdent, Literal: l.readIdent(), Pos: pos}
		}
		tok = Token{Type: tokenIllegal, Literal: string(l.ch), Pos: pos}
	}

	l.readChar()
	return tok
}

func (l *Lexer) peekChar() byte {
	if l.next >= len(l.input) {
		return 0
	}
	return l.input[l.next]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readNumber consumes a numeric literal, including an optional decimal
// part and exponent ("1", "1.4", "5e-3").
func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		// Only an exponent if followed by a digit or signed digit.
		if isDigit(l.peekChar()) {
			l.readChar()
			for isDigit(l.ch) {
				l.readChar()
			}
		} else if (l.peekChar() == '+' || l.peekChar() == '-') && l.next+1 < len(l.input) && isDigit(l.input[l.next+1]) {
			l.readChar()
			l.readChar()
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readIdent() string {
	start := l.pos
	for isIdentStart(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }

func isIdentStart(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}
