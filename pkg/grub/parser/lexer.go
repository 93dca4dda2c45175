/*
Copyright © 2024 The kexecboot Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package parser tokenizes and parses GRUB configuration source into the
// statement tree defined in pkg/grub/ast.
package parser

import (
	"strings"
	"unicode"

	"github.com/kexecboot/kexecboot/pkg/grub/token"
)

// Lexer turns GRUB source text into a token stream, one token per Next call.
type Lexer struct {
	src []rune
	pos int
}

// NewLexer returns a Lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{src: []rune(input)}
}

func (l *Lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *Lexer) nextRune() (rune, bool) {
	r, ok := l.peekRune()
	if ok {
		l.pos++
	}
	return r, ok
}

// Next returns the next token, or ok == false at end of input.
func (l *Lexer) Next() (token.Token, bool) {
	for {
		c, ok := l.nextRune()
		if !ok {
			return token.Token{}, false
		}
		if unicode.IsSpace(c) {
			if c == '\n' {
				return token.Token{Kind: token.Newline}, true
			}
			continue
		}
		switch c {
		case '"':
			return l.readQuotedValue(), true
		case '#':
			return l.readComment(), true
		case '&':
			return token.Token{Kind: token.Ampersand}, true
		case ';':
			return token.Token{Kind: token.Semicolon}, true
		case '!':
			return token.Token{Kind: token.ExclamationPoint}, true
		case '[':
			return token.Token{Kind: token.Value, Text: "["}, true
		case '\'':
			return l.readLiteral(), true
		case ']':
			return token.Token{Kind: token.CloseBracket}, true
		case '{':
			return token.Token{Kind: token.OpenBrace}, true
		case '|':
			return token.Token{Kind: token.Pipe}, true
		case '}':
			return token.Token{Kind: token.CloseBrace}, true
		default:
			return l.readOther(c), true
		}
	}
}

// readOther accumulates a bare word up to whitespace or ';', then classifies
// it as a reserved word or a plain Value.
func (l *Lexer) readOther(first rune) token.Token {
	var b strings.Builder
	b.WriteRune(first)
	for {
		c, ok := l.peekRune()
		if !ok || unicode.IsSpace(c) || c == ';' {
			break
		}
		b.WriteRune(c)
		l.pos++
	}
	word := b.String()
	if kind := token.Lookup(word); kind != token.Value {
		return token.Token{Kind: kind}
	}
	return token.Token{Kind: token.Value, Text: word}
}

func (l *Lexer) readQuotedValue() token.Token {
	var b strings.Builder
	for {
		c, ok := l.nextRune()
		if !ok || c == '"' {
			break
		}
		b.WriteRune(c)
	}
	return token.Token{Kind: token.Value, Text: b.String()}
}

func (l *Lexer) readLiteral() token.Token {
	var b strings.Builder
	for {
		c, ok := l.nextRune()
		if !ok || c == '\'' {
			break
		}
		b.WriteRune(c)
	}
	return token.Token{Kind: token.Literal, Text: b.String()}
}

// readComment consumes a '#' comment, continuing onto the next line when it
// is all-whitespace up to another '#' — a multi-line comment continuation —
// and stopping at a blank line or any non-continuation content.
func (l *Lexer) readComment() token.Token {
	var b strings.Builder
	for {
		c, ok := l.nextRune()
		if !ok {
			break
		}
		if c == '\n' {
			stop := false
			consumed := false
			for {
				next, ok := l.peekRune()
				if !ok {
					stop = true
					break
				}
				if unicode.IsSpace(next) {
					if next == '\n' {
						stop = true
						break
					}
					l.pos++
					continue
				}
				if next == '#' {
					l.pos++
					consumed = true
				}
				break
			}
			if stop || !consumed {
				break
			}
			b.WriteRune('\n')
			continue
		}
		b.WriteRune(c)
	}
	return token.Token{Kind: token.Comment, Text: strings.TrimSpace(b.String())}
}
