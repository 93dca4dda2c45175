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

package parser

import (
	"fmt"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/grub/ast"
	"github.com/kexecboot/kexecboot/pkg/grub/token"
)

// commands is the closed set of recognized GRUB command names; anything else
// at statement position is parsed as an assignment.
var commands = map[string]bool{}

func init() {
	for _, name := range []string{
		"[", "acpi", "authenticate", "background_color", "background_image",
		"badram", "blocklist", "boot", "cat", "chainloader", "clear",
		"cmosclean", "cmosdump", "cmostest", "cmp", "configfile", "cpuid",
		"crc", "cryptomount", "cutmem", "date", "devicetree", "distrust",
		"drivemap", "echo", "eval", "export", "false", "gettext", "gptsync",
		"halt", "hashsum", "help", "initrd", "initrd16", "insmod",
		"keystatus", "linux", "linux16", "list_env", "list_trusted",
		"load_env", "loadfont", "loopback", "ls", "lsfonts", "lsmod",
		"md5sum", "menuentry", "module", "multiboot", "nativedisk", "normal",
		"normal_exit", "parttool", "password", "password_pbkdf2", "play",
		"probe", "rdmsr", "read", "reboot", "regexp", "rmmod", "save_env",
		"search", "sendkey", "serial", "set", "sha1sum", "sha256sum",
		"sha512sum", "sleep", "smbios", "source", "submenu",
		"terminal_input", "terminal_output", "terminfo", "test", "true",
		"trust", "unset", "verify_detached", "videoinfo", "wrmsr",
		"xen_hypervisor", "xen_module",
	} {
		commands[name] = true
	}
}

// IsCommand reports whether name is one of the closed-set built-in command
// names the evaluator's dispatch table recognizes.
func IsCommand(name string) bool { return commands[name] }

// ParseError carries the unexpected token and what the parser expected.
type ParseError struct {
	Got      token.Token
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected token %q, expected %s", e.Got, e.Expected)
}

// Parser turns a token stream into an ast.Root.
type Parser struct {
	lex     *Lexer
	peeked  *token.Token
	atEOF   bool
}

// New returns a Parser reading from source.
func New(source string) *Parser {
	return &Parser{lex: NewLexer(source)}
}

func (p *Parser) peek() (token.Token, bool) {
	if p.peeked != nil {
		return *p.peeked, true
	}
	if p.atEOF {
		return token.Token{}, false
	}
	tok, ok := p.lex.Next()
	if !ok {
		p.atEOF = true
		return token.Token{}, false
	}
	p.peeked = &tok
	return tok, true
}

func (p *Parser) next() (token.Token, bool) {
	if p.peeked != nil {
		tok := *p.peeked
		p.peeked = nil
		return tok, true
	}
	return p.lex.Next()
}

func (p *Parser) mustNext(expected string) (token.Token, error) {
	tok, ok := p.next()
	if !ok {
		return token.Token{}, &ParseError{Expected: expected}
	}
	return tok, nil
}

// Parse reads the entire token stream into a Root. A parse error aborts and
// rejects the whole configuration file.
func (p *Parser) Parse() (ast.Root, error) {
	var root ast.Root
	for {
		tok, ok := p.next()
		if !ok {
			break
		}
		stmt, err := p.parseStatement(tok)
		if err != nil {
			return ast.Root{}, err
		}
		if stmt != nil {
			root.Statements = append(root.Statements, stmt)
		}
	}
	return root, nil
}

func (p *Parser) parseStatement(start token.Token) (ast.Statement, error) {
	switch start.Kind {
	case token.Newline, token.Semicolon, token.Comment:
		return nil, nil
	case token.If:
		return p.parseIf()
	case token.While:
		return p.parseWhile(false)
	case token.Until:
		return p.parseWhile(true)
	case token.ExclamationPoint:
		loop, err := p.mustNext("'while' or 'until' after '!'")
		if err != nil {
			return nil, err
		}
		switch loop.Kind {
		case token.While:
			return p.parseWhile(true)
		case token.Until:
			return p.parseWhile(false)
		}
		return nil, &ParseError{Got: loop, Expected: "'while' or 'until' after '!'"}
	case token.Function:
		return p.parseFunction()
	case token.Value:
		if IsCommand(start.Text) {
			return p.parseCommand(start.Text)
		}
		return p.parseAssignment(start.Text)
	default:
		return nil, &ParseError{Got: start, Expected: "statement"}
	}
}

func (p *Parser) parseAssignment(text string) (ast.Statement, error) {
	name, value, ok := strings.Cut(text, "=")
	if !ok {
		return nil, &ParseError{Expected: "'=' in assignment statement"}
	}
	a := ast.Assignment{Name: name}
	if value != "" {
		a.Value = &value
	}
	return a, nil
}

func (p *Parser) parseScope() ([]ast.Statement, error) {
	var body []ast.Statement
	for {
		tok, err := p.mustNext("'}'")
		if err != nil {
			return nil, err
		}
		if tok.Kind == token.CloseBrace {
			break
		}
		stmt, err := p.parseStatement(tok)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			body = append(body, stmt)
		}
	}
	return body, nil
}

func (p *Parser) parseCommand(name string) (ast.Command, error) {
	var args []ast.CommandArgument
	seenCloseBracket := false

	for {
		peeked, ok := p.peek()
		if !ok {
			break
		}
		if peeked.Kind == token.Newline || peeked.Kind == token.Semicolon {
			if name == "[" && !seenCloseBracket {
				return ast.Command{}, &ParseError{Got: peeked, Expected: "']' to close '['"}
			}
			break
		}

		tok, _ := p.next()
		switch tok.Kind {
		case token.Value:
			args = append(args, ast.CommandArgument{Kind: ast.ArgValue, Text: tok.Text})
		case token.Literal:
			args = append(args, ast.CommandArgument{Kind: ast.ArgLiteral, Text: tok.Text})
		case token.CloseBracket:
			if name != "[" {
				return ast.Command{}, &ParseError{Got: tok, Expected: "no unmatched ']'"}
			}
			seenCloseBracket = true
		case token.OpenBrace:
			block, err := p.parseScope()
			if err != nil {
				return ast.Command{}, err
			}
			args = append(args, ast.CommandArgument{Kind: ast.ArgBlock, Block: block})
		default:
			return ast.Command{}, &ParseError{Got: tok, Expected: "command argument"}
		}
	}

	if name == "[" {
		name = "test"
	}
	return ast.Command{Name: name, Args: args}, nil
}

// parseConditionHeader consumes an optional leading '!', the condition
// command, and the newline/semicolon that must terminate it. Shared by if,
// elif, while and until.
func (p *Parser) parseConditionHeader() (not bool, cond ast.Command, err error) {
	tok, err := p.mustNext("condition")
	if err != nil {
		return false, ast.Command{}, err
	}
	if tok.Kind == token.ExclamationPoint {
		not = true
		tok, err = p.mustNext("condition")
		if err != nil {
			return false, ast.Command{}, err
		}
	}
	if tok.Kind != token.Value || !IsCommand(tok.Text) {
		return false, ast.Command{}, &ParseError{Got: tok, Expected: "a command as the condition"}
	}
	cond, err = p.parseCommand(tok.Text)
	if err != nil {
		return false, ast.Command{}, err
	}

	end, err := p.mustNext("newline or ';' after condition")
	if err != nil {
		return false, ast.Command{}, err
	}
	if end.Kind != token.Newline && end.Kind != token.Semicolon {
		return false, ast.Command{}, &ParseError{Got: end, Expected: "newline or ';' after condition"}
	}
	return not, cond, nil
}

func (p *Parser) parseIf() (ast.Statement, error) {
	return p.parseIfOrElif()
}

func (p *Parser) parseIfOrElif() (ast.If, error) {
	not, cond, err := p.parseConditionHeader()
	if err != nil {
		return ast.If{}, err
	}

	then, err := p.mustNext("'then'")
	if err != nil {
		return ast.If{}, err
	}
	if then.Kind != token.Then {
		return ast.If{}, &ParseError{Got: then, Expected: "'then'"}
	}

	var consequence, alternative []ast.Statement
	var elifs []ast.If

	for {
		// Unlike every other construct, running out of tokens here ends the
		// chain the same way an explicit 'fi' would: a nested elif's own
		// loop may have already consumed the source's one terminating 'fi'.
		tok, ok := p.next()
		if !ok {
			return ast.If{Not: not, Condition: cond, Consequence: consequence, Elifs: elifs, Alternative: alternative}, nil
		}
		switch tok.Kind {
		case token.Elif:
			elif, err := p.parseIfOrElif()
			if err != nil {
				return ast.If{}, err
			}
			elifs = append(elifs, elif)
		case token.Else:
			alternative, err = p.parseElseBody()
			if err != nil {
				return ast.If{}, err
			}
		case token.Fi:
			return ast.If{Not: not, Condition: cond, Consequence: consequence, Elifs: elifs, Alternative: alternative}, nil
		default:
			stmt, err := p.parseStatement(tok)
			if err != nil {
				return ast.If{}, err
			}
			if stmt != nil {
				consequence = append(consequence, stmt)
			}
		}
		if tok.Kind == token.Else {
			fi, err := p.mustNext("'fi'")
			if err != nil {
				return ast.If{}, err
			}
			if fi.Kind != token.Fi {
				return ast.If{}, &ParseError{Got: fi, Expected: "'fi'"}
			}
			return ast.If{Not: not, Condition: cond, Consequence: consequence, Elifs: elifs, Alternative: alternative}, nil
		}
	}
}

func (p *Parser) parseElseBody() ([]ast.Statement, error) {
	var body []ast.Statement
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.Fi {
			return body, nil
		}
		p.next()
		stmt, err := p.parseStatement(tok)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			body = append(body, stmt)
		}
	}
}

// parseWhile parses "while COND; do BODY done" or "until COND; do BODY done".
// The reference parser left this unimplemented (todo!()); this follows the
// same condition/body structure as parseIfOrElif by analogy.
func (p *Parser) parseWhile(until bool) (ast.Statement, error) {
	not, cond, err := p.parseConditionHeader()
	if err != nil {
		return nil, err
	}
	do, err := p.mustNext("'do'")
	if err != nil {
		return nil, err
	}
	if do.Kind != token.Do {
		return nil, &ParseError{Got: do, Expected: "'do'"}
	}

	var body []ast.Statement
	for {
		tok, err := p.mustNext("'done'")
		if err != nil {
			return nil, err
		}
		if tok.Kind == token.Done {
			break
		}
		stmt, err := p.parseStatement(tok)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			body = append(body, stmt)
		}
	}

	// "! until" cancels out to a plain while; a leading '!' on a while
	// negates it to an until.
	effectiveUntil := until
	if not {
		effectiveUntil = !until
	}
	return ast.While{Until: effectiveUntil, Condition: cond, Body: body}, nil
}

func (p *Parser) parseFunction() (ast.Statement, error) {
	nameTok, err := p.mustNext("function name")
	if err != nil {
		return nil, err
	}
	if nameTok.Kind != token.Value {
		return nil, &ParseError{Got: nameTok, Expected: "function name"}
	}
	brace, err := p.mustNext("'{'")
	if err != nil {
		return nil, err
	}
	if brace.Kind != token.OpenBrace {
		return nil, &ParseError{Got: brace, Expected: "'{'"}
	}
	body, err := p.parseScope()
	if err != nil {
		return nil, err
	}
	return ast.Function{Name: nameTok.Text, Body: body}, nil
}
