// Package parser turns a lexer.Token stream into an ast.Script by recursive
// descent over RFC 5228's grammar (§8.2), desugaring if/elsif/else chains
// into ast.Node.Else as the validator expects. Tests that themselves carry
// nested tests - not, anyof, allof - are recognized by name here, since the
// RFC's "arguments = *argument [test-list]" production only applies
// uniformly to the generic-command shape; if/elsif/not take a single
// unparenthesized test, anyof/allof take a parenthesized, comma-separated
// test-list.
package parser

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/lexer"
)

// logicTests names the tests that carry nested subtests rather than a
// positional/tagged argument list.
var logicTests = map[string]bool{"not": true, "anyof": true, "allof": true}

type Parser struct {
	lex *lexer.Lexer
	tok lexer.Token
}

func New(filename, src string) (*Parser, error) {
	p := &Parser{lex: lexer.New(filename, src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d:%d: %s", p.tok.Pos.Filename, p.tok.Pos.Line, p.tok.Pos.Col, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(k lexer.Kind) (lexer.Token, error) {
	if p.tok.Kind != k {
		return lexer.Token{}, p.errorf("expected %s, found %s", k, p.tok.Kind)
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return lexer.Token{}, err
	}
	return t, nil
}

// Parse consumes the whole token stream and returns the top-level command
// sequence.
func Parse(filename, src string) (*ast.Script, error) {
	p, err := New(filename, src)
	if err != nil {
		return nil, err
	}
	var commands []*ast.Node
	for p.tok.Kind != lexer.EOF {
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return &ast.Script{Commands: commands}, nil
}

// parseCommand parses one statement-position command: identifier,
// arguments, then either ";" or a block. "if" is special-cased into its
// own desugaring.
func (p *Parser) parseCommand() (*ast.Node, error) {
	if p.tok.Kind != lexer.Identifier {
		return nil, p.errorf("expected a command, found %s", p.tok.Kind)
	}
	if p.tok.Str == "if" {
		return p.parseIf()
	}

	name := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	args, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	node := &ast.Node{Kind: ast.KindCommand, Name: name.Str, Pos: name.Pos, Args: args}

	if p.tok.Kind == lexer.LBrace {
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.Block = block
		return node, nil
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return node, nil
}

// parseIf parses "if" test block *( "elsif" test block ) [ "else" block ],
// folding the chain into nested Else fields so the validator/generator need
// not iterate a parallel elsif list.
func (p *Parser) parseIf() (*ast.Node, error) {
	pos := p.tok.Pos
	if err := p.advance(); err != nil { // consume "if"
		return nil, err
	}
	root, err := p.parseIfArm(pos)
	if err != nil {
		return nil, err
	}

	cur := root
	for p.tok.Kind == lexer.Identifier && p.tok.Str == "elsif" {
		elsifPos := p.tok.Pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		arm, err := p.parseIfArm(elsifPos)
		if err != nil {
			return nil, err
		}
		cur.Else = []*ast.Node{arm}
		cur = arm
	}
	if p.tok.Kind == lexer.Identifier && p.tok.Str == "else" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		cur.Else = block
	}
	return root, nil
}

func (p *Parser) parseIfArm(pos ast.Position) (*ast.Node, error) {
	test, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.KindCommand, Name: "if", Pos: pos, Tests: []*ast.Node{test}, Block: block}, nil
}

func (p *Parser) parseBlock() ([]*ast.Node, error) {
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	var commands []*ast.Node
	for p.tok.Kind != lexer.RBrace {
		if p.tok.Kind == lexer.EOF {
			return nil, p.errorf("unterminated block")
		}
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	if _, err := p.expect(lexer.RBrace); err != nil {
		return nil, err
	}
	return commands, nil
}

// parseTest parses a test-position node: identifier followed by either
// nested tests (not/anyof/allof) or an ordinary argument list.
func (p *Parser) parseTest() (*ast.Node, error) {
	if p.tok.Kind != lexer.Identifier {
		return nil, p.errorf("expected a test, found %s", p.tok.Kind)
	}
	name := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	node := &ast.Node{Kind: ast.KindTest, Name: name.Str, Pos: name.Pos}

	if logicTests[name.Str] {
		switch name.Str {
		case "not":
			sub, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			node.Tests = []*ast.Node{sub}
		case "anyof", "allof":
			tests, err := p.parseTestList()
			if err != nil {
				return nil, err
			}
			node.Tests = tests
		}
		return node, nil
	}

	args, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	node.Args = args
	return node, nil
}

// parseTestList parses "(" test *( "," test ) ")".
func (p *Parser) parseTestList() ([]*ast.Node, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	var tests []*ast.Node
	for {
		t, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
		if p.tok.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	return tests, nil
}

// parseArguments parses *argument: tags, numbers, strings, and
// string-lists, stopping at the first token that cannot start an argument
// (";", "{", or, inside a test-list, "," / ")").
func (p *Parser) parseArguments() ([]*ast.Argument, error) {
	var args []*ast.Argument
	for {
		switch p.tok.Kind {
		case lexer.Tag:
			args = append(args, &ast.Argument{Type: ast.ArgTag, Pos: p.tok.Pos, Tag: p.tok.Str})
			if err := p.advance(); err != nil {
				return nil, err
			}
		case lexer.Number:
			args = append(args, &ast.Argument{Type: ast.ArgNumber, Pos: p.tok.Pos, Num: p.tok.Num})
			if err := p.advance(); err != nil {
				return nil, err
			}
		case lexer.String:
			args = append(args, &ast.Argument{Type: ast.ArgString, Pos: p.tok.Pos, Str: p.tok.Str})
			if err := p.advance(); err != nil {
				return nil, err
			}
		case lexer.LBracket:
			list, pos, err := p.parseStringList()
			if err != nil {
				return nil, err
			}
			args = append(args, &ast.Argument{Type: ast.ArgStringList, Pos: pos, List: list})
		default:
			return args, nil
		}
	}
}

func (p *Parser) parseStringList() ([]string, ast.Position, error) {
	pos := p.tok.Pos
	if _, err := p.expect(lexer.LBracket); err != nil {
		return nil, pos, err
	}
	var list []string
	for {
		s, err := p.expect(lexer.String)
		if err != nil {
			return nil, pos, err
		}
		list = append(list, s.Str)
		if p.tok.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, pos, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBracket); err != nil {
		return nil, pos, err
	}
	return list, pos, nil
}
