package parser

import (
	"fmt"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/scanner"
)

// tokenReader adds pushback on top of the scanner so the object parser can
// look ahead for "num gen R" reference triples.
type tokenReader struct {
	s      *scanner.Scanner
	pushed []scanner.Token
}

func newTokenReader(s *scanner.Scanner) *tokenReader { return &tokenReader{s: s} }

func (tr *tokenReader) next() (scanner.Token, error) {
	if n := len(tr.pushed); n > 0 {
		tok := tr.pushed[n-1]
		tr.pushed = tr.pushed[:n-1]
		return tok, nil
	}
	return tr.s.Next()
}

func (tr *tokenReader) unread(tok scanner.Token) { tr.pushed = append(tr.pushed, tok) }

func (tr *tokenReader) setStreamLengthHint(n int64) { tr.s.SetNextStreamLength(n) }

// parseObject reads one complete COS object from the token stream.
func parseObject(tr *tokenReader) (cos.Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	return parseFromToken(tr, tok)
}

func parseFromToken(tr *tokenReader, tok scanner.Token) (cos.Object, error) {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			if ref, ok, err := tryRef(tr, tok); err != nil {
				return nil, err
			} else if ok {
				return ref, nil
			}
			return cos.Integer(tok.Int), nil
		}
		return cos.Real(tok.Real), nil
	case scanner.TokenName:
		return cos.Name(tok.Str), nil
	case scanner.TokenString:
		return cos.String{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenDictOpen:
		return parseDict(tr)
	case scanner.TokenArrayOpen:
		return parseArray(tr)
	case scanner.TokenKeyword:
		switch tok.Str {
		case "true":
			return cos.Boolean(true), nil
		case "false":
			return cos.Boolean(false), nil
		case "null":
			return cos.Null{}, nil
		}
		return nil, fmt.Errorf("parser: unexpected keyword %q at %d", tok.Str, tok.Pos)
	}
	return nil, fmt.Errorf("parser: unexpected token at %d", tok.Pos)
}

// tryRef checks whether the just-read integer starts a "num gen R" triple.
func tryRef(tr *tokenReader, numTok scanner.Token) (cos.Ref, bool, error) {
	genTok, err := tr.next()
	if err != nil {
		// EOF after a bare integer is legal (e.g. startxref value).
		return cos.Ref{}, false, nil
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		tr.unread(genTok)
		return cos.Ref{}, false, nil
	}
	rTok, err := tr.next()
	if err != nil {
		tr.unread(genTok)
		return cos.Ref{}, false, nil
	}
	if rTok.Type == scanner.TokenKeyword && rTok.Str == "R" {
		return cos.Ref{Num: int(numTok.Int), Gen: int(genTok.Int)}, true, nil
	}
	tr.unread(rTok)
	tr.unread(genTok)
	return cos.Ref{}, false, nil
}

func parseDict(tr *tokenReader) (*cos.Dict, error) {
	d := cos.NewDict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, fmt.Errorf("parser: unterminated dictionary: %w", err)
		}
		if tok.Type == scanner.TokenDictClose {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("parser: dictionary key is not a name at %d", tok.Pos)
		}
		val, err := parseObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

func parseArray(tr *tokenReader) (*cos.Array, error) {
	a := cos.NewArray()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, fmt.Errorf("parser: unterminated array: %w", err)
		}
		if tok.Type == scanner.TokenArrayClose {
			return a, nil
		}
		val, err := parseFromToken(tr, tok)
		if err != nil {
			return nil, err
		}
		a.Append(val)
	}
}
