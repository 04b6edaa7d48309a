// Package scanner tokenizes PDF syntax. It buffers data from an
// io.ReaderAt in fixed-size windows so very large documents are not read
// twice, and exposes just enough control (Seek, stream length hints) for
// the parser to drive it across xref offsets.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDictOpen   TokenType = iota // '<<'
	TokenDictClose                   // '>>'
	TokenArrayOpen                   // '['
	TokenArrayClose                  // ']'
	TokenName                        // '/Name'
	TokenString                      // literal or hex string
	TokenNumber                      // integer or real
	TokenKeyword                     // obj, endobj, stream keyword handled separately, true, false, null, R, ...
	TokenStream                      // stream payload bytes
)

// Token is one lexical unit. Str holds names and keywords, Bytes holds
// string and stream payloads, numeric values use Int/Real with IsInt.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Int   int64
	Real  float64
	IsInt bool
	Hex   bool
	Pos   int64
}

type Config struct {
	// WindowSize controls how much data is pulled per read. Zero selects
	// a 64 KiB default.
	WindowSize int64
	// MaxStreamScan bounds the endstream search when no /Length hint is
	// available. Zero selects 64 MiB.
	MaxStreamScan int64
}

// Scanner reads PDF tokens from an io.ReaderAt.
type Scanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	eof           bool
}

func New(r io.ReaderAt, cfg Config) *Scanner {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 64 * 1024
	}
	if cfg.MaxStreamScan <= 0 {
		cfg.MaxStreamScan = 64 * 1024 * 1024
	}
	return &Scanner{reader: r, cfg: cfg, nextStreamLen: -1}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 {
		return errors.New("scanner: seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("scanner: seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength tells the scanner how many payload bytes follow the
// next stream keyword. Cleared after one use; -1 means scan for endstream.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDictOpen, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenDictClose, Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArrayOpen, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenArrayClose, Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumber()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if !isRegular(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			hi, ok1 := hexVal(s.data[s.pos+1])
			lo, ok2 := hexVal(s.data[s.pos+2])
			if ok1 && ok2 {
				out.WriteByte(hi<<4 | lo)
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var out bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				return Token{}, errors.New("scanner: unterminated string")
			}
			return Token{}, err
		}
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if err := s.ensure(s.pos); err != nil {
				return Token{}, errors.New("scanner: unterminated escape")
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case 'b':
				out.WriteByte('\b')
			case 'f':
				out.WriteByte('\f')
			case '(', ')', '\\':
				out.WriteByte(e)
			case '\r':
				// line continuation, swallow optional LF
				if s.peek(0) == '\n' {
					s.pos++
				}
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2; i++ {
						n := s.peek(0)
						if n < '0' || n > '7' {
							break
						}
						v = v*8 + int(n-'0')
						s.pos++
					}
					out.WriteByte(byte(v))
				} else {
					out.WriteByte(e)
				}
			}
		case '(':
			depth++
			out.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: out.Bytes(), Pos: start}, nil
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	for {
		if err := s.ensure(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				return Token{}, errors.New("scanner: unterminated hex string")
			}
			return Token{}, err
		}
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := hexVal(c)
		if !ok {
			return Token{}, errors.New("scanner: invalid hex digit")
		}
		nibbles = append(nibbles, v)
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, 0)
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func (s *Scanner) scanNumber() (Token, error) {
	start := s.pos
	var raw bytes.Buffer
	isReal := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '.' {
			isReal = true
		} else if !isNumberStart(c) {
			break
		}
		raw.WriteByte(c)
		s.pos++
	}
	text := raw.String()
	if isReal {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, errors.New("scanner: malformed real " + strconv.Quote(text))
		}
		return Token{Type: TokenNumber, Real: f, Pos: start}, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, errors.New("scanner: malformed integer " + strconv.Quote(text))
	}
	return Token{Type: TokenNumber, Int: i, Real: float64(i), IsInt: true, Pos: start}, nil
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var raw bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if !isRegular(c) {
			break
		}
		raw.WriteByte(c)
		s.pos++
	}
	kw := raw.String()
	if kw == "stream" {
		return s.scanStreamPayload(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

// scanStreamPayload reads the bytes between the stream keyword and
// endstream. A length hint set by the parser takes precedence over the
// endstream scan, which misfires on payloads containing the keyword.
func (s *Scanner) scanStreamPayload(start int64) (Token, error) {
	// ISO 32000 allows CRLF or LF after the keyword, not a bare CR.
	if s.peek(0) == '\r' {
		s.pos++
	}
	if s.peek(0) == '\n' {
		s.pos++
	}
	length := s.nextStreamLen
	s.nextStreamLen = -1
	if length >= 0 {
		if err := s.ensure(s.pos + length); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos+length > int64(len(s.data)) {
			return Token{}, errors.New("scanner: stream truncated")
		}
		data := s.data[s.pos : s.pos+length]
		s.pos += length
		return Token{Type: TokenStream, Bytes: data, Pos: start}, nil
	}
	// No hint: scan forward for endstream.
	from := s.pos
	for {
		if err := s.ensure(int64(len(s.data))); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		idx := bytes.Index(s.data[from:], []byte("endstream"))
		if idx >= 0 {
			end := from + int64(idx)
			data := s.data[s.pos:end]
			// trim the EOL that belongs to the endstream marker
			data = bytes.TrimRight(data, "\r\n")
			s.pos = end
			return Token{Type: TokenStream, Bytes: data, Pos: start}, nil
		}
		if s.eof {
			return Token{}, errors.New("scanner: endstream not found")
		}
		if int64(len(s.data))-from > s.cfg.MaxStreamScan {
			return Token{}, errors.New("scanner: stream scan limit exceeded")
		}
		if err := s.loadMore(); err != nil {
			return Token{}, err
		}
	}
}

func (s *Scanner) peek(ahead int64) byte {
	if err := s.ensure(s.pos + ahead); err != nil {
		return 0
	}
	if s.pos+ahead >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+ahead]
}

func (s *Scanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) loadMore() error {
	buf := make([]byte, s.cfg.WindowSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF || n == 0 {
		s.eof = true
		return nil
	}
	return err
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool { return !isWhitespace(c) && !isDelimiter(c) }

func isNumberStart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
