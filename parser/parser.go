// Package parser turns PDF byte streams into document object graphs. It
// resolves the cross-reference chain (classic tables, xref streams and
// hybrid files), then loads every reachable indirect object, including
// objects packed into compressed object streams.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/scanner"
	"github.com/docuseam/pdfassembly/xref"
)

// ErrEncrypted marks documents with an /Encrypt trailer entry. The
// pipeline treats those as corrupt input rather than carrying cipher code.
var ErrEncrypted = errors.New("parser: encrypted documents are not supported")

type Config struct {
	Scanner scanner.Config
	// MaxXRefSections bounds the /Prev chain. Zero selects 64.
	MaxXRefSections int
}

type DocumentParser struct {
	cfg Config
}

func New(cfg Config) *DocumentParser {
	if cfg.MaxXRefSections == 0 {
		cfg.MaxXRefSections = 64
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads a complete PDF from r.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*document.Document, error) {
	return p.ParseBytes(ctx, readAll(r))
}

// ParseBytes reads a complete PDF held in memory.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*document.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("parser: empty input")
	}
	doc := document.New()
	doc.Version = headerVersion(data)
	if doc.Version == "" {
		return nil, fmt.Errorf("parser: missing %%PDF header")
	}

	startOff, err := startXRef(data)
	if err != nil {
		return nil, err
	}

	table := xref.NewTable()
	reader := bytes.NewReader(data)
	if err := p.resolveChain(ctx, reader, int64(len(data)), startOff, table, doc); err != nil {
		return nil, err
	}
	if doc.Trailer.Len() == 0 {
		return nil, fmt.Errorf("parser: no trailer found")
	}
	if _, ok := doc.Trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	if err := p.loadObjects(ctx, reader, table, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// resolveChain walks startxref and every /Prev (and hybrid /XRefStm)
// section, newest first, accumulating entries into table. The first
// trailer found becomes the document trailer.
func (p *DocumentParser) resolveChain(ctx context.Context, r io.ReaderAt, size, offset int64, table *xref.Table, doc *document.Document) error {
	visited := make(map[int64]bool)
	for sections := 0; ; sections++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sections >= p.cfg.MaxXRefSections {
			return fmt.Errorf("parser: xref chain longer than %d sections", p.cfg.MaxXRefSections)
		}
		if offset <= 0 || offset >= size {
			return fmt.Errorf("parser: xref offset %d out of range", offset)
		}
		if visited[offset] {
			return fmt.Errorf("parser: xref chain loop at offset %d", offset)
		}
		visited[offset] = true

		trailer, err := p.readSection(r, offset, table)
		if err != nil {
			return err
		}
		if doc.Trailer.Len() == 0 {
			for _, k := range trailer.Keys() {
				doc.Trailer.Set(k, trailer.KV[k])
			}
		}
		// Hybrid files: the classic trailer points at an xref stream
		// holding the object-stream entries.
		if stm, ok := trailer.Int("XRefStm"); ok {
			if _, err := p.readSection(r, stm, table); err != nil {
				return fmt.Errorf("parser: hybrid xref stream: %w", err)
			}
		}
		prev, ok := trailer.Int("Prev")
		if !ok {
			return nil
		}
		offset = prev
	}
}

// readSection parses one xref section (classic table or xref stream) and
// returns its trailer dictionary.
func (p *DocumentParser) readSection(r io.ReaderAt, offset int64, table *xref.Table) (*cos.Dict, error) {
	s := scanner.New(r, p.cfg.Scanner)
	if err := s.Seek(offset); err != nil {
		return nil, fmt.Errorf("parser: seek xref section: %w", err)
	}
	tr := newTokenReader(s)
	tok, err := tr.next()
	if err != nil {
		return nil, fmt.Errorf("parser: read xref section: %w", err)
	}

	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		if err := xref.ReadClassic(s, table); err != nil {
			return nil, err
		}
		trailerObj, err := parseObject(tr)
		if err != nil {
			return nil, fmt.Errorf("parser: trailer: %w", err)
		}
		trailer, ok := trailerObj.(*cos.Dict)
		if !ok {
			return nil, fmt.Errorf("parser: trailer is not a dictionary")
		}
		return trailer, nil
	}

	// Must be an xref stream: "num gen obj << ... >> stream".
	if tok.Type != scanner.TokenNumber || !tok.IsInt {
		return nil, fmt.Errorf("parser: no xref data at offset %d", offset)
	}
	st, _, err := p.readIndirectStream(tr, tok)
	if err != nil {
		return nil, fmt.Errorf("parser: xref stream: %w", err)
	}
	if typ, _ := st.Dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("parser: object at xref offset is %q, want XRef stream", typ)
	}
	plain, err := DecodeStream(noResolver{}, st)
	if err != nil {
		return nil, fmt.Errorf("parser: decode xref stream: %w", err)
	}
	if err := xref.ApplyStream(table, st.Dict, plain); err != nil {
		return nil, err
	}
	return st.Dict, nil
}

// readIndirectStream parses "gen obj <<dict>> stream ... " after the caller
// consumed the object number token. The stream /Length must be direct here;
// xref streams cannot use indirect lengths.
func (p *DocumentParser) readIndirectStream(tr *tokenReader, numTok scanner.Token) (*cos.Stream, int, error) {
	genTok, err := tr.next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return nil, 0, fmt.Errorf("parser: malformed object header")
	}
	objTok, err := tr.next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, 0, fmt.Errorf("parser: expected obj keyword")
	}
	obj, err := parseObject(tr)
	if err != nil {
		return nil, 0, err
	}
	dict, ok := obj.(*cos.Dict)
	if !ok {
		return nil, 0, fmt.Errorf("parser: expected stream dictionary")
	}
	length, ok := dict.Int("Length")
	if !ok {
		return nil, 0, fmt.Errorf("parser: stream /Length must be a direct integer here")
	}
	tr.setStreamLengthHint(length)
	streamTok, err := tr.next()
	if err != nil || streamTok.Type != scanner.TokenStream {
		return nil, 0, fmt.Errorf("parser: expected stream payload")
	}
	return &cos.Stream{Dict: dict, Data: streamTok.Bytes}, int(numTok.Int), nil
}

// loadObjects materializes every object the table knows about.
func (p *DocumentParser) loadObjects(ctx context.Context, r io.ReaderAt, table *xref.Table, doc *document.Document) error {
	var packed []int // objects living inside object streams
	for _, num := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, _ := table.Lookup(num)
		switch entry.Type {
		case xref.EntryInFile:
			obj, err := p.loadAt(r, table, num, entry)
			if err != nil {
				return fmt.Errorf("parser: object %d: %w", num, err)
			}
			// Cross-reference streams are file plumbing, not content.
			if st, ok := obj.(*cos.Stream); ok {
				if typ, _ := st.Dict.Name("Type"); typ == "XRef" {
					continue
				}
			}
			doc.Objects[cos.Ref{Num: num, Gen: entry.Gen}] = obj
		case xref.EntryInObjectStream:
			packed = append(packed, num)
		}
	}

	byStream := make(map[int][]int)
	for _, num := range packed {
		entry, _ := table.Lookup(num)
		byStream[entry.StreamNum] = append(byStream[entry.StreamNum], num)
	}
	for stmNum, nums := range byStream {
		objs, err := p.loadObjectStream(doc, stmNum)
		if err != nil {
			return fmt.Errorf("parser: object stream %d: %w", stmNum, err)
		}
		for _, num := range nums {
			obj, ok := objs[num]
			if !ok {
				return fmt.Errorf("parser: object %d missing from object stream %d", num, stmNum)
			}
			doc.Objects[cos.Ref{Num: num}] = obj
		}
		// The container has served its purpose; keeping it would drag
		// stale packing into the next serialization.
		delete(doc.Objects, cos.Ref{Num: stmNum})
	}
	return nil
}

// loadAt parses one indirect object at its file offset.
func (p *DocumentParser) loadAt(r io.ReaderAt, table *xref.Table, num int, entry xref.Entry) (cos.Object, error) {
	s := scanner.New(r, p.cfg.Scanner)
	if err := s.Seek(entry.Offset); err != nil {
		return nil, err
	}
	tr := newTokenReader(s)
	numTok, err := tr.next()
	if err != nil {
		return nil, err
	}
	if numTok.Type != scanner.TokenNumber || int(numTok.Int) != num {
		return nil, fmt.Errorf("object header mismatch near offset %d (found %d)", s.Position(), numTok.Int)
	}
	genTok, err := tr.next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return nil, fmt.Errorf("malformed object header near offset %d", s.Position())
	}
	objTok, err := tr.next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, fmt.Errorf("expected obj keyword")
	}
	obj, err := parseObject(tr)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*cos.Dict)
	if !ok {
		return obj, nil
	}
	// A dictionary may be a stream header; peek for the payload.
	length, err := p.resolveLength(r, table, dict)
	if err != nil {
		return nil, err
	}
	if length >= 0 {
		tr.setStreamLengthHint(length)
	}
	nextTok, err := tr.next()
	if err != nil {
		return dict, nil
	}
	if nextTok.Type == scanner.TokenStream {
		return &cos.Stream{Dict: dict, Data: nextTok.Bytes}, nil
	}
	return dict, nil
}

// resolveLength finds a stream's /Length, following one indirect hop.
// Returns -1 when the dictionary carries no usable length, in which case
// the scanner falls back to the endstream scan.
func (p *DocumentParser) resolveLength(r io.ReaderAt, table *xref.Table, dict *cos.Dict) (int64, error) {
	lObj, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch v := lObj.(type) {
	case cos.Integer:
		return int64(v), nil
	case cos.Ref:
		entry, ok := table.Lookup(v.Num)
		if !ok || entry.Type != xref.EntryInFile {
			return -1, nil
		}
		obj, err := p.loadAt(r, table, v.Num, entry)
		if err != nil {
			return 0, fmt.Errorf("indirect /Length: %w", err)
		}
		if n, ok := obj.(cos.Integer); ok {
			return int64(n), nil
		}
		return -1, nil
	}
	return -1, nil
}

// loadObjectStream decodes an /ObjStm already present in the document and
// parses the objects packed inside it.
func (p *DocumentParser) loadObjectStream(doc *document.Document, stmNum int) (map[int]cos.Object, error) {
	stObj, ok := doc.Objects[cos.Ref{Num: stmNum}]
	if !ok {
		return nil, fmt.Errorf("container object not loaded")
	}
	st, ok := stObj.(*cos.Stream)
	if !ok {
		return nil, fmt.Errorf("container is not a stream")
	}
	if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
		return nil, fmt.Errorf("container type is %q, want ObjStm", typ)
	}
	n, ok := st.Dict.Int("N")
	if !ok {
		return nil, fmt.Errorf("missing /N")
	}
	first, ok := st.Dict.Int("First")
	if !ok {
		return nil, fmt.Errorf("missing /First")
	}
	plain, err := DecodeStream(doc, st)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if first > int64(len(plain)) {
		return nil, fmt.Errorf("/First beyond payload")
	}

	// Header: N pairs of "objnum offset".
	hs := scanner.New(bytes.NewReader(plain[:first]), p.cfg.Scanner)
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := hs.Next()
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("non-integer in header")
		}
		pairs = append(pairs, tok.Int)
	}

	body := plain[first:]
	objs := make(map[int]cos.Object, n)
	for i := int64(0); i < n; i++ {
		objNum := int(pairs[2*i])
		off := pairs[2*i+1]
		if off < 0 || off > int64(len(body)) {
			return nil, fmt.Errorf("object %d offset beyond payload", objNum)
		}
		bs := scanner.New(bytes.NewReader(body[off:]), p.cfg.Scanner)
		obj, err := parseObject(newTokenReader(bs))
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", objNum, err)
		}
		objs[objNum] = obj
	}
	return objs, nil
}

// noResolver satisfies DecodeStream for streams whose filter entries are
// guaranteed direct (xref streams).
type noResolver struct{}

func (noResolver) Resolve(o cos.Object) cos.Object { return o }

func headerVersion(data []byte) string {
	limit := 64
	if len(data) < limit {
		limit = len(data)
	}
	line := string(data[:limit])
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	if strings.HasPrefix(line, "%PDF-") {
		return strings.TrimSpace(line[5:])
	}
	return ""
}

func startXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("parser: startxref not found")
	}
	rest := data[idx+len("startxref"):]
	fields := strings.Fields(string(rest))
	if len(fields) == 0 {
		return 0, fmt.Errorf("parser: startxref value missing")
	}
	off, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parser: startxref value: %w", err)
	}
	return off, nil
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
