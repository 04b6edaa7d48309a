// Package xref models PDF cross-reference data: where each indirect object
// lives, either at a byte offset in the file or inside a compressed object
// stream.
package xref

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/scanner"
)

type EntryType int

const (
	EntryFree EntryType = iota
	EntryInFile
	EntryInObjectStream
)

// Entry locates one object. Offset/Gen apply to in-file entries,
// StreamNum/StreamIdx to object-stream entries.
type Entry struct {
	Type      EntryType
	Offset    int64
	Gen       int
	StreamNum int
	StreamIdx int
}

// Table accumulates entries while walking the /Prev chain newest-first.
// The first entry seen for an object number wins, which is exactly the
// incremental-update precedence rule.
type Table struct {
	entries map[int]Entry
}

func NewTable() *Table { return &Table{entries: make(map[int]Entry)} }

// Add records an entry unless a newer section already defined the object.
func (t *Table) Add(num int, e Entry) {
	if _, exists := t.entries[num]; exists {
		return
	}
	t.entries[num] = e
}

func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Objects returns the known in-use object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Type != EntryFree {
			out = append(out, num)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// ReadClassic consumes a classic xref section from the scanner, which must
// be positioned just after the xref keyword. It stops before the trailer
// keyword (already consumed) so the caller can parse the trailer dict.
func ReadClassic(s *scanner.Scanner, t *Table) error {
	for {
		tok, err := s.Next()
		if err != nil {
			return fmt.Errorf("xref: read section: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			return nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return fmt.Errorf("xref: unexpected token %q in section header", tok.Str)
		}
		start := int(tok.Int)
		countTok, err := s.Next()
		if err != nil {
			return fmt.Errorf("xref: read subsection count: %w", err)
		}
		if countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return fmt.Errorf("xref: malformed subsection header")
		}
		count := int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := s.Next()
			if err != nil {
				return fmt.Errorf("xref: entry %d: %w", start+i, err)
			}
			genTok, err := s.Next()
			if err != nil {
				return fmt.Errorf("xref: entry %d: %w", start+i, err)
			}
			typeTok, err := s.Next()
			if err != nil {
				return fmt.Errorf("xref: entry %d: %w", start+i, err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
				typeTok.Type != scanner.TokenKeyword {
				return fmt.Errorf("xref: malformed entry for object %d", start+i)
			}
			switch typeTok.Str {
			case "n":
				t.Add(start+i, Entry{Type: EntryInFile, Offset: offTok.Int, Gen: int(genTok.Int)})
			case "f":
				t.Add(start+i, Entry{Type: EntryFree})
			default:
				return fmt.Errorf("xref: unknown entry type %q", typeTok.Str)
			}
		}
	}
}

// ApplyStream decodes an xref stream payload (already defiltered) into the
// table using the stream dictionary's /W and /Index layout.
func ApplyStream(t *Table, dict *cos.Dict, data []byte) error {
	wArr, ok := dict.Array("W")
	if !ok || wArr.Len() < 3 {
		return fmt.Errorf("xref: stream missing /W")
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		n, ok := wArr.At(i).(cos.Integer)
		if !ok {
			return fmt.Errorf("xref: non-integer /W element")
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return fmt.Errorf("xref: zero-width /W")
	}

	size, ok := dict.Int("Size")
	if !ok {
		return fmt.Errorf("xref: stream missing /Size")
	}
	// Default index covers [0, Size).
	index := []int64{0, size}
	if idxArr, ok := dict.Array("Index"); ok {
		index = index[:0]
		for _, it := range idxArr.Items {
			n, ok := it.(cos.Integer)
			if !ok {
				return fmt.Errorf("xref: non-integer /Index element")
			}
			index = append(index, int64(n))
		}
		if len(index)%2 != 0 {
			return fmt.Errorf("xref: odd /Index length")
		}
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for n := 0; n < count; n++ {
			if pos+rowLen > len(data) {
				return fmt.Errorf("xref: stream data truncated at object %d", start+n)
			}
			f1 := readField(data[pos:pos+w[0]], 1) // type defaults to 1 when W[0]==0
			f2 := readField(data[pos+w[0]:pos+w[0]+w[1]], 0)
			f3 := readField(data[pos+w[0]+w[1]:pos+rowLen], 0)
			pos += rowLen

			num := start + n
			switch f1 {
			case 0:
				t.Add(num, Entry{Type: EntryFree})
			case 1:
				t.Add(num, Entry{Type: EntryInFile, Offset: f2, Gen: int(f3)})
			case 2:
				t.Add(num, Entry{Type: EntryInObjectStream, StreamNum: int(f2), StreamIdx: int(f3)})
			default:
				// Reserved entry types are treated as free per ISO 32000.
			}
		}
	}
	return nil
}

func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return int64(binary.BigEndian.Uint64(buf[:]))
}
