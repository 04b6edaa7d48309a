// Package writer serializes document object graphs back to PDF bytes.
// Two encodings are supported: the classic layout with a plain xref table,
// and a compact layout that packs non-stream objects into an object stream
// and emits a cross-reference stream, the PDF 1.5+ encoding the compaction
// stage measures against the classic one.
package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sort"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
)

type Config struct {
	// ObjectStreams packs eligible objects into an /ObjStm and emits an
	// xref stream instead of a classic table.
	ObjectStreams bool
	// Compression is the zlib level used for object streams and the xref
	// stream. Zero selects zlib.DefaultCompression.
	Compression int
}

type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer { return &Writer{cfg: cfg} }

// Write serializes doc to out.
func (w *Writer) Write(doc *document.Document, out io.Writer) error {
	data, err := w.Bytes(doc)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Bytes serializes doc.
func (w *Writer) Bytes(doc *document.Document) ([]byte, error) {
	if len(doc.Objects) == 0 {
		return nil, fmt.Errorf("writer: document has no objects")
	}
	if w.cfg.ObjectStreams {
		return w.writeCompact(doc)
	}
	return w.writeClassic(doc)
}

func (w *Writer) writeClassic(doc *document.Document) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, doc.Version)

	refs := sortedRefs(doc.Objects)
	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		serialize(&buf, doc.Objects[ref])
		buf.WriteString("\nendobj\n")
	}

	maxNum := refs[len(refs)-1].Num
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, gens[num])
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := cleanTrailer(doc.Trailer)
	trailer.Set("Size", cos.Integer(maxNum+1))
	buf.WriteString("trailer\n")
	serialize(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

func (w *Writer) writeCompact(doc *document.Document) ([]byte, error) {
	var regular, packed []cos.Ref
	for _, ref := range sortedRefs(doc.Objects) {
		obj := doc.Objects[ref]
		if _, isStream := obj.(*cos.Stream); isStream || ref.Gen != 0 {
			regular = append(regular, ref)
		} else {
			packed = append(packed, ref)
		}
	}

	maxNum := 0
	for ref := range doc.Objects {
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}
	objStmNum := maxNum + 1
	xrefStmNum := maxNum + 2

	var buf bytes.Buffer
	writeHeader(&buf, doc.Version)

	offsets := make(map[int]int64)
	gens := make(map[int]int)
	for _, ref := range regular {
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		serialize(&buf, doc.Objects[ref])
		buf.WriteString("\nendobj\n")
	}

	packedIdx := make(map[int]int, len(packed))
	if len(packed) > 0 {
		stm, err := w.buildObjectStream(doc, packed, packedIdx)
		if err != nil {
			return nil, err
		}
		offsets[objStmNum] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", objStmNum)
		serialize(&buf, stm)
		buf.WriteString("\nendobj\n")
	}

	// Cross-reference stream covering 0..xrefStmNum.
	size := xrefStmNum + 1
	var rows bytes.Buffer
	for num := 0; num < size; num++ {
		switch {
		case num == xrefStmNum:
			writeRow(&rows, 1, int64(0), 0) // patched below
		case offsets[num] != 0 || numIn(regular, num) || num == objStmNum && len(packed) > 0:
			writeRow(&rows, 1, offsets[num], int64(gens[num]))
		case hasPacked(packedIdx, num):
			writeRow(&rows, 2, int64(objStmNum), int64(packedIdx[num]))
		default:
			writeRow(&rows, 0, 0, 65535)
		}
	}
	xrefOffset := int64(buf.Len())
	// Patch the xref stream's own row now that its offset is known.
	patched := rows.Bytes()
	patchRow(patched, xrefStmNum, xrefOffset)

	compressed, err := w.deflate(patched)
	if err != nil {
		return nil, err
	}
	xrefDict := cleanTrailer(doc.Trailer)
	xrefDict.Set("Type", cos.Name("XRef"))
	xrefDict.Set("Size", cos.Integer(size))
	xrefDict.Set("W", cos.NewArray(cos.Integer(1), cos.Integer(8), cos.Integer(2)))
	xrefDict.Set("Filter", cos.Name("FlateDecode"))
	xrefDict.Set("Length", cos.Integer(len(compressed)))

	fmt.Fprintf(&buf, "%d 0 obj\n", xrefStmNum)
	serialize(&buf, &cos.Stream{Dict: xrefDict, Data: compressed})
	buf.WriteString("\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

// buildObjectStream serializes packed objects into one /ObjStm.
func (w *Writer) buildObjectStream(doc *document.Document, packed []cos.Ref, idx map[int]int) (*cos.Stream, error) {
	var header, body bytes.Buffer
	for i, ref := range packed {
		idx[ref.Num] = i
		fmt.Fprintf(&header, "%d %d ", ref.Num, body.Len())
		serialize(&body, doc.Objects[ref])
		body.WriteByte(' ')
	}
	plain := append(header.Bytes(), body.Bytes()...)
	compressed, err := w.deflate(plain)
	if err != nil {
		return nil, err
	}
	dict := cos.NewDict()
	dict.Set("Type", cos.Name("ObjStm"))
	dict.Set("N", cos.Integer(len(packed)))
	dict.Set("First", cos.Integer(header.Len()))
	dict.Set("Filter", cos.Name("FlateDecode"))
	dict.Set("Length", cos.Integer(len(compressed)))
	return &cos.Stream{Dict: dict, Data: compressed}, nil
}

func (w *Writer) deflate(data []byte) ([]byte, error) {
	level := w.cfg.Compression
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var out bytes.Buffer
	zw, err := zlib.NewWriterLevel(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// writeRow emits one W=[1 8 2] xref stream row.
func writeRow(buf *bytes.Buffer, typ byte, f2 int64, f3 int64) {
	buf.WriteByte(typ)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(f2 >> (8 * (7 - i)))
	}
	buf.Write(b[:])
	buf.WriteByte(byte(f3 >> 8))
	buf.WriteByte(byte(f3))
}

// patchRow rewrites the second field of row num in place.
func patchRow(rows []byte, num int, offset int64) {
	const rowLen = 1 + 8 + 2
	base := num*rowLen + 1
	for i := 0; i < 8; i++ {
		rows[base+i] = byte(offset >> (8 * (7 - i)))
	}
}

func numIn(refs []cos.Ref, num int) bool {
	for _, r := range refs {
		if r.Num == num {
			return true
		}
	}
	return false
}

func hasPacked(idx map[int]int, num int) bool {
	_, ok := idx[num]
	return ok
}

func writeHeader(buf *bytes.Buffer, version string) {
	if version == "" {
		version = "1.7"
	}
	fmt.Fprintf(buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
}

// cleanTrailer copies the trailer without keys tied to a previous
// serialization (xref stream fields, incremental update chains).
func cleanTrailer(t *cos.Dict) *cos.Dict {
	out := cos.NewDict()
	for _, k := range t.Keys() {
		switch k {
		case "Size", "Prev", "XRefStm", "Type", "W", "Index",
			"Filter", "DecodeParms", "Length", "First", "N":
			continue
		}
		out.Set(k, t.KV[k])
	}
	return out
}

func sortedRefs(objects map[cos.Ref]cos.Object) []cos.Ref {
	refs := make([]cos.Ref, 0, len(objects))
	for ref := range objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	return refs
}
