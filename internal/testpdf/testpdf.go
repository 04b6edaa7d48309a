// Package testpdf builds small PDF fixtures for tests: hand-assembled
// classic-layout files with known structure, and gofpdf-generated chunks
// that look like the output of a real producer.
package testpdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// builder assembles a classic-layout PDF while tracking object offsets.
type builder struct {
	buf     bytes.Buffer
	offsets map[int]int
	maxNum  int
}

func newBuilder() *builder {
	b := &builder{offsets: make(map[int]int)}
	b.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	return b
}

func (b *builder) obj(num int, body string) {
	b.offsets[num] = b.buf.Len()
	if num > b.maxNum {
		b.maxNum = num
	}
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *builder) stream(num int, dict, data string) {
	b.obj(num, fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data))
}

func (b *builder) finish(rootNum int) []byte {
	xrefOff := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", b.maxNum+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= b.maxNum; num++ {
		if off, ok := b.offsets[num]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
		} else {
			b.buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		b.maxNum+1, rootNum, xrefOff)
	return b.buf.Bytes()
}

// Minimal builds a document with the given number of pages, one shared
// font resource and one content stream per page.
func Minimal(pages int) []byte {
	b := newBuilder()
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 5+2*i)
	}
	b.obj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	b.obj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i := 0; i < pages; i++ {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i)
		b.stream(4+2*i, "", content)
		b.obj(5+2*i, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R "+
				"/Resources << /Font << /F1 3 0 R >> >> >>", 4+2*i))
	}
	return b.finish(1)
}

// Field describes one interactive text field for FormDoc. Empty optional
// properties are omitted from the field dictionary entirely.
type Field struct {
	Name    string
	Tooltip string
	Mapping string
	Alt     string
	Rect    [4]float64
}

// FormDoc builds a one-page document with the given AcroForm text fields.
// Each field is its own widget annotation on the page.
func FormDoc(fields []Field) []byte {
	b := newBuilder()

	fieldRefs, annots := "", ""
	for i := range fields {
		num := 5 + i
		fieldRefs += fmt.Sprintf("%d 0 R ", num)
		annots += fmt.Sprintf("%d 0 R ", num)
	}

	b.obj(1, fmt.Sprintf("<< /Type /Catalog /Pages 2 0 R "+
		"/AcroForm << /Fields [%s] /DR << /Font << /Helv 3 0 R >> >> /DA (/Helv 0 Tf 0 g) >> >>", fieldRefs))
	b.obj(2, "<< /Type /Pages /Kids [4 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.obj(4, fmt.Sprintf(
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots [%s] "+
			"/Resources << /Font << /F1 3 0 R >> >> >>", annots))

	for i, f := range fields {
		body := fmt.Sprintf("<< /Type /Annot /Subtype /Widget /FT /Tx /T (%s) /P 4 0 R "+
			"/Rect [%g %g %g %g]", f.Name, f.Rect[0], f.Rect[1], f.Rect[2], f.Rect[3])
		if f.Tooltip != "" {
			body += fmt.Sprintf(" /TU (%s)", f.Tooltip)
		}
		if f.Mapping != "" {
			body += fmt.Sprintf(" /TM (%s)", f.Mapping)
		}
		if f.Alt != "" {
			body += fmt.Sprintf(" /Alt (%s)", f.Alt)
		}
		body += " >>"
		b.obj(5+i, body)
	}
	return b.finish(1)
}

// Chunk generates a realistic single-page chunk with gofpdf, labeled so
// page provenance is visible in extracted text.
func Chunk(label string) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 14)
	pdf.Cell(200, 20, label)
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MultiPageChunk generates an n-page chunk with gofpdf.
func MultiPageChunk(label string, pages int) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 14)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Cell(200, 20, fmt.Sprintf("%s page %d", label, i))
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
