package parser_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/internal/testpdf"
	"github.com/docuseam/pdfassembly/parser"
)

func TestParseMinimal(t *testing.T) {
	data := testpdf.Minimal(3)
	p := parser.New(parser.Config{})
	doc, err := p.ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if doc.Version != "1.7" {
		t.Errorf("version = %q", doc.Version)
	}
	count, err := doc.PageCount()
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if count != 3 {
		t.Errorf("page count = %d, want 3", count)
	}
	cat, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if typ, _ := cat.Name("Type"); typ != "Catalog" {
		t.Errorf("catalog type = %q", typ)
	}
}

func TestParseGofpdfOutput(t *testing.T) {
	data, err := testpdf.MultiPageChunk("chunk", 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	doc, err := parser.New(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	count, err := doc.PageCount()
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if count != 2 {
		t.Errorf("page count = %d, want 2", count)
	}
}

func TestParseRejectsEncrypted(t *testing.T) {
	data := string(testpdf.Minimal(1))
	data = strings.Replace(data, "/Root 1 0 R", "/Root 1 0 R /Encrypt 99 0 R", 1)
	_, err := parser.New(parser.Config{}).ParseBytes(context.Background(), []byte(data))
	if !errors.Is(err, parser.ErrEncrypted) {
		t.Fatalf("err = %v, want ErrEncrypted", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := parser.New(parser.Config{})
	for _, input := range []string{"", "not a pdf at all", "%PDF-1.7\nno xref here"} {
		if _, err := p.ParseBytes(context.Background(), []byte(input)); err == nil {
			t.Errorf("input %q: expected error", input)
		}
	}
}

func TestParseIndirectStreamLength(t *testing.T) {
	// Stream /Length stored as an indirect reference to object 4.
	var buf strings.Builder
	buf.WriteString("%PDF-1.7\n")
	offsets := make(map[int]int)
	add := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	add(3, "<< /Type /Page /Parent 2 0 R /Contents 5 0 R /MediaBox [0 0 100 100] >>")
	add(4, "7")
	offsets[5] = buf.Len()
	buf.WriteString("5 0 obj\n<< /Length 4 0 R >>\nstream\npayload\nendstream\nendobj\n")
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	doc, err := parser.New(parser.Config{}).ParseBytes(context.Background(), []byte(buf.String()))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	st, ok := doc.Objects[cos.Ref{Num: 5}].(*cos.Stream)
	if !ok {
		t.Fatalf("object 5 is %T, want stream", doc.Objects[cos.Ref{Num: 5}])
	}
	if string(st.Data) != "payload" {
		t.Errorf("stream data = %q", st.Data)
	}
}

func TestParseReportsMismatchedObjectHeader(t *testing.T) {
	// The xref entry for object 1 points at the bytes of object 2.
	var buf strings.Builder
	buf.WriteString("%PDF-1.7\n")
	offsets := make(map[int]int)
	add := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	offsets[1] = offsets[2]
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 3\n0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	_, err := parser.New(parser.Config{}).ParseBytes(context.Background(), []byte(buf.String()))
	if err == nil {
		t.Fatal("expected header mismatch error")
	}
	if !strings.Contains(err.Error(), "object header mismatch") || !strings.Contains(err.Error(), "offset") {
		t.Errorf("err = %v, want header mismatch with byte offset", err)
	}
}

func TestParsePreservesStringAndNameEscapes(t *testing.T) {
	data := testpdf.FormDoc([]testpdf.Field{{Name: "first_name", Tooltip: "Your (given) name", Rect: [4]float64{10, 10, 200, 30}}})
	doc, err := parser.New(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	form, ok := doc.AcroForm()
	if !ok {
		t.Fatal("AcroForm missing")
	}
	fieldsArr, ok := doc.Array(mustGet(form, "Fields"))
	if !ok || fieldsArr.Len() != 1 {
		t.Fatalf("fields array missing or wrong size")
	}
	field, ok := doc.Dict(fieldsArr.At(0))
	if !ok {
		t.Fatal("field is not a dict")
	}
	if name, _ := field.Text("T"); name != "first_name" {
		t.Errorf("T = %q", name)
	}
	if tu, _ := field.Text("TU"); tu != "Your (given) name" {
		t.Errorf("TU = %q", tu)
	}
}

func mustGet(d *cos.Dict, key string) cos.Object {
	if o, ok := d.Get(key); ok {
		return o
	}
	return cos.Null{}
}
