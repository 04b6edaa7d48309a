package merge_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/internal/testpdf"
	"github.com/docuseam/pdfassembly/merge"
	"github.com/docuseam/pdfassembly/parser"
	"github.com/docuseam/pdfassembly/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, data []byte) *document.Document {
	t.Helper()
	doc, err := parser.New(parser.Config{}).ParseBytes(context.Background(), data)
	require.NoError(t, err)
	return doc
}

func pageChunk(t *testing.T, base string, ordinal, pages int) merge.Chunk {
	t.Helper()
	data := testpdf.Minimal(pages)
	return merge.Chunk{
		Ref:  merge.ChunkRef{Base: base, Ordinal: ordinal},
		Doc:  parseDoc(t, data),
		Size: int64(len(data)),
	}
}

func formChunk(t *testing.T, base string, ordinal int, fields ...testpdf.Field) merge.Chunk {
	t.Helper()
	data := testpdf.FormDoc(fields)
	return merge.Chunk{
		Ref:  merge.ChunkRef{Base: base, Ordinal: ordinal},
		Doc:  parseDoc(t, data),
		Size: int64(len(data)),
	}
}

func TestParseChunkKey(t *testing.T) {
	ref, err := merge.ParseChunkKey("incoming/report_chunk_2.pdf")
	require.NoError(t, err)
	assert.Equal(t, "incoming/report.pdf", ref.Base)
	assert.Equal(t, 2, ref.Ordinal)
	assert.Equal(t, "incoming/report_chunk_2.pdf", ref.Key)

	_, err = merge.ParseChunkKey("report.pdf")
	assert.Error(t, err)
}

func TestMergePageConservation(t *testing.T) {
	chunks := []merge.Chunk{
		pageChunk(t, "doc.pdf", 0, 1),
		pageChunk(t, "doc.pdf", 1, 2),
		pageChunk(t, "doc.pdf", 2, 3),
	}
	res, err := merge.New(merge.Config{}).Merge(chunks)
	require.NoError(t, err)

	count, err := res.Doc.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, int64(len(testpdf.Minimal(1))+len(testpdf.Minimal(2))+len(testpdf.Minimal(3))), res.InputBytes)
}

func TestMergeOrderDeterminism(t *testing.T) {
	build := func(order []int) []byte {
		var chunks []merge.Chunk
		for _, ord := range order {
			chunks = append(chunks, pageChunk(t, "doc.pdf", ord, ord+1))
		}
		res, err := merge.New(merge.Config{}).Merge(chunks)
		require.NoError(t, err)

		for i, src := range res.Sources {
			assert.Equal(t, i, src.Ordinal, "sources must be sorted by ordinal")
		}
		out, err := writer.New(writer.Config{}).Bytes(res.Doc)
		require.NoError(t, err)
		return out
	}

	first := build([]int{0, 1, 2})
	scrambled := build([]int{2, 0, 1})
	assert.True(t, bytes.Equal(first, scrambled), "arrival order leaked into output")
}

func TestMergeMissingOrdinal(t *testing.T) {
	chunks := []merge.Chunk{
		pageChunk(t, "doc.pdf", 0, 1),
		pageChunk(t, "doc.pdf", 2, 1),
	}
	_, err := merge.New(merge.Config{}).Merge(chunks)
	var missing *merge.MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Ordinal)
}

func TestMergeDuplicateOrdinal(t *testing.T) {
	chunks := []merge.Chunk{
		pageChunk(t, "doc.pdf", 0, 1),
		pageChunk(t, "doc.pdf", 1, 1),
		pageChunk(t, "doc.pdf", 1, 1),
	}
	_, err := merge.New(merge.Config{}).Merge(chunks)
	var dup *merge.DuplicateChunkError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 1, dup.Ordinal)
}

func TestMergeEmptySet(t *testing.T) {
	_, err := merge.New(merge.Config{}).Merge(nil)
	assert.Error(t, err)
}

func TestMergeUnionsFormFields(t *testing.T) {
	chunks := []merge.Chunk{
		formChunk(t, "form.pdf", 0,
			testpdf.Field{Name: "first_name", Rect: [4]float64{10, 700, 200, 720}},
			testpdf.Field{Name: "last_name", Rect: [4]float64{10, 660, 200, 680}}),
		formChunk(t, "form.pdf", 1,
			testpdf.Field{Name: "email", Tooltip: "Email address", Rect: [4]float64{10, 700, 200, 720}}),
	}
	res, err := merge.New(merge.Config{}).Merge(chunks)
	require.NoError(t, err)

	form, ok := res.Doc.AcroForm()
	require.True(t, ok)
	fields, ok := res.Doc.Array(mustGet(form, "Fields"))
	require.True(t, ok)
	require.Equal(t, 3, fields.Len())

	var names []string
	for _, item := range fields.Items {
		field, ok := res.Doc.Dict(item)
		require.True(t, ok)
		name, _ := field.Text("T")
		names = append(names, name)
	}
	assert.Equal(t, []string{"first_name", "last_name", "email"}, names)
}

func TestMergeCarriesFormDefaultResources(t *testing.T) {
	// The default appearance font is reachable only through /DR, not
	// through any page or field.
	doc := document.New()
	font := cos.NewDict()
	font.Set("Type", cos.Name("Font"))
	font.Set("Subtype", cos.Name("Type1"))
	font.Set("BaseFont", cos.Name("Helvetica"))
	doc.Put(cos.Ref{Num: 6}, font)

	field := cos.NewDict()
	field.Set("FT", cos.Name("Tx"))
	field.Set("T", cos.String{Bytes: []byte("notes")})
	doc.Put(cos.Ref{Num: 5}, field)

	page := cos.NewDict()
	page.Set("Type", cos.Name("Page"))
	page.Set("Parent", cos.Ref{Num: 2})
	doc.Put(cos.Ref{Num: 4}, page)

	pages := cos.NewDict()
	pages.Set("Type", cos.Name("Pages"))
	pages.Set("Kids", cos.NewArray(cos.Ref{Num: 4}))
	pages.Set("Count", cos.Integer(1))
	doc.Put(cos.Ref{Num: 2}, pages)

	form := cos.NewDict()
	form.Set("Fields", cos.NewArray(cos.Ref{Num: 5}))
	drFonts := cos.NewDict()
	drFonts.Set("Helv", cos.Ref{Num: 6})
	dr := cos.NewDict()
	dr.Set("Font", drFonts)
	form.Set("DR", dr)

	cat := cos.NewDict()
	cat.Set("Type", cos.Name("Catalog"))
	cat.Set("Pages", cos.Ref{Num: 2})
	cat.Set("AcroForm", form)
	doc.Put(cos.Ref{Num: 1}, cat)
	doc.Trailer.Set("Root", cos.Ref{Num: 1})

	chunks := []merge.Chunk{
		{Ref: merge.ChunkRef{Base: "form.pdf", Ordinal: 0}, Doc: doc, Size: 1},
		pageChunk(t, "form.pdf", 1, 1),
	}
	res, err := merge.New(merge.Config{}).Merge(chunks)
	require.NoError(t, err)

	mergedForm, ok := res.Doc.AcroForm()
	require.True(t, ok)
	drOut, ok := res.Doc.Dict(mustGet(mergedForm, "DR"))
	require.True(t, ok)
	fontsOut, ok := res.Doc.Dict(mustGet(drOut, "Font"))
	require.True(t, ok)
	helv, ok := res.Doc.Dict(mustGet(fontsOut, "Helv"))
	require.True(t, ok, "default resource font must survive the fold")
	base, _ := helv.Name("BaseFont")
	assert.Equal(t, "Helvetica", base)
}

func TestMergeConsolidatesSharedResources(t *testing.T) {
	// Every fixture chunk embeds the same Helvetica font dictionary.
	chunks := []merge.Chunk{
		pageChunk(t, "doc.pdf", 0, 1),
		pageChunk(t, "doc.pdf", 1, 1),
		pageChunk(t, "doc.pdf", 2, 1),
	}
	res, err := merge.New(merge.Config{}).Merge(chunks)
	require.NoError(t, err)

	fonts := 0
	for _, obj := range res.Doc.Objects {
		if d, ok := obj.(*cos.Dict); ok {
			if typ, _ := d.Name("Type"); typ == "Font" {
				fonts++
			}
		}
	}
	assert.Equal(t, 1, fonts, "identical font objects must fold into one")

	// Folding resources must never fold pages.
	count, err := res.Doc.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMergeGeneratedChunks(t *testing.T) {
	var chunks []merge.Chunk
	for ord := 0; ord < 3; ord++ {
		data, err := testpdf.Chunk(fmt.Sprintf("section %d", ord))
		require.NoError(t, err)
		chunks = append(chunks, merge.Chunk{
			Ref:  merge.ChunkRef{Base: "generated.pdf", Ordinal: ord},
			Doc:  parseDoc(t, data),
			Size: int64(len(data)),
		})
	}
	res, err := merge.New(merge.Config{}).Merge(chunks)
	require.NoError(t, err)

	count, err := res.Doc.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// The merged graph must survive a write/parse cycle.
	out, err := writer.New(writer.Config{}).Bytes(res.Doc)
	require.NoError(t, err)
	again := parseDoc(t, out)
	count, err = again.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMergeLeavesSourcesUntouched(t *testing.T) {
	chunk := pageChunk(t, "doc.pdf", 0, 1)
	pages, err := chunk.Doc.PageRefs()
	require.NoError(t, err)
	page, ok := chunk.Doc.Dict(pages[0])
	require.True(t, ok)
	parentBefore, _ := page.Ref("Parent")

	_, err = merge.New(merge.Config{}).Merge([]merge.Chunk{chunk, pageChunk(t, "doc.pdf", 1, 1)})
	require.NoError(t, err)

	parentAfter, _ := page.Ref("Parent")
	assert.Equal(t, parentBefore, parentAfter)
	assert.Len(t, chunk.Doc.Objects, 5)
}

func mustGet(d *cos.Dict, key string) cos.Object {
	if o, ok := d.Get(key); ok {
		return o
	}
	return cos.Null{}
}
