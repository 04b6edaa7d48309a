package optimize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/internal/testpdf"
	"github.com/docuseam/pdfassembly/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, data []byte) *document.Document {
	t.Helper()
	doc, err := parser.New(parser.Config{}).ParseBytes(context.Background(), data)
	require.NoError(t, err)
	return doc
}

// paddedDoc is a fixture document bulked up with repetitive dictionaries
// so the object-stream encoding is guaranteed to win.
func paddedDoc(t *testing.T) *document.Document {
	doc := parseDoc(t, testpdf.Minimal(1))
	for i := 0; i < 50; i++ {
		font := cos.NewDict()
		font.Set("Type", cos.Name("Font"))
		font.Set("Subtype", cos.Name("Type1"))
		font.Set("BaseFont", cos.Name(fmt.Sprintf("SomeVeryLongFontFamilyName-%04d", i)))
		doc.PutNew(font)
	}
	return doc
}

func TestCompactNeverRegresses(t *testing.T) {
	for _, pages := range []int{1, 3} {
		doc := parseDoc(t, testpdf.Minimal(pages))
		res, err := New(Config{}).Compact(doc)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.FinalSize, res.PreSize)
		assert.Equal(t, int64(len(res.Data)), res.FinalSize)
	}
}

func TestCompactAcceptsSmallerCandidate(t *testing.T) {
	doc := paddedDoc(t)
	res, err := New(Config{}).Compact(doc)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Less(t, res.FinalSize, res.PreSize)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("%PDF-1.5")), "accepted artifact must carry the 1.5 header")

	again := parseDoc(t, res.Data)
	count, err := again.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, again.Objects, len(doc.Objects))
}

func TestCompactFallbackOnEncodeFailure(t *testing.T) {
	doc := parseDoc(t, testpdf.Minimal(2))
	c := New(Config{})
	c.encodeCompact = func(*document.Document) ([]byte, error) {
		return nil, fmt.Errorf("object stream assembly blew up")
	}

	res, err := c.Compact(doc)
	require.NoError(t, err, "encode failure must degrade, not abort")
	assert.False(t, res.Accepted)
	assert.Equal(t, res.PreSize, res.FinalSize)
	var cause *CompactionError
	require.ErrorAs(t, res.Err, &cause)
	assert.Equal(t, "1.7", doc.Version, "failed attempt must not leave a bumped version behind")

	again := parseDoc(t, res.Data)
	count, err := again.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCompactRejectsLargerCandidate(t *testing.T) {
	doc := parseDoc(t, testpdf.Minimal(1))
	c := New(Config{})
	c.encodeCompact = func(*document.Document) ([]byte, error) {
		return bytes.Repeat([]byte("x"), 1<<20), nil
	}

	res, err := c.Compact(doc)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.NoError(t, res.Err, "a merely larger candidate is not a failure")
	assert.Equal(t, res.PreSize, res.FinalSize)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("%PDF-1.7")))
}

func TestCompactRatio(t *testing.T) {
	res := &Result{PreSize: 200, FinalSize: 50}
	assert.InDelta(t, 25.0, res.Ratio(), 0.001)
	assert.InDelta(t, 12.5, res.RatioOf(400), 0.001, "log record ratio is measured against the source bytes")
	assert.InDelta(t, 100.0, res.RatioOf(0), 0.001)
	empty := &Result{}
	assert.InDelta(t, 100.0, empty.Ratio(), 0.001)
}

func TestCompressStreams(t *testing.T) {
	doc := parseDoc(t, testpdf.Minimal(1))
	payload := strings.Repeat("0 0 m 100 100 l S\n", 200)
	streamRef := doc.PutNew(cos.NewStream(cos.NewDict(), []byte(payload)))

	res, err := New(Config{CompressStreams: true}).Compact(doc)
	require.NoError(t, err)

	again := parseDoc(t, res.Data)
	st, ok := again.Objects[streamRef].(*cos.Stream)
	require.True(t, ok)
	filter, _ := st.Dict.Name("Filter")
	assert.Equal(t, "FlateDecode", filter)
	assert.Less(t, len(st.Data), len(payload))

	decoded, err := parser.DecodeStream(again, st)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestRecompressImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			i := src.PixOffset(x, y)
			src.Pix[i] = uint8(x % 256)
			src.Pix[i+1] = uint8(y % 256)
			src.Pix[i+2] = uint8((x + y) % 256)
			src.Pix[i+3] = 255
		}
	}
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, &jpeg.Options{Quality: 95}))

	dict := cos.NewDict()
	dict.Set("Type", cos.Name("XObject"))
	dict.Set("Subtype", cos.Name("Image"))
	dict.Set("Filter", cos.Name("DCTDecode"))
	dict.Set("Width", cos.Integer(400))
	dict.Set("Height", cos.Integer(300))
	dict.Set("ColorSpace", cos.Name("DeviceRGB"))
	dict.Set("BitsPerComponent", cos.Integer(8))

	doc := parseDoc(t, testpdf.Minimal(1))
	imgRef := doc.PutNew(cos.NewStream(dict, jpg.Bytes()))
	originalLen := jpg.Len()

	c := New(Config{ImageQuality: 30, ImageMaxWidth: 200})
	c.recompressImages(doc)

	st := doc.Objects[imgRef].(*cos.Stream)
	assert.Less(t, len(st.Data), originalLen)
	w, _ := st.Dict.Int("Width")
	assert.Equal(t, int64(200), w)
	h, _ := st.Dict.Int("Height")
	assert.Equal(t, int64(150), h)
	cs, _ := st.Dict.Name("ColorSpace")
	assert.Equal(t, "DeviceRGB", cs)
	bpc, _ := st.Dict.Int("BitsPerComponent")
	assert.Equal(t, int64(8), bpc)

	reencoded, err := jpeg.Decode(bytes.NewReader(st.Data))
	require.NoError(t, err)
	assert.Equal(t, 200, reencoded.Bounds().Dx())
}

func TestRecompressImagesKeepsGrayColorSpace(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 120, 90))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 256)
	}
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, &jpeg.Options{Quality: 95}))

	dict := cos.NewDict()
	dict.Set("Type", cos.Name("XObject"))
	dict.Set("Subtype", cos.Name("Image"))
	dict.Set("Filter", cos.Name("DCTDecode"))
	dict.Set("Width", cos.Integer(120))
	dict.Set("Height", cos.Integer(90))
	dict.Set("ColorSpace", cos.Name("DeviceGray"))
	dict.Set("BitsPerComponent", cos.Integer(8))

	doc := parseDoc(t, testpdf.Minimal(1))
	imgRef := doc.PutNew(cos.NewStream(dict, jpg.Bytes()))

	c := New(Config{ImageQuality: 30})
	c.recompressImages(doc)

	st := doc.Objects[imgRef].(*cos.Stream)
	cs, _ := st.Dict.Name("ColorSpace")
	assert.Equal(t, "DeviceGray", cs)
	reencoded, err := jpeg.Decode(bytes.NewReader(st.Data))
	require.NoError(t, err)
	_, isGrayOut := reencoded.(*image.Gray)
	assert.True(t, isGrayOut, "a grayscale source must re-encode as grayscale")
}

func TestNonImageStreamsAreLeftAlone(t *testing.T) {
	doc := parseDoc(t, testpdf.Minimal(1))
	before := make(map[cos.Ref]int)
	for ref, obj := range doc.Objects {
		if st, ok := obj.(*cos.Stream); ok {
			before[ref] = len(st.Data)
		}
	}
	c := New(Config{ImageQuality: 10, ImageMaxWidth: 10})
	c.recompressImages(doc)
	for ref, size := range before {
		st := doc.Objects[ref].(*cos.Stream)
		assert.Equal(t, size, len(st.Data))
	}
}
