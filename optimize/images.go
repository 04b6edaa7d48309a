package optimize

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/observability"
)

// recompressImages re-encodes DCT-coded image XObjects at the configured
// quality, downscaling anything wider than ImageMaxWidth. An image is only
// replaced when the new encoding is smaller; images that fail to decode are
// left alone.
func (c *Compactor) recompressImages(doc *document.Document) {
	for _, ref := range doc.SortedRefs() {
		st, ok := doc.Objects[ref].(*cos.Stream)
		if !ok || !isDCTImage(st.Dict) {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(st.Data))
		if err != nil {
			c.log.Debug("image decode failed, leaving as is",
				observability.String("object", ref.String()),
				observability.Error("error", err))
			continue
		}

		if max := c.cfg.ImageMaxWidth; max > 0 && img.Bounds().Dx() > max {
			img = downscale(img, max)
		}

		quality := c.cfg.ImageQuality
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			continue
		}
		if buf.Len() >= len(st.Data) {
			continue
		}

		st.Data = buf.Bytes()
		st.Dict.Set("Width", cos.Integer(img.Bounds().Dx()))
		st.Dict.Set("Height", cos.Integer(img.Bounds().Dy()))
		st.Dict.Set("Length", cos.Integer(buf.Len()))
		st.Dict.Set("BitsPerComponent", cos.Integer(8))
		// The re-encoded stream no longer matches the source's pixel
		// format, so the color space entries follow the new encoding.
		if isGray(img) {
			st.Dict.Set("ColorSpace", cos.Name("DeviceGray"))
		} else {
			st.Dict.Set("ColorSpace", cos.Name("DeviceRGB"))
		}
	}
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

// isDCTImage reports whether a stream is an image XObject whose only
// filter is DCTDecode.
func isDCTImage(dict *cos.Dict) bool {
	if sub, _ := dict.Name("Subtype"); sub != "Image" {
		return false
	}
	filter, ok := dict.Get("Filter")
	if !ok {
		return false
	}
	switch f := filter.(type) {
	case cos.Name:
		return f == "DCTDecode"
	case *cos.Array:
		if f.Len() != 1 {
			return false
		}
		name, ok := f.At(0).(cos.Name)
		return ok && name == "DCTDecode"
	}
	return false
}

func downscale(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	height := bounds.Dy() * maxWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
