package parser

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"

	"github.com/docuseam/pdfassembly/cos"
)

// DecodeStream applies a stream's filter chain and returns the plain data.
// Only the filters the reassembly pipeline actually meets are implemented:
// Flate (with PNG predictors), ASCIIHex and ASCII85. Anything else is an
// error so the caller can decide whether the stream may stay opaque.
func DecodeStream(doc interface {
	Resolve(cos.Object) cos.Object
}, st *cos.Stream) ([]byte, error) {
	names, parms := filterChain(doc, st.Dict)
	data := st.Data
	for i, name := range names {
		var parm *cos.Dict
		if i < len(parms) {
			parm = parms[i]
		}
		var err error
		switch name {
		case "FlateDecode", "Fl":
			data, err = flateDecode(data, parm)
		case "ASCIIHexDecode", "AHx":
			data, err = asciiHexDecode(data)
		case "ASCII85Decode", "A85":
			data, err = ascii85Decode(data)
		default:
			return nil, fmt.Errorf("parser: unsupported filter %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("parser: %s: %w", name, err)
		}
	}
	return data, nil
}

func filterChain(doc interface {
	Resolve(cos.Object) cos.Object
}, dict *cos.Dict) ([]string, []*cos.Dict) {
	fObj, ok := dict.Get("Filter")
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := doc.Resolve(fObj).(type) {
	case cos.Name:
		names = []string{string(v)}
	case *cos.Array:
		for _, it := range v.Items {
			if n, ok := doc.Resolve(it).(cos.Name); ok {
				names = append(names, string(n))
			}
		}
	}
	var parms []*cos.Dict
	if pObj, ok := dict.Get("DecodeParms"); ok {
		switch v := doc.Resolve(pObj).(type) {
		case *cos.Dict:
			parms = []*cos.Dict{v}
		case *cos.Array:
			for _, it := range v.Items {
				if d, ok := doc.Resolve(it).(*cos.Dict); ok {
					parms = append(parms, d)
				} else {
					parms = append(parms, nil)
				}
			}
		}
	}
	return names, parms
}

func flateDecode(data []byte, parm *cos.Dict) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if parm == nil {
		return out, nil
	}
	pred, _ := parm.Int("Predictor")
	if pred <= 1 {
		return out, nil
	}
	columns := int64(1)
	if c, ok := parm.Int("Columns"); ok {
		columns = c
	}
	colors := int64(1)
	if c, ok := parm.Int("Colors"); ok {
		colors = c
	}
	bpc := int64(8)
	if b, ok := parm.Int("BitsPerComponent"); ok {
		bpc = b
	}
	return unpredictPNG(out, int(columns), int(colors), int(bpc))
}

// unpredictPNG reverses PNG row predictors (predictor values 10-15), the
// form xref streams in the wild use.
func unpredictPNG(data []byte, columns, colors, bpc int) ([]byte, error) {
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8
	stride := rowLen + 1
	if rowLen <= 0 || len(data)%stride != 0 {
		return nil, fmt.Errorf("predictor: data length %d not a multiple of row size %d", len(data), stride)
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				left, upLeft := 0, 0
				if i >= bpp {
					left = int(cur[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				cur[i] += paeth(byte(left), prev[i], byte(upLeft))
			}
		default:
			return nil, fmt.Errorf("predictor: unknown row filter %d", ft)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func asciiHexDecode(data []byte) ([]byte, error) {
	var nibbles []byte
	for _, c := range data {
		if c == '>' {
			break
		}
		switch {
		case c >= '0' && c <= '9':
			nibbles = append(nibbles, c-'0')
		case c >= 'a' && c <= 'f':
			nibbles = append(nibbles, c-'a'+10)
		case c >= 'A' && c <= 'F':
			nibbles = append(nibbles, c-'A'+10)
		case c == 0x00, c == 0x09, c == 0x0A, c == 0x0C, c == 0x0D, c == 0x20:
		default:
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, 0)
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return out, nil
}

func ascii85Decode(data []byte) ([]byte, error) {
	if idx := bytes.Index(data, []byte("~>")); idx >= 0 {
		data = data[:idx]
	}
	dec := ascii85.NewDecoder(bytes.NewReader(data))
	return io.ReadAll(dec)
}
