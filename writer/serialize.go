package writer

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/docuseam/pdfassembly/cos"
)

// serialize writes one COS value in PDF syntax.
func serialize(buf *bytes.Buffer, o cos.Object) {
	switch v := o.(type) {
	case nil, cos.Null:
		buf.WriteString("null")
	case cos.Boolean:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case cos.Integer:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case cos.Real:
		// Exponent notation is not legal PDF syntax.
		buf.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 64))
	case cos.Name:
		writeName(buf, string(v))
	case cos.String:
		writeString(buf, v)
	case cos.Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	case *cos.Array:
		buf.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			serialize(buf, it)
		}
		buf.WriteByte(']')
	case *cos.Dict:
		writeDict(buf, v)
	case *cos.Stream:
		v.Dict.Set("Length", cos.Integer(len(v.Data)))
		writeDict(buf, v.Dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		buf.WriteString("null")
	}
}

func writeDict(buf *bytes.Buffer, d *cos.Dict) {
	buf.WriteString("<<")
	for _, k := range d.Keys() {
		writeName(buf, k)
		buf.WriteByte(' ')
		serialize(buf, d.KV[k])
		buf.WriteByte(' ')
	}
	buf.WriteString(">>")
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isRegularNameByte(c) {
			buf.WriteByte(c)
		} else {
			fmt.Fprintf(buf, "#%02X", c)
		}
	}
}

func isRegularNameByte(c byte) bool {
	if c <= 0x20 || c == 0x7F || c == '#' {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func writeString(buf *bytes.Buffer, s cos.String) {
	if s.Hex {
		buf.WriteByte('<')
		for _, c := range s.Bytes {
			fmt.Fprintf(buf, "%02X", c)
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Bytes {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
