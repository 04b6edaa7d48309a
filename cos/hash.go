package cos

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// Digest returns a content hash of an object. Two objects with equal
// digests serialize identically, which is the consolidation criterion used
// when duplicate shared resources are folded together.
func Digest(o Object) string {
	h := sha256.New()
	writeDigest(h, o)
	return hex.EncodeToString(h.Sum(nil))
}

func writeDigest(w io.Writer, o Object) {
	if o == nil {
		io.WriteString(w, "nil")
		return
	}
	var kind [1]byte
	kind[0] = byte(o.Kind())
	w.Write(kind[:])
	switch v := o.(type) {
	case Name:
		io.WriteString(w, string(v))
	case Integer:
		binary.Write(w, binary.BigEndian, int64(v))
	case Real:
		binary.Write(w, binary.BigEndian, float64(v))
	case Boolean:
		binary.Write(w, binary.BigEndian, bool(v))
	case String:
		w.Write(v.Bytes)
	case Ref:
		fmt.Fprintf(w, "%d %d R", v.Num, v.Gen)
	case *Array:
		for _, it := range v.Items {
			writeDigest(w, it)
		}
	case *Dict:
		for _, k := range v.Keys() {
			io.WriteString(w, k)
			writeDigest(w, v.KV[k])
		}
	case *Stream:
		writeDigest(w, v.Dict)
		w.Write(v.Data)
	}
}
