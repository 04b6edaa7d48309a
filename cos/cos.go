// Package cos implements the PDF object model (the "Carousel Object
// System"): the primitive values a PDF file is assembled from, independent
// of how they are tokenized or serialized.
package cos

import (
	"fmt"
	"sort"
)

// Ref uniquely identifies an indirect object.
type Ref struct {
	Num int
	Gen int
}

func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Kind discriminates object types without reflection.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindReal
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
)

// Object is the base interface for all COS values.
type Object interface {
	Kind() Kind
}

type Null struct{}

func (Null) Kind() Kind { return KindNull }

type Boolean bool

func (Boolean) Kind() Kind { return KindBoolean }

type Integer int64

func (Integer) Kind() Kind { return KindInteger }

type Real float64

func (Real) Kind() Kind { return KindReal }

// String is a PDF string. Hex records the source notation so round trips
// stay byte-stable.
type String struct {
	Bytes []byte
	Hex   bool
}

func (String) Kind() Kind { return KindString }

type Name string

func (Name) Kind() Kind { return KindName }

func (r Ref) Kind() Kind { return KindRef }

// Array is an ordered sequence of objects.
type Array struct {
	Items []Object
}

func (*Array) Kind() Kind { return KindArray }

func NewArray(items ...Object) *Array { return &Array{Items: items} }

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) Append(objs ...Object) { a.Items = append(a.Items, objs...) }

func (a *Array) At(i int) Object {
	if i < 0 || i >= len(a.Items) {
		return Null{}
	}
	return a.Items[i]
}

// Dict is a PDF dictionary. Keys carry no leading slash.
type Dict struct {
	KV map[string]Object
}

func (*Dict) Kind() Kind { return KindDict }

func NewDict() *Dict { return &Dict{KV: make(map[string]Object)} }

func (d *Dict) Get(key string) (Object, bool) {
	o, ok := d.KV[key]
	return o, ok
}

func (d *Dict) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Delete(key string) { delete(d.KV, key) }

func (d *Dict) Len() int { return len(d.KV) }

// Keys returns the dictionary keys sorted, for deterministic serialization.
func (d *Dict) Keys() []string {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Name returns the value of key when it is a Name.
func (d *Dict) Name(key string) (string, bool) {
	if n, ok := d.KV[key].(Name); ok {
		return string(n), true
	}
	return "", false
}

// Int returns the value of key when it is an Integer.
func (d *Dict) Int(key string) (int64, bool) {
	if n, ok := d.KV[key].(Integer); ok {
		return int64(n), true
	}
	return 0, false
}

// Text returns the value of key when it is a String.
func (d *Dict) Text(key string) (string, bool) {
	if s, ok := d.KV[key].(String); ok {
		return string(s.Bytes), true
	}
	return "", false
}

// Array returns the value of key when it is a direct Array.
func (d *Dict) Array(key string) (*Array, bool) {
	a, ok := d.KV[key].(*Array)
	return a, ok
}

// Ref returns the value of key when it is an indirect reference.
func (d *Dict) Ref(key string) (Ref, bool) {
	r, ok := d.KV[key].(Ref)
	return r, ok
}

// Stream pairs a dictionary with its raw (still encoded) payload.
type Stream struct {
	Dict *Dict
	Data []byte
}

func (*Stream) Kind() Kind { return KindStream }

func NewStream(dict *Dict, data []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	dict.Set("Length", Integer(len(data)))
	return &Stream{Dict: dict, Data: data}
}

// ToFloat widens Integer and Real values.
func ToFloat(o Object) (float64, bool) {
	switch v := o.(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// Clone deep-copies an object graph fragment. References are copied as
// values; the objects they point to are not followed.
func Clone(o Object) Object {
	switch v := o.(type) {
	case *Array:
		items := make([]Object, len(v.Items))
		for i, it := range v.Items {
			items[i] = Clone(it)
		}
		return &Array{Items: items}
	case *Dict:
		d := NewDict()
		for k, it := range v.KV {
			d.KV[k] = Clone(it)
		}
		return d
	case *Stream:
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return &Stream{Dict: Clone(v.Dict).(*Dict), Data: data}
	case String:
		b := make([]byte, len(v.Bytes))
		copy(b, v.Bytes)
		return String{Bytes: b, Hex: v.Hex}
	default:
		return o
	}
}

// RewriteRefs returns a copy of o with every reference remapped through fn.
// Containers are copied; scalars are returned as-is.
func RewriteRefs(o Object, fn func(Ref) Ref) Object {
	switch v := o.(type) {
	case Ref:
		return fn(v)
	case *Array:
		items := make([]Object, len(v.Items))
		for i, it := range v.Items {
			items[i] = RewriteRefs(it, fn)
		}
		return &Array{Items: items}
	case *Dict:
		d := NewDict()
		for k, it := range v.KV {
			d.KV[k] = RewriteRefs(it, fn)
		}
		return d
	case *Stream:
		return &Stream{Dict: RewriteRefs(v.Dict, fn).(*Dict), Data: v.Data}
	default:
		return o
	}
}
