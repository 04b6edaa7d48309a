package cos

import "testing"

func TestCloneIsIndependent(t *testing.T) {
	inner := NewArray(Integer(1), Integer(2))
	d := NewDict()
	d.Set("Kids", inner)
	d.Set("Label", String{Bytes: []byte("orig")})

	c := Clone(d).(*Dict)
	inner.Items[0] = Integer(99)
	d.Set("Label", String{Bytes: []byte("changed")})

	kids, _ := c.Array("Kids")
	if kids.At(0) != Integer(1) {
		t.Errorf("clone saw mutation: %v", kids.At(0))
	}
	if label, _ := c.Text("Label"); label != "orig" {
		t.Errorf("clone label = %q", label)
	}
}

func TestCloneStream(t *testing.T) {
	st := NewStream(NewDict(), []byte("abc"))
	c := Clone(st).(*Stream)
	st.Data[0] = 'x'
	if string(c.Data) != "abc" {
		t.Errorf("clone data = %q", c.Data)
	}
}

func TestRewriteRefs(t *testing.T) {
	d := NewDict()
	d.Set("Parent", Ref{Num: 2})
	d.Set("Kids", NewArray(Ref{Num: 3}, Ref{Num: 4}))
	d.Set("Count", Integer(2))

	shifted := RewriteRefs(d, func(r Ref) Ref {
		return Ref{Num: r.Num + 100, Gen: r.Gen}
	}).(*Dict)

	if parent, _ := shifted.Ref("Parent"); parent.Num != 102 {
		t.Errorf("parent = %v", parent)
	}
	kids, _ := shifted.Array("Kids")
	if kids.At(0) != (Ref{Num: 103}) || kids.At(1) != (Ref{Num: 104}) {
		t.Errorf("kids = %v", kids.Items)
	}
	if n, _ := shifted.Int("Count"); n != 2 {
		t.Errorf("count = %d", n)
	}
	// The source is untouched.
	if parent, _ := d.Ref("Parent"); parent.Num != 2 {
		t.Errorf("source mutated: %v", parent)
	}
}

func TestDigestDistinguishesContent(t *testing.T) {
	a := NewDict()
	a.Set("Subtype", Name("Type1"))
	a.Set("BaseFont", Name("Helvetica"))

	b := NewDict()
	b.Set("BaseFont", Name("Helvetica"))
	b.Set("Subtype", Name("Type1"))

	if Digest(a) != Digest(b) {
		t.Error("key insertion order changed the digest")
	}

	b.Set("BaseFont", Name("Courier"))
	if Digest(a) == Digest(b) {
		t.Error("different content, same digest")
	}

	s1 := NewStream(NewDict(), []byte("data"))
	s2 := NewStream(NewDict(), []byte("Data"))
	if Digest(s1) == Digest(s2) {
		t.Error("stream payload not part of digest")
	}
}

func TestDigestKindsDoNotCollide(t *testing.T) {
	// /42 the name, 42 the integer and (42) the string are all different.
	if Digest(Name("42")) == Digest(Integer(42)) {
		t.Error("name/integer collision")
	}
	if Digest(Integer(42)) == Digest(String{Bytes: []byte("42")}) {
		t.Error("integer/string collision")
	}
}

func TestDictHelpers(t *testing.T) {
	d := NewDict()
	d.Set("Zeta", Integer(1))
	d.Set("Alpha", Integer(2))
	d.Set("Name", Name("Page"))
	d.Set("Title", String{Bytes: []byte("hello")})

	keys := d.Keys()
	if len(keys) != 4 || keys[0] != "Alpha" || keys[3] != "Zeta" {
		t.Errorf("keys = %v", keys)
	}
	if v, ok := d.Name("Name"); !ok || v != "Page" {
		t.Errorf("Name = %q, %v", v, ok)
	}
	if _, ok := d.Name("Title"); ok {
		t.Error("Name accepted a string value")
	}
	d.Delete("Alpha")
	if d.Len() != 3 {
		t.Errorf("len = %d", d.Len())
	}
}
