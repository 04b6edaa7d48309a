// Package document holds the parsed object graph of one PDF and the
// navigation helpers the pipeline needs: trailer, catalog, page tree and
// AcroForm access.
package document

import (
	"fmt"
	"sort"

	"github.com/docuseam/pdfassembly/cos"
)

// maxResolveDepth bounds reference chains so a cyclic graph cannot hang
// resolution.
const maxResolveDepth = 64

// Document is a complete PDF object graph plus its trailer.
type Document struct {
	Objects map[cos.Ref]cos.Object
	Trailer *cos.Dict
	Version string
}

func New() *Document {
	return &Document{
		Objects: make(map[cos.Ref]cos.Object),
		Trailer: cos.NewDict(),
		Version: "1.7",
	}
}

// Resolve follows references until a direct object is reached.
func (d *Document) Resolve(o cos.Object) cos.Object {
	for depth := 0; depth < maxResolveDepth; depth++ {
		ref, ok := o.(cos.Ref)
		if !ok {
			return o
		}
		target, ok := d.Objects[ref]
		if !ok {
			return cos.Null{}
		}
		o = target
	}
	return cos.Null{}
}

// Dict resolves o to a dictionary, accepting stream dictionaries too.
func (d *Document) Dict(o cos.Object) (*cos.Dict, bool) {
	switch v := d.Resolve(o).(type) {
	case *cos.Dict:
		return v, true
	case *cos.Stream:
		return v.Dict, true
	}
	return nil, false
}

// Array resolves o to an array.
func (d *Document) Array(o cos.Object) (*cos.Array, bool) {
	a, ok := d.Resolve(o).(*cos.Array)
	return a, ok
}

// Int resolves o to an integer.
func (d *Document) Int(o cos.Object) (int64, bool) {
	n, ok := d.Resolve(o).(cos.Integer)
	return int64(n), ok
}

// Catalog returns the document catalog from the trailer /Root.
func (d *Document) Catalog() (*cos.Dict, error) {
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil, fmt.Errorf("document: trailer has no /Root")
	}
	cat, ok := d.Dict(root)
	if !ok {
		return nil, fmt.Errorf("document: /Root is not a dictionary")
	}
	return cat, nil
}

// AcroForm returns the interactive form dictionary, if any.
func (d *Document) AcroForm() (*cos.Dict, bool) {
	cat, err := d.Catalog()
	if err != nil {
		return nil, false
	}
	form, ok := cat.Get("AcroForm")
	if !ok {
		return nil, false
	}
	return d.Dict(form)
}

// PageRefs returns the page object references in page-tree order.
func (d *Document) PageRefs() ([]cos.Ref, error) {
	cat, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	pagesObj, ok := cat.Get("Pages")
	if !ok {
		return nil, fmt.Errorf("document: catalog has no /Pages")
	}
	rootRef, _ := pagesObj.(cos.Ref)
	var out []cos.Ref
	visited := make(map[cos.Ref]bool)
	if err := d.walkPageTree(rootRef, pagesObj, visited, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) walkPageTree(ref cos.Ref, node cos.Object, visited map[cos.Ref]bool, out *[]cos.Ref) error {
	if r, ok := node.(cos.Ref); ok {
		if visited[r] {
			return fmt.Errorf("document: page tree cycle at %s", r)
		}
		visited[r] = true
		ref = r
	}
	dict, ok := d.Dict(node)
	if !ok {
		return fmt.Errorf("document: page tree node is not a dictionary")
	}
	typ, _ := dict.Name("Type")
	switch typ {
	case "Pages":
		kids, ok := d.Array(mustGet(dict, "Kids"))
		if !ok {
			return fmt.Errorf("document: pages node without /Kids")
		}
		for _, kid := range kids.Items {
			if err := d.walkPageTree(ref, kid, visited, out); err != nil {
				return err
			}
		}
		return nil
	case "Page":
		*out = append(*out, ref)
		return nil
	default:
		return fmt.Errorf("document: unexpected page tree node type %q", typ)
	}
}

// PageCount walks the page tree; it ignores the /Count hint on purpose so
// conservation checks measure reality, not the node's claim.
func (d *Document) PageCount() (int, error) {
	refs, err := d.PageRefs()
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

// PageIndex maps page object references to their zero-based index.
func (d *Document) PageIndex() (map[cos.Ref]int, error) {
	refs, err := d.PageRefs()
	if err != nil {
		return nil, err
	}
	idx := make(map[cos.Ref]int, len(refs))
	for i, r := range refs {
		idx[r] = i
	}
	return idx, nil
}

// MaxObjectNum returns the highest allocated object number.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Put stores obj under the given reference.
func (d *Document) Put(ref cos.Ref, obj cos.Object) {
	d.Objects[ref] = obj
}

// PutNew stores obj under a fresh object number and returns its reference.
func (d *Document) PutNew(obj cos.Object) cos.Ref {
	ref := cos.Ref{Num: d.MaxObjectNum() + 1}
	d.Objects[ref] = obj
	return ref
}

// SortedRefs returns every allocated reference in ascending number order.
func (d *Document) SortedRefs() []cos.Ref {
	refs := make([]cos.Ref, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

func mustGet(d *cos.Dict, key string) cos.Object {
	if o, ok := d.Get(key); ok {
		return o
	}
	return cos.Null{}
}
