// Package merge folds an ordered set of document chunks into one document.
// The fold is sequential: chunks are sorted by ordinal, each chunk's object
// graph is renumbered into the output, and a fresh page tree concatenates
// the chunk pages in ordinal order. Shared resources that are byte-identical
// across chunks are consolidated afterward.
package merge

import (
	"fmt"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/observability"
)

const (
	catalogNum   = 1
	pageRootNum  = 2
	firstFreeNum = 3
)

// consolidation runs to a fixpoint; the cap only guards against a
// pathological graph that never converges.
const maxConsolidatePasses = 8

type Config struct {
	Logger observability.Logger
}

// Result is the combined document plus provenance.
type Result struct {
	Doc        *document.Document
	Sources    []ChunkRef
	InputBytes int64
}

type Merger struct {
	log observability.Logger
}

func New(cfg Config) *Merger {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Merger{log: log}
}

// Merge combines the chunks of one logical document. Chunks may arrive in
// any order; the output page sequence follows ascending ordinals. Source
// chunk documents are left untouched.
func (m *Merger) Merge(chunks []Chunk) (*Result, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("merge: no chunks supplied")
	}
	if err := sortAndValidate(chunks); err != nil {
		return nil, err
	}

	out := document.New()
	out.Version = chunks[0].Doc.Version

	var (
		next       = firstFreeNum
		pageRefs   []cos.Ref
		fieldRefs  []cos.Ref
		formExtras = cos.NewDict()
		sources    []ChunkRef
		inputBytes int64
	)

	for _, chunk := range chunks {
		folded, err := m.foldChunk(out, chunk, &next)
		if err != nil {
			return nil, fmt.Errorf("merge: chunk %s: %w", chunk.Ref, err)
		}
		pageRefs = append(pageRefs, folded.pages...)
		fieldRefs = append(fieldRefs, folded.fields...)
		mergeFormExtras(formExtras, folded.formExtras)
		sources = append(sources, chunk.Ref)
		inputBytes += chunk.Size
		if chunk.Doc.Version > out.Version {
			out.Version = chunk.Doc.Version
		}
		m.log.Debug("chunk folded",
			observability.String("chunk", chunk.Ref.String()),
			observability.Int("pages", len(folded.pages)))
	}

	pageRoot := cos.NewDict()
	pageRoot.Set("Type", cos.Name("Pages"))
	kids := cos.NewArray()
	for _, ref := range pageRefs {
		kids.Append(ref)
		page, ok := out.Dict(ref)
		if !ok {
			return nil, fmt.Errorf("merge: page %s vanished during fold", ref)
		}
		page.Set("Parent", cos.Ref{Num: pageRootNum})
	}
	pageRoot.Set("Kids", kids)
	pageRoot.Set("Count", cos.Integer(len(pageRefs)))
	out.Put(cos.Ref{Num: pageRootNum}, pageRoot)

	catalog := cos.NewDict()
	catalog.Set("Type", cos.Name("Catalog"))
	catalog.Set("Pages", cos.Ref{Num: pageRootNum})
	if len(fieldRefs) > 0 {
		form := formExtras
		fields := cos.NewArray()
		for _, ref := range fieldRefs {
			fields.Append(ref)
		}
		form.Set("Fields", fields)
		catalog.Set("AcroForm", form)
	}
	out.Put(cos.Ref{Num: catalogNum}, catalog)
	out.Trailer.Set("Root", cos.Ref{Num: catalogNum})

	consolidateDuplicates(out)

	m.log.Info("merge complete",
		observability.String("document", chunks[0].Ref.Base),
		observability.Int("chunks", len(sources)),
		observability.Int("pages", len(pageRefs)),
		observability.Int64("input_bytes", inputBytes))

	return &Result{Doc: out, Sources: sources, InputBytes: inputBytes}, nil
}

type foldedChunk struct {
	pages      []cos.Ref
	fields     []cos.Ref
	formExtras *cos.Dict
}

// foldChunk renumbers the reachable part of one chunk into out. Only
// objects reachable from the chunk's pages, form fields and remaining
// AcroForm entries are carried; the chunk's own catalog and page tree are
// left behind.
func (m *Merger) foldChunk(out *document.Document, chunk Chunk, next *int) (*foldedChunk, error) {
	pages, err := chunk.Doc.PageRefs()
	if err != nil {
		return nil, err
	}

	var fields []cos.Ref
	var formExtras *cos.Dict
	if form, ok := chunk.Doc.AcroForm(); ok {
		if arr, ok := chunk.Doc.Array(dictGet(form, "Fields")); ok {
			for _, item := range arr.Items {
				if ref, ok := item.(cos.Ref); ok {
					fields = append(fields, ref)
				}
			}
		}
		formExtras = form
	}

	seeds := make([]cos.Object, 0, len(pages)+len(fields)+1)
	for _, p := range pages {
		seeds = append(seeds, p)
	}
	for _, f := range fields {
		seeds = append(seeds, f)
	}
	if formExtras != nil {
		// Objects behind the non-/Fields form entries, /DR default
		// resources above all, must survive the fold too.
		seeds = append(seeds, formExtras)
	}
	reachable := collectReachable(chunk.Doc, seeds)

	remap := make(map[cos.Ref]cos.Ref, len(reachable))
	for _, old := range reachable {
		remap[old] = cos.Ref{Num: *next}
		*next++
	}
	rewrite := func(r cos.Ref) cos.Ref {
		if mapped, ok := remap[r]; ok {
			return mapped
		}
		// Dangling in the source; keep it dangling instead of letting it
		// collide with another chunk's objects.
		return cos.Ref{}
	}

	for _, old := range reachable {
		out.Put(remap[old], cos.RewriteRefs(chunk.Doc.Objects[old], rewrite))
	}

	folded := &foldedChunk{}
	for _, p := range pages {
		folded.pages = append(folded.pages, remap[p])
	}
	for _, f := range fields {
		folded.fields = append(folded.fields, remap[f])
	}
	if formExtras != nil {
		folded.formExtras = cos.RewriteRefs(formExtras, rewrite).(*cos.Dict)
		folded.formExtras.Delete("Fields")
	}
	return folded, nil
}

// collectReachable walks the reference graph from the seed objects in
// deterministic order. Upward /Parent links on page tree nodes are not
// followed so the chunk's original tree is not dragged along.
func collectReachable(doc *document.Document, seeds []cos.Object) []cos.Ref {
	var order []cos.Ref
	seen := make(map[cos.Ref]bool)

	var visit func(o cos.Object)
	visitRef := func(r cos.Ref) {
		if seen[r] {
			return
		}
		seen[r] = true
		target, ok := doc.Objects[r]
		if !ok {
			return
		}
		order = append(order, r)
		visit(target)
	}
	visit = func(o cos.Object) {
		switch v := o.(type) {
		case cos.Ref:
			visitRef(v)
		case *cos.Array:
			for _, item := range v.Items {
				visit(item)
			}
		case *cos.Dict:
			typ, _ := v.Name("Type")
			for _, k := range v.Keys() {
				if k == "Parent" && (typ == "Page" || typ == "Pages") {
					continue
				}
				visit(v.KV[k])
			}
		case *cos.Stream:
			visit(v.Dict)
		}
	}
	for _, s := range seeds {
		visit(s)
	}
	return order
}

// mergeFormExtras folds non-/Fields AcroForm entries first-wins, except
// /NeedAppearances which is sticky once any chunk sets it.
func mergeFormExtras(dst, src *cos.Dict) {
	if src == nil {
		return
	}
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		if k == "NeedAppearances" {
			if b, ok := v.(cos.Boolean); ok && bool(b) {
				dst.Set(k, cos.Boolean(true))
			}
			continue
		}
		if _, ok := dst.Get(k); !ok {
			dst.Set(k, v)
		}
	}
}

// consolidateDuplicates folds objects with identical content into one,
// repointing every reference at the surviving copy. Page objects are never
// folded so two identical pages stay two pages.
func consolidateDuplicates(doc *document.Document) {
	for pass := 0; pass < maxConsolidatePasses; pass++ {
		canonical := make(map[string]cos.Ref)
		remap := make(map[cos.Ref]cos.Ref)
		for _, ref := range doc.SortedRefs() {
			obj := doc.Objects[ref]
			if d, ok := obj.(*cos.Dict); ok {
				if typ, _ := d.Name("Type"); typ == "Page" || typ == "Pages" || typ == "Catalog" {
					continue
				}
			}
			digest := cos.Digest(obj)
			if keep, ok := canonical[digest]; ok {
				remap[ref] = keep
			} else {
				canonical[digest] = ref
			}
		}
		if len(remap) == 0 {
			return
		}
		rewrite := func(r cos.Ref) cos.Ref {
			if mapped, ok := remap[r]; ok {
				return mapped
			}
			return r
		}
		for ref, obj := range doc.Objects {
			if _, dropped := remap[ref]; dropped {
				delete(doc.Objects, ref)
				continue
			}
			doc.Objects[ref] = cos.RewriteRefs(obj, rewrite)
		}
		doc.Trailer = cos.RewriteRefs(doc.Trailer, rewrite).(*cos.Dict)
	}
}

func dictGet(d *cos.Dict, key string) cos.Object {
	if o, ok := d.Get(key); ok {
		return o
	}
	return cos.Null{}
}
