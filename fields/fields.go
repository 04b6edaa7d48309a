// Package fields captures interactive form field metadata before a
// document is handed to an external structural transform, and restores it
// afterward. The transform is allowed to drop the /TU tooltip, /TM mapping
// name and /Alt text and to move widgets around; fields are matched back by
// fully qualified name, so restoration survives renumbering but not
// renaming. Widget placement is remembered as page index plus /Rect, never
// used for matching.
package fields

import (
	"fmt"
	"sort"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
)

// FieldTags is the restorable metadata of one form field.
type FieldTags struct {
	Name        string // fully qualified, parent names joined with "."
	Tooltip     string // /TU
	MappingName string // /TM
	AltText     string // /Alt

	// Widget placement of a merged field/annotation dictionary. Page is the
	// zero-based page index behind /P, -1 when the field has none; object
	// references are useless here because the transform renumbers freely.
	Page int
	Rect []float64 // /Rect, nil when absent
}

// Snapshot holds the captured tags of every named field in a document.
type Snapshot struct {
	tags  map[string]FieldTags
	order []string
}

func (s *Snapshot) Len() int { return len(s.tags) }

func (s *Snapshot) Tags(name string) (FieldTags, bool) {
	t, ok := s.tags[name]
	return t, ok
}

// Names returns the captured field names in document order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Capture walks the AcroForm field tree and records every named field's
// tags. The document is not modified; capturing twice yields equal
// snapshots. A document without a form yields an empty snapshot.
func Capture(doc *document.Document) (*Snapshot, error) {
	snap := &Snapshot{tags: make(map[string]FieldTags)}
	form, ok := doc.AcroForm()
	if !ok {
		return snap, nil
	}
	arr, ok := doc.Array(dictValue(form, "Fields"))
	if !ok {
		return snap, nil
	}
	// A formful document without a proper page tree still captures tags;
	// its widgets just carry no page index.
	pages, _ := doc.PageIndex()
	visited := make(map[cos.Ref]bool)
	for _, item := range arr.Items {
		if err := captureNode(doc, item, "", pages, visited, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func captureNode(doc *document.Document, node cos.Object, prefix string, pages map[cos.Ref]int, visited map[cos.Ref]bool, snap *Snapshot) error {
	if ref, ok := node.(cos.Ref); ok {
		if visited[ref] {
			return fmt.Errorf("fields: field tree cycle at %s", ref)
		}
		visited[ref] = true
	}
	dict, ok := doc.Dict(node)
	if !ok {
		return nil
	}

	qualified := prefix
	if partial, ok := dict.Text("T"); ok {
		qualified = joinName(prefix, partial)
		if _, dup := snap.tags[qualified]; !dup {
			snap.order = append(snap.order, qualified)
		}
		page, rect := widgetGeometry(doc, dict, pages)
		snap.tags[qualified] = FieldTags{
			Name:        qualified,
			Tooltip:     textOr(doc, dict, "TU"),
			MappingName: textOr(doc, dict, "TM"),
			AltText:     textOr(doc, dict, "Alt"),
			Page:        page,
			Rect:        rect,
		}
	}

	if kids, ok := doc.Array(dictValue(dict, "Kids")); ok {
		for _, kid := range kids.Items {
			if err := captureNode(doc, kid, qualified, pages, visited, snap); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore writes the snapshot's tags and widget placement back onto every
// field that still exists under its captured name, and reports what matched.
func Restore(doc *document.Document, snap *Snapshot) (*Report, error) {
	report := &Report{ExtractedCount: snap.Len()}
	present, err := collectFieldDicts(doc)
	if err != nil {
		return nil, err
	}
	pageRefs, _ := doc.PageRefs()

	for name := range present {
		if _, ok := snap.tags[name]; !ok {
			report.AddedByTransform = append(report.AddedByTransform, name)
		}
	}
	for _, name := range snap.order {
		dict, ok := present[name]
		if !ok {
			report.MissingAfterTransform = append(report.MissingAfterTransform, name)
			continue
		}
		tags := snap.tags[name]
		restoreText(dict, "TU", tags.Tooltip)
		restoreText(dict, "TM", tags.MappingName)
		restoreText(dict, "Alt", tags.AltText)
		if len(tags.Rect) == 4 {
			rect := cos.NewArray()
			for _, v := range tags.Rect {
				rect.Append(cos.Real(v))
			}
			dict.Set("Rect", rect)
		}
		if tags.Page >= 0 && tags.Page < len(pageRefs) {
			dict.Set("P", pageRefs[tags.Page])
		}
		report.RestoredCount++
	}
	sort.Strings(report.AddedByTransform)
	return report, nil
}

// collectFieldDicts maps qualified names to their field dictionaries.
func collectFieldDicts(doc *document.Document) (map[string]*cos.Dict, error) {
	out := make(map[string]*cos.Dict)
	form, ok := doc.AcroForm()
	if !ok {
		return out, nil
	}
	arr, ok := doc.Array(dictValue(form, "Fields"))
	if !ok {
		return out, nil
	}
	visited := make(map[cos.Ref]bool)
	var walk func(node cos.Object, prefix string) error
	walk = func(node cos.Object, prefix string) error {
		if ref, ok := node.(cos.Ref); ok {
			if visited[ref] {
				return fmt.Errorf("fields: field tree cycle at %s", ref)
			}
			visited[ref] = true
		}
		dict, ok := doc.Dict(node)
		if !ok {
			return nil
		}
		qualified := prefix
		if partial, ok := dict.Text("T"); ok {
			qualified = joinName(prefix, partial)
			out[qualified] = dict
		}
		if kids, ok := doc.Array(dictValue(dict, "Kids")); ok {
			for _, kid := range kids.Items {
				if err := walk(kid, qualified); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, item := range arr.Items {
		if err := walk(item, ""); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// widgetGeometry reads the placement of a merged field/widget dictionary.
// Page is -1 when /P is absent or does not name a known page.
func widgetGeometry(doc *document.Document, dict *cos.Dict, pages map[cos.Ref]int) (int, []float64) {
	page := -1
	if ref, ok := dictValue(dict, "P").(cos.Ref); ok {
		if idx, ok := pages[ref]; ok {
			page = idx
		}
	}
	arr, ok := doc.Array(dictValue(dict, "Rect"))
	if !ok || arr.Len() != 4 {
		return page, nil
	}
	rect := make([]float64, 4)
	for i := range rect {
		v, ok := cos.ToFloat(doc.Resolve(arr.At(i)))
		if !ok {
			return page, nil
		}
		rect[i] = v
	}
	return page, rect
}

func restoreText(dict *cos.Dict, key, value string) {
	if value == "" {
		return
	}
	dict.Set(key, cos.String{Bytes: []byte(value)})
}

func joinName(prefix, partial string) string {
	if prefix == "" {
		return partial
	}
	return prefix + "." + partial
}

func textOr(doc *document.Document, dict *cos.Dict, key string) string {
	v, ok := dict.Get(key)
	if !ok {
		return ""
	}
	if s, ok := doc.Resolve(v).(cos.String); ok {
		return string(s.Bytes)
	}
	return ""
}

func dictValue(d *cos.Dict, key string) cos.Object {
	if o, ok := d.Get(key); ok {
		return o
	}
	return cos.Null{}
}
