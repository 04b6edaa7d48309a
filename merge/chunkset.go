package merge

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/docuseam/pdfassembly/document"
)

// ChunkRef identifies one fragment of a logical document. Base is the
// logical document identifier with the chunk marker removed, so every
// fragment of the same document shares a Base.
type ChunkRef struct {
	Base    string
	Ordinal int
	Key     string
}

func (r ChunkRef) String() string { return fmt.Sprintf("%s#%d", r.Base, r.Ordinal) }

// Chunk pairs a parsed fragment with its identity and original byte size.
type Chunk struct {
	Ref  ChunkRef
	Doc  *document.Document
	Size int64
}

var chunkKeyPattern = regexp.MustCompile(`_chunk_(\d+)`)

// ParseChunkKey derives a ChunkRef from a storage key of the form
// {base}_chunk_{ordinal}{suffix}. The marker is stripped from the key to
// form the base, so "report_chunk_2.pdf" names fragment 2 of "report.pdf".
func ParseChunkKey(key string) (ChunkRef, error) {
	m := chunkKeyPattern.FindStringSubmatchIndex(key)
	if m == nil {
		return ChunkRef{}, fmt.Errorf("merge: key %q carries no chunk marker", key)
	}
	ordinal, err := strconv.Atoi(key[m[2]:m[3]])
	if err != nil {
		return ChunkRef{}, fmt.Errorf("merge: key %q: bad ordinal: %w", key, err)
	}
	return ChunkRef{
		Base:    key[:m[0]] + key[m[1]:],
		Ordinal: ordinal,
		Key:     key,
	}, nil
}

// MissingChunkError reports a gap in the expected contiguous ordinal range.
type MissingChunkError struct {
	Base    string
	Ordinal int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("merge: %s: chunk ordinal %d is missing", e.Base, e.Ordinal)
}

// DuplicateChunkError reports two chunks claiming the same ordinal.
type DuplicateChunkError struct {
	Base    string
	Ordinal int
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("merge: %s: chunk ordinal %d appears more than once", e.Base, e.Ordinal)
}

// sortAndValidate orders chunks by ordinal and enforces that ordinals run
// contiguously from zero with no duplicates.
func sortAndValidate(chunks []Chunk) error {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Ref.Ordinal < chunks[j].Ref.Ordinal
	})
	for i, c := range chunks {
		switch {
		case c.Ref.Ordinal == i:
		case i > 0 && c.Ref.Ordinal == chunks[i-1].Ref.Ordinal:
			return &DuplicateChunkError{Base: c.Ref.Base, Ordinal: c.Ref.Ordinal}
		default:
			return &MissingChunkError{Base: c.Ref.Base, Ordinal: i}
		}
	}
	return nil
}
