package pipeline

import "fmt"

// CorruptChunkError marks a chunk that was loaded but does not parse as a
// document. Fatal for the logical document.
type CorruptChunkError struct {
	Key string
	Err error
}

func (e *CorruptChunkError) Error() string {
	return fmt.Sprintf("pipeline: chunk %s is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptChunkError) Unwrap() error { return e.Err }

// MergeError marks a failed merge fold. Fatal for the logical document;
// the cause (missing ordinal, invalid page tree, ...) stays matchable
// through Unwrap.
type MergeError struct {
	Document string
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("pipeline: merge %s: %v", e.Document, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// StoreError marks a failed storage interaction. Fatal for the logical
// document; retrying is the orchestrator's call.
type StoreError struct {
	Op  string // "load" or "store"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("pipeline: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
