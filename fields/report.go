package fields

// Report summarizes one restoration pass.
type Report struct {
	// ExtractedCount is how many fields the snapshot held.
	ExtractedCount int
	// RestoredCount is how many of them were matched and rewritten.
	RestoredCount int
	// MissingAfterTransform lists captured names the transform dropped,
	// in capture order.
	MissingAfterTransform []string
	// AddedByTransform lists field names that exist now but were never
	// captured, sorted.
	AddedByTransform []string
}

// Mismatched reports whether the transform lost or invented fields.
func (r *Report) Mismatched() bool {
	return len(r.MissingAfterTransform) > 0 || len(r.AddedByTransform) > 0
}
