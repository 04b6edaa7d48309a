// Package optimize shrinks a finished document without ever letting it
// grow. The compactor serializes the document twice, once in the classic
// layout and once in the compact object-stream layout, and keeps whichever
// is smaller. Any failure while producing the compact candidate degrades to
// the classic artifact instead of failing the document.
package optimize

import (
	"bytes"
	"compress/zlib"
	"fmt"

	"github.com/docuseam/pdfassembly/cos"
	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/observability"
	"github.com/docuseam/pdfassembly/writer"
)

type Config struct {
	Logger observability.Logger
	// CompressStreams re-encodes bare streams with FlateDecode when that
	// makes them smaller.
	CompressStreams bool
	// ImageQuality enables JPEG image recompression when 1-100.
	ImageQuality int
	// ImageMaxWidth downscales wider raster images. Zero keeps dimensions.
	ImageMaxWidth int
	// CompressionLevel is the zlib level for the compact layout. Zero
	// selects zlib.DefaultCompression.
	CompressionLevel int
}

// CompactionError records why the compact candidate could not be produced.
// It is carried on the Result, not returned: the classic artifact is still
// valid and the document keeps going.
type CompactionError struct {
	Err error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("optimize: compact encoding failed: %v", e.Err)
}

func (e *CompactionError) Unwrap() error { return e.Err }

// Result holds the chosen artifact and the measurements behind the choice.
type Result struct {
	Data      []byte
	PreSize   int64
	FinalSize int64
	// Accepted reports whether the compact candidate won. When false,
	// Data is the classic serialization and FinalSize equals PreSize.
	Accepted bool
	// Err is the *CompactionError behind a failed candidate, nil when the
	// candidate encoded cleanly (accepted or merely larger).
	Err error
}

// Ratio is FinalSize as a percentage of PreSize.
func (r *Result) Ratio() float64 {
	if r.PreSize == 0 {
		return 100
	}
	return float64(r.FinalSize) / float64(r.PreSize) * 100
}

// RatioOf is FinalSize as a percentage of the given size, typically the
// combined size of the source chunks.
func (r *Result) RatioOf(input int64) float64 {
	if input <= 0 {
		return 100
	}
	return float64(r.FinalSize) / float64(input) * 100
}

type Compactor struct {
	cfg Config
	log observability.Logger

	// encodeCompact produces the candidate artifact; swappable so failure
	// handling is testable.
	encodeCompact func(doc *document.Document) ([]byte, error)
}

func New(cfg Config) *Compactor {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	c := &Compactor{cfg: cfg, log: log}
	c.encodeCompact = func(doc *document.Document) ([]byte, error) {
		return writer.New(writer.Config{
			ObjectStreams: true,
			Compression:   cfg.CompressionLevel,
		}).Bytes(doc)
	}
	return c
}

// Compact serializes doc and returns the smaller of the classic and
// compact encodings. It returns an error only when no artifact at all can
// be produced; a failed or regressing compact attempt is downgraded to the
// classic artifact with Accepted=false.
func (c *Compactor) Compact(doc *document.Document) (*Result, error) {
	if c.cfg.ImageQuality > 0 || c.cfg.ImageMaxWidth > 0 {
		c.recompressImages(doc)
	}
	if c.cfg.CompressStreams {
		c.compressStreams(doc)
	}

	baseline, err := writer.New(writer.Config{}).Bytes(doc)
	if err != nil {
		return nil, fmt.Errorf("optimize: baseline serialization: %w", err)
	}
	res := &Result{
		Data:      baseline,
		PreSize:   int64(len(baseline)),
		FinalSize: int64(len(baseline)),
	}

	// The compact layout is always stamped as PDF 1.5, the version that
	// introduced object streams; restore the header if the candidate loses
	// or fails.
	origVersion := doc.Version
	doc.Version = "1.5"
	candidate, err := c.encodeCompact(doc)
	if err != nil {
		doc.Version = origVersion
		res.Err = &CompactionError{Err: err}
		c.log.Warn("compaction failed, keeping uncompressed artifact",
			observability.Error("error", res.Err),
			observability.Int64("size", res.PreSize))
		return res, nil
	}
	if int64(len(candidate)) > res.PreSize {
		doc.Version = origVersion
		c.log.Info("compaction regressed, keeping uncompressed artifact",
			observability.Int64("pre_size", res.PreSize),
			observability.Int64("candidate_size", int64(len(candidate))))
		return res, nil
	}

	res.Data = candidate
	res.FinalSize = int64(len(candidate))
	res.Accepted = true
	c.log.Info("compaction accepted",
		observability.Int64("pre_size", res.PreSize),
		observability.Int64("final_size", res.FinalSize),
		observability.Float64("ratio_pct", res.Ratio()))
	return res, nil
}

// compressStreams flate-encodes streams that carry no filter yet, keeping
// the original whenever encoding does not shrink it.
func (c *Compactor) compressStreams(doc *document.Document) {
	for _, ref := range doc.SortedRefs() {
		st, ok := doc.Objects[ref].(*cos.Stream)
		if !ok {
			continue
		}
		if _, filtered := st.Dict.Get("Filter"); filtered {
			continue
		}
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlibLevel(c.cfg.CompressionLevel))
		if err != nil {
			continue
		}
		if _, err := zw.Write(st.Data); err != nil {
			zw.Close()
			continue
		}
		if err := zw.Close(); err != nil {
			continue
		}
		if buf.Len() >= len(st.Data) {
			continue
		}
		st.Data = buf.Bytes()
		st.Dict.Set("Filter", cos.Name("FlateDecode"))
		st.Dict.Set("Length", cos.Integer(buf.Len()))
	}
}

func zlibLevel(level int) int {
	if level == 0 {
		return zlib.DefaultCompression
	}
	return level
}
