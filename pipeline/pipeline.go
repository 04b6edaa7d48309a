// Package pipeline reassembles a logical document from its chunks: load
// and parse every chunk, merge them in ordinal order, compact the result
// without ever letting it grow, hand it to an external retagging transform,
// and restore the field metadata that transform is allowed to destroy.
//
// Merge failures are fatal for the document. Compaction and restoration
// degrade instead: a failed or regressing compaction keeps the uncompressed
// artifact, and lost field tags are reported, not fatal.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docuseam/pdfassembly/fields"
	"github.com/docuseam/pdfassembly/merge"
	"github.com/docuseam/pdfassembly/observability"
	"github.com/docuseam/pdfassembly/optimize"
	"github.com/docuseam/pdfassembly/parser"
	"github.com/docuseam/pdfassembly/writer"
)

// State names how far one document made it through the run.
type State int

const (
	StateChunksReceived State = iota
	StateMerged
	StateCompacted
	StateRetagged
	StateRestored
	StateDone
)

var stateNames = [...]string{"ChunksReceived", "Merged", "Compacted", "Retagged", "Restored", "Done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Storage is the external byte-stream collaborator chunks are loaded from
// and the finished artifact is stored to.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte) error
}

// Retagger is the external structural transform. It receives a well-formed
// document byte-stream and returns one; it may drop field metadata.
type Retagger interface {
	Retag(ctx context.Context, data []byte) ([]byte, error)
}

type Config struct {
	Logger   observability.Logger
	Storage  Storage
	Retagger Retagger // nil skips the retagging stage
	Compact  optimize.Config
}

// Result describes one finished (or failed) document run.
type Result struct {
	RunID      string
	Document   string
	OutputKey  string
	State      State
	Status     string
	Pages      int
	InputBytes int64
	Compaction *optimize.Result
	Report     *fields.Report
	Sources    []merge.ChunkRef
}

type Pipeline struct {
	log      observability.Logger
	storage  Storage
	retagger Retagger
	parser   *parser.DocumentParser
	merger   *merge.Merger
	compact  *optimize.Compactor
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("pipeline: storage is required")
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	compactCfg := cfg.Compact
	if compactCfg.Logger == nil {
		compactCfg.Logger = log
	}
	return &Pipeline{
		log:      log,
		storage:  cfg.Storage,
		retagger: cfg.Retagger,
		parser:   parser.New(parser.Config{}),
		merger:   merge.New(merge.Config{Logger: log}),
		compact:  optimize.New(compactCfg),
	}, nil
}

// Run reassembles the logical document behind the given chunk keys and
// stores the finished artifact under the base document key. The returned
// Result is populated as far as the run got, also on error.
func (p *Pipeline) Run(ctx context.Context, chunkKeys []string) (*Result, error) {
	res := &Result{
		RunID:  uuid.NewString(),
		State:  StateChunksReceived,
		Status: StatusFailed,
	}
	log := p.log.With(observability.String("run_id", res.RunID))

	err := p.run(ctx, log, chunkKeys, res)
	if err != nil {
		log.Error("document failed",
			observability.String("document", res.Document),
			observability.String("state", res.State.String()),
			observability.Error("error", err))
		return res, err
	}
	res.Status = StatusSucceeded
	p.logOutcome(log, res)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log observability.Logger, chunkKeys []string, res *Result) error {
	chunks, err := p.loadChunks(ctx, chunkKeys)
	if err != nil {
		return err
	}
	if len(chunks) > 0 {
		res.Document = chunks[0].Ref.Base
	}
	log = log.With(observability.String("document", res.Document))

	merged, err := p.merger.Merge(chunks)
	if err != nil {
		return &MergeError{Document: res.Document, Err: err}
	}
	res.State = StateMerged
	res.InputBytes = merged.InputBytes
	res.Sources = merged.Sources
	if res.Pages, err = merged.Doc.PageCount(); err != nil {
		return fmt.Errorf("pipeline: merged document: %w", err)
	}

	// Captured before the external transform gets a chance to drop tags.
	snapshot, err := fields.Capture(merged.Doc)
	if err != nil {
		return fmt.Errorf("pipeline: capture fields: %w", err)
	}

	compaction, err := p.compact.Compact(merged.Doc)
	if err != nil {
		return err
	}
	res.State = StateCompacted
	res.Compaction = compaction
	log.Info("compaction measured",
		observability.String("operation", "compression"),
		observability.Int64("input_bytes", res.InputBytes),
		observability.Int64("pre_size", compaction.PreSize),
		observability.Int64("final_size", compaction.FinalSize),
		observability.Float64("ratio_pct", compaction.RatioOf(res.InputBytes)))

	artifact, err := p.retagAndRestore(ctx, log, compaction, snapshot, res)
	if err != nil {
		return err
	}

	res.OutputKey = res.Document
	if err := p.storage.Store(ctx, res.OutputKey, artifact); err != nil {
		return &StoreError{Op: "store", Key: res.OutputKey, Err: err}
	}
	res.State = StateDone
	return nil
}

// loadChunks fetches, identifies and parses every chunk.
func (p *Pipeline) loadChunks(ctx context.Context, keys []string) ([]merge.Chunk, error) {
	chunks := make([]merge.Chunk, 0, len(keys))
	for _, key := range keys {
		ref, err := merge.ParseChunkKey(key)
		if err != nil {
			return nil, err
		}
		data, err := p.storage.Load(ctx, key)
		if err != nil {
			return nil, &StoreError{Op: "load", Key: key, Err: err}
		}
		doc, err := p.parser.ParseBytes(ctx, data)
		if err != nil {
			return nil, &CorruptChunkError{Key: key, Err: err}
		}
		chunks = append(chunks, merge.Chunk{Ref: ref, Doc: doc, Size: int64(len(data))})
	}
	return chunks, nil
}

// retagAndRestore runs the external transform on the compacted artifact and
// puts the captured field tags back. Every transform failure degrades to
// the pre-transform artifact; a clean transform that lost fields is
// reported via the restoration report but still succeeds.
func (p *Pipeline) retagAndRestore(ctx context.Context, log observability.Logger, compaction *optimize.Result, snapshot *fields.Snapshot, res *Result) ([]byte, error) {
	res.Report = &fields.Report{ExtractedCount: snapshot.Len()}
	if p.retagger == nil {
		return compaction.Data, nil
	}

	retagged, err := p.retagger.Retag(ctx, compaction.Data)
	if err != nil {
		log.Warn("retagging failed, keeping untagged artifact",
			observability.Error("error", err))
		return compaction.Data, nil
	}
	doc, err := p.parser.ParseBytes(ctx, retagged)
	if err != nil {
		log.Warn("retagged artifact does not parse, keeping untagged artifact",
			observability.Error("error", err))
		return compaction.Data, nil
	}
	res.State = StateRetagged

	report, err := fields.Restore(doc, snapshot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: restore fields: %w", err)
	}
	res.Report = report
	res.State = StateRestored
	if report.Mismatched() {
		log.Warn("field tags mismatched after transform",
			observability.Int("extracted", report.ExtractedCount),
			observability.Int("restored", report.RestoredCount),
			observability.Int("missing", len(report.MissingAfterTransform)),
			observability.Int("added", len(report.AddedByTransform)))
	}

	out, err := writer.New(writer.Config{ObjectStreams: compaction.Accepted}).Bytes(doc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: serialize restored document: %w", err)
	}
	return out, nil
}

func (p *Pipeline) logOutcome(log observability.Logger, res *Result) {
	out := []observability.Field{
		observability.String("document", res.Document),
		observability.String("status", res.Status),
		observability.String("state", res.State.String()),
		observability.Int("pages", res.Pages),
		observability.Int("chunks", len(res.Sources)),
		observability.Int64("input_bytes", res.InputBytes),
	}
	if res.Compaction != nil {
		out = append(out,
			observability.Int64("pre_size", res.Compaction.PreSize),
			observability.Int64("final_size", res.Compaction.FinalSize),
			observability.Float64("ratio_pct", res.Compaction.RatioOf(res.InputBytes)))
	}
	if res.Report != nil {
		out = append(out,
			observability.Int("fields_extracted", res.Report.ExtractedCount),
			observability.Int("fields_restored", res.Report.RestoredCount))
	}
	log.Info("document finished", out...)
}
