package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/beleg-scanner/internal/scanning"
)

const (
	DefaultConcurrency = 5
	DefaultTimeout     = 90 * time.Second
)

// Progress is reported after every completed document
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Current   string `json:"current"`
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// Config tunes a Runner
type Config struct {
	// Concurrency bounds the number of in-flight model calls
	Concurrency int
	// Timeout bounds a single model call
	Timeout time.Duration
	// InputOrder sorts the result by submission index instead of completion order
	InputOrder bool
}

// ResultSet collects one Record per document. It is safe for concurrent use.
type ResultSet struct {
	mu      sync.Mutex
	records []Record
}

func newResultSet(capacity int) *ResultSet {
	return &ResultSet{records: make([]Record, 0, capacity)}
}

func (rs *ResultSet) add(rec Record) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.records = append(rs.records, rec)
	return len(rs.records)
}

// Records returns a copy of the records in insertion order
func (rs *ResultSet) Records() []Record {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.Clone(rs.records)
}

// InSubmissionOrder returns a copy of the records sorted by submission index
func (rs *ResultSet) InSubmissionOrder() []Record {
	records := rs.Records()
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.Index - b.Index
	})
	return records
}

func (rs *ResultSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.records)
}

// Failed counts the flagged error records
func (rs *ResultSet) Failed() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, r := range rs.records {
		if r.Failed {
			n++
		}
	}
	return n
}

// Total sums the amounts of all records that did not fail
func (rs *ResultSet) Total() float64 {
	return TotalAmount(rs.Records())
}

// TotalAmount sums the amounts of the records that did not fail
func TotalAmount(records []Record) float64 {
	var total float64
	for _, r := range records {
		if !r.Failed {
			total += r.Amount
		}
	}
	return total
}

// Runner runs the extraction pipeline over a batch of documents
type Runner struct {
	extractor  scanning.Extractor
	normalizer *Normalizer
	cfg        Config
}

// NewRunner creates a Runner. Zero config values fall back to the defaults.
func NewRunner(extractor scanning.Extractor, normalizer *Normalizer, cfg Config) *Runner {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{
		extractor:  extractor,
		normalizer: normalizer,
		cfg:        cfg,
	}
}

// Run processes every document and returns exactly one Record per document.
// Failures become flagged records and never abort the batch. Cancelling ctx
// stops new submissions; calls already in flight run to completion or timeout
// and the remaining documents are recorded as cancelled.
func (r *Runner) Run(ctx context.Context, docs []*scanning.Document, onProgress ProgressFunc) *ResultSet {
	rs := newResultSet(len(docs))
	total := len(docs)

	var progressMu sync.Mutex
	collect := func(rec Record) {
		progressMu.Lock()
		defer progressMu.Unlock()
		completed := rs.add(rec)
		reportProgress(onProgress, Progress{Completed: completed, Total: total, Current: rec.Filename})
	}

	var eg errgroup.Group
	eg.SetLimit(r.cfg.Concurrency)

	cancelled := func(i int, doc *scanning.Document) bool {
		err := ctx.Err()
		if err == nil {
			return false
		}
		collect(FailedRecord(i, documentName(doc), fmt.Errorf("cancelled before processing: %w", err)))
		return true
	}

	for i, doc := range docs {
		if cancelled(i, doc) {
			continue
		}
		eg.Go(func() error {
			// the batch may have been cancelled while waiting for a slot
			if cancelled(i, doc) {
				return nil
			}
			collect(r.process(ctx, i, doc))
			return nil
		})
	}
	// workers never return errors
	_ = eg.Wait()

	if r.cfg.InputOrder {
		rs.mu.Lock()
		slices.SortStableFunc(rs.records, func(a, b Record) int {
			return a.Index - b.Index
		})
		rs.mu.Unlock()
	}

	slog.Info("Batch finished", "documents", total, "failed", rs.Failed())
	return rs
}

// process runs one document through extract, parse and normalize
func (r *Runner) process(ctx context.Context, index int, doc *scanning.Document) (rec Record) {
	name := documentName(doc)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Panic while processing document", "filename", name, "panic", p)
			rec = FailedRecord(index, name, fmt.Errorf("unexpected failure: %v", p))
		}
	}()

	if doc == nil {
		return FailedRecord(index, name, errors.New("missing document"))
	}
	if doc.Kind() == scanning.KindUnknown {
		return FailedRecord(index, name, fmt.Errorf("unsupported content type: %q", doc.ContentType))
	}

	// in-flight calls are not cut short by batch cancellation, only by the timeout
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()

	raw, err := r.extractor.Extract(callCtx, doc)
	if err != nil {
		var modelErr *scanning.ModelError
		if !errors.As(err, &modelErr) {
			err = &scanning.ModelError{Provider: "extractor", Err: err}
		}
		slog.Error("Failed to scan document",
			"filename", name,
			"content_type", doc.ContentType,
			"file_size", len(doc.Data),
			"error", err,
		)
		return FailedRecord(index, name, err)
	}

	bag, err := scanning.ParseResponse(raw)
	if err != nil {
		slog.Error("Failed to parse model response", "filename", name, "error", err)
		return FailedRecord(index, name, err)
	}

	return r.normalizer.Normalize(index, name, bag)
}

// reportProgress calls onProgress, logging instead of crashing the worker if it panics
func reportProgress(onProgress ProgressFunc, p Progress) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in progress callback", "filename", p.Current, "panic", r)
		}
	}()
	onProgress(p)
}

func documentName(doc *scanning.Document) string {
	if doc == nil {
		return ""
	}
	return doc.Name
}
