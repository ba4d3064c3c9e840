package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/beleg-scanner/internal/export"
	"github.com/zombor/beleg-scanner/internal/extraction"
	"github.com/zombor/beleg-scanner/internal/scanning"
)

var (
	// ErrRecordNotFound is returned when a batch has no record at the index
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidEdit is returned for edits that cannot be applied
	ErrInvalidEdit = errors.New("invalid edit")
	// ErrBatchRunning is returned when a batch is still being processed
	ErrBatchRunning = errors.New("batch is still running")
	// ErrNoDocuments is returned when a batch is started without files
	ErrNoDocuments = errors.New("at least one document is required")
)

// Runner processes a batch of documents
type Runner interface {
	Run(ctx context.Context, docs []*scanning.Document, onProgress extraction.ProgressFunc) *extraction.ResultSet
}

// IDGenerator generates unique IDs for batches
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs batches in the background and holds them for review and export.
// Only one batch is kept: starting a new one discards the previous.
type Service struct {
	db          DB
	runner      Runner
	idGenerator IDGenerator
	timeSource  TimeSource

	// mu serializes read-modify-write cycles on stored batches
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, runner Runner) *Service {
	return NewServiceWithDeps(db, runner, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, runner Runner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		runner:      runner,
		idGenerator: idGen,
		timeSource:  timeSrc,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// StartBatch discards the current session and starts processing docs in the background
func (s *Service) StartBatch(docs []*scanning.Document) (*Batch, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	s.mu.Lock()
	if err := s.discardAllLocked(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("discarding previous batch: %w", err)
	}

	now := s.timeSource.Now()
	batch := &Batch{
		ID:        s.idGenerator.Generate(),
		State:     StateRunning,
		Progress:  extraction.Progress{Total: len(docs)},
		Records:   []extraction.Record{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveBatch(batch); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("saving batch: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[batch.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	slog.Info("Batch started", "batch", batch.ID, "documents", len(docs))
	go func() {
		defer s.wg.Done()
		defer cancel()
		rs := s.runner.Run(ctx, docs, func(p extraction.Progress) {
			s.updateProgress(batch.ID, p)
		})
		s.finish(batch.ID, rs, ctx.Err() != nil)
	}()

	return batch, nil
}

func (s *Service) updateProgress(id string, p extraction.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.db.GetBatch(id)
	if err != nil {
		// discarded while running
		return
	}
	batch.Progress = p
	batch.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBatch(batch); err != nil {
		slog.Warn("Failed to save batch progress", "batch", id, "error", err)
	}
}

func (s *Service) finish(id string, rs *extraction.ResultSet, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)

	batch, err := s.db.GetBatch(id)
	if err != nil {
		slog.Info("Dropping results of discarded batch", "batch", id)
		return
	}

	batch.Records = rs.InSubmissionOrder()
	batch.State = StateDone
	if cancelled {
		batch.State = StateCancelled
	}
	batch.UpdatedAt = s.timeSource.Now()
	batch.summarize()
	if err := s.db.SaveBatch(batch); err != nil {
		slog.Error("Failed to save batch results", "batch", id, "error", err)
		return
	}
	slog.Info("Batch ready for review", "batch", id, "records", len(batch.Records), "failed", batch.Failed)
}

// discardAllLocked cancels and removes every stored batch. s.mu must be held.
func (s *Service) discardAllLocked() error {
	batches, err := s.db.ListBatches()
	if err != nil {
		return err
	}
	for _, b := range batches {
		if cancel, ok := s.cancels[b.ID]; ok {
			cancel()
			delete(s.cancels, b.ID)
		}
		if err := s.db.DeleteBatch(b.ID); err != nil && !errors.Is(err, ErrBatchNotFound) {
			return err
		}
	}
	return nil
}

// GetBatch retrieves a batch by ID
func (s *Service) GetBatch(id string) (*Batch, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return batch, nil
}

// DeleteBatch cancels a running batch and discards it
func (s *Service) DeleteBatch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	if err := s.db.DeleteBatch(id); err != nil {
		return fmt.Errorf("deleting batch: %w", err)
	}
	return nil
}

// UpdateRecord applies a review edit to the record with the given index
func (s *Service) UpdateRecord(id string, index int, edit RecordEdit) (*extraction.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	if batch.State == StateRunning {
		return nil, ErrBatchRunning
	}

	pos := -1
	for i := range batch.Records {
		if batch.Records[i].Index == index {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, index)
	}

	updated := batch.Records[pos]
	if err := applyEdit(&updated, edit); err != nil {
		return nil, err
	}
	batch.Records[pos] = updated
	batch.UpdatedAt = s.timeSource.Now()
	batch.summarize()

	if err := s.db.SaveBatch(batch); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return &updated, nil
}

func applyEdit(r *extraction.Record, edit RecordEdit) error {
	if edit.Date != nil {
		if strings.TrimSpace(*edit.Date) == "" {
			r.Date = nil
		} else {
			d := extraction.ParseDate(*edit.Date)
			if d == nil {
				return fmt.Errorf("%w: unrecognized date %q", ErrInvalidEdit, *edit.Date)
			}
			r.Date = d
		}
	}
	for _, amount := range []*float64{edit.Amount, edit.Net, edit.Tax} {
		if amount != nil && *amount < 0 {
			return fmt.Errorf("%w: amounts must not be negative", ErrInvalidEdit)
		}
	}
	if edit.Status != nil {
		switch st := extraction.Status(*edit.Status); st {
		case extraction.StatusQuote, extraction.StatusSettled, extraction.StatusOpen:
			r.Status = st
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidEdit, *edit.Status)
		}
	}

	setText(&r.InvoiceNumber, edit.InvoiceNumber)
	setText(&r.Vendor, edit.Vendor)
	setText(&r.Category, edit.Category)
	setText(&r.Description, edit.Description)
	setText(&r.VATRate, edit.VATRate)
	setText(&r.IBAN, edit.IBAN)
	setText(&r.PaymentStatus, edit.PaymentStatus)
	if edit.Amount != nil {
		r.Amount = *edit.Amount
	}
	if edit.Net != nil {
		r.Net = *edit.Net
	}
	if edit.Tax != nil {
		r.Tax = *edit.Tax
	}
	if edit.Failed != nil {
		r.Failed = *edit.Failed
		if !r.Failed {
			r.Error = ""
		}
	}
	return nil
}

func setText(field *string, value *string) {
	if value != nil {
		*field = extraction.CleanText(*value)
	}
}

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Export writes the records of a finished batch in the requested format
func (s *Service) Export(id string, format Format, w io.Writer) error {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return fmt.Errorf("getting batch: %w", err)
	}
	if batch.State == StateRunning {
		return ErrBatchRunning
	}

	switch format {
	case FormatCSV:
		return export.WriteCSV(w, batch.Records, true)
	case FormatXLSX:
		return export.WriteXLSX(w, batch.Records)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// Wait blocks until all background batches have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running batches and waits for in-flight calls to drain
func (s *Service) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
