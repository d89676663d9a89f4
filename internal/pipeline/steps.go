package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nao1215/fastcrawl/internal/database"
	"github.com/nao1215/fastcrawl/internal/model"
)

// DedupStep drops records that were already seen by this step, keyed by
// their stage and content.
type DedupStep struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupStep creates an empty deduplication step.
func NewDedupStep() *DedupStep {
	return &DedupStep{seen: make(map[string]struct{})}
}

// Name returns the step name.
func (s *DedupStep) Name() string {
	return "dedup"
}

// Do removes duplicates from the batch, including duplicates within it.
func (s *DedupStep) Do(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*model.Record, 0, len(batch.Records))
	for _, r := range batch.Records {
		payload, err := r.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		fp := database.Fingerprint(r.Stage, payload)
		if _, dup := s.seen[fp]; dup {
			continue
		}
		s.seen[fp] = struct{}{}
		kept = append(kept, r)
	}
	batch.Records = kept
	return nil
}

// Seen returns the number of distinct records seen.
func (s *DedupStep) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RecordWriter persists encoded records. *database.RecordStore implements it.
type RecordWriter interface {
	UpsertRecords(ctx context.Context, records []*database.StoredRecord) (int, error)
}

// StoreStep writes the batch to the SQLite store.
type StoreStep struct {
	store  RecordWriter
	logger *slog.Logger
}

// NewStoreStep creates a step writing to store.
func NewStoreStep(store RecordWriter, logger *slog.Logger) *StoreStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *StoreStep) Name() string {
	return "sqlite"
}

// Do upserts the records of the batch.
func (s *StoreStep) Do(ctx context.Context, batch *Batch) error {
	stored := make([]*database.StoredRecord, 0, len(batch.Records))
	for _, r := range batch.Records {
		sr, err := database.NewStoredRecord(r)
		if err != nil {
			return err
		}
		stored = append(stored, sr)
	}
	n, err := s.store.UpsertRecords(ctx, stored)
	if err != nil {
		return err
	}
	s.logger.Debug("records stored", "new", n, "total", len(stored))
	return nil
}

// DocumentWriter persists records as documents. *database.MongoStore implements it.
type DocumentWriter interface {
	UpsertRecords(ctx context.Context, records []*model.Record) (int, error)
}

// MongoStep writes the batch to MongoDB.
type MongoStep struct {
	store  DocumentWriter
	logger *slog.Logger
}

// NewMongoStep creates a step writing to store.
func NewMongoStep(store DocumentWriter, logger *slog.Logger) *MongoStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *MongoStep) Name() string {
	return "mongo"
}

// Do upserts the records of the batch.
func (s *MongoStep) Do(ctx context.Context, batch *Batch) error {
	n, err := s.store.UpsertRecords(ctx, batch.Records)
	if err != nil {
		return err
	}
	s.logger.Debug("records written to MongoDB", "new", n, "total", len(batch.Records))
	return nil
}

// JSONLinesStep writes every record as one JSON object per line. Field
// order follows the schema.
type JSONLinesStep struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesStep creates a step writing to w.
func NewJSONLinesStep(w io.Writer) *JSONLinesStep {
	return &JSONLinesStep{w: w}
}

// Name returns the step name.
func (s *JSONLinesStep) Name() string {
	return "jsonl"
}

// Do appends the batch to the writer.
func (s *JSONLinesStep) Do(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriter(s.w)
	for _, r := range batch.Records {
		line, err := jsonLine(r)
		if err != nil {
			return err
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return bw.Flush()
}

// jsonLine wraps a record with its stage and address.
func jsonLine(r *model.Record) ([]byte, error) {
	line, err := json.Marshal(struct {
		Stage  string        `json:"stage"`
		URL    string        `json:"url"`
		Record *model.Record `json:"record"`
	}{r.Stage, r.URL, r})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return append(line, '\n'), nil
}

// LogStep logs every record.
type LogStep struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogStep creates a step logging at level.
func NewLogStep(logger *slog.Logger, level slog.Level) *LogStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStep{logger: logger, level: level}
}

// Name returns the step name.
func (s *LogStep) Name() string {
	return "log"
}

// Do logs the records of the batch.
func (s *LogStep) Do(ctx context.Context, batch *Batch) error {
	for _, r := range batch.Records {
		s.logger.Log(ctx, s.level, "record",
			"stage", r.Stage,
			"url", r.URL,
			"fields", r.Len(),
		)
	}
	return nil
}
