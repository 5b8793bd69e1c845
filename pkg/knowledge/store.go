package knowledge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

const lockStripes = 64

// Store keeps learned patterns in a table of the memory cache's store.
//
// Example usage:
//
//	ks, _ := knowledge.NewStore(client)
//	result, _ := ks.RecordOutcome(ctx, knowledge.TaskOutcome{
//	    AgentID:  "agent-1",
//	    TaskType: "bug_fix",
//	    Context:  "Nil map write in the session cache",
//	    Solution: "Initialise the map in the constructor",
//	    Outcome:  knowledge.OutcomeSuccess,
//	})
type Store struct {
	store     storage.TableStore
	embedder  *embedder.CachedProvider
	extractor Extractor
	opts      *options
	logger    *zap.Logger
	metrics   *metrics.Collector
	timeout   time.Duration

	// nameLocks serialise writes per pattern name, idLocks per pattern ID.
	nameLocks [lockStripes]sync.Mutex
	idLocks   [lockStripes]sync.Mutex
}

// Option configures a Store.
type Option func(*options)

type options struct {
	table         string
	minConfidence float64
	extractor     Extractor
	now           func() time.Time
}

// WithTable sets the knowledge table. Defaults to learned_patterns_vectors.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithMinConfidence sets the extraction confidence required to save.
func WithMinConfidence(min float64) Option {
	return func(o *options) { o.minConfidence = min }
}

// WithExtractor sets the extractor. Defaults to an LLMExtractor over the
// client's LLM, or no extractor when the client has none.
func WithExtractor(e Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewStore creates a knowledge store sharing the client's table store and
// embedder. The knowledge table is registered with the client so ForgetAll
// with an agent ID covers it.
func NewStore(client *core.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, core.NewMemoryError("NewStore", fmt.Errorf("%w: memory client is required", core.ErrInvalidConfig))
	}

	o := &options{
		table:         DefaultTable,
		minConfidence: DefaultMinConfidence,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.minConfidence < 0 || o.minConfidence > 1 {
		return nil, core.NewMemoryError("NewStore", fmt.Errorf("%w: min confidence must lie in [0, 1]", core.ErrInvalidConfig))
	}
	if err := client.RegisterTable(o.table); err != nil {
		return nil, core.NewMemoryError("NewStore", fmt.Errorf("%w: %w", core.ErrInvalidConfig, err))
	}

	extractor := o.extractor
	if extractor == nil && client.LLM() != nil {
		extractor = NewLLMExtractor(client.LLM())
	}

	return &Store{
		store:     client.TableStore(),
		embedder:  client.Embedder(),
		extractor: extractor,
		opts:      o,
		logger:    client.Logger().With(zap.String("component", "knowledge")),
		metrics:   client.Metrics(),
		timeout:   client.StorageTimeout(),
	}, nil
}

// Table returns the knowledge table name.
func (s *Store) Table() string {
	return s.opts.table
}

// RecordOutcome learns from a completed task.
//
// Failed outcomes are not learned from. An extractor failure falls back to
// GenericExtraction. Extractions below the minimum confidence are discarded
// and reported as not saved, which is not an error. When a pattern with the
// same name exists it is reused: TimesApplied grows by one, LastUsed is
// refreshed and its ID is returned.
func (s *Store) RecordOutcome(ctx context.Context, outcome TaskOutcome) (*SaveResult, error) {
	const op = "RecordOutcome"
	switch {
	case outcome.AgentID == "":
		return nil, invalidInput(op, "agent id is required")
	case strings.TrimSpace(outcome.Context) == "" && strings.TrimSpace(outcome.Solution) == "":
		return nil, invalidInput(op, "outcome has no context or solution")
	case outcome.Outcome != OutcomeSuccess && outcome.Outcome != OutcomeFailure:
		return nil, invalidInput(op, "unknown outcome %q", outcome.Outcome)
	}

	if outcome.Outcome == OutcomeFailure {
		s.metrics.RecordKnowledgeOutcome("skipped_failure")
		return &SaveResult{Reason: ReasonFailedOutcome}, nil
	}

	extraction := s.extract(ctx, outcome)
	if extraction.Confidence < s.opts.minConfidence {
		s.metrics.RecordKnowledgeOutcome("low_confidence")
		s.logger.Debug("pattern discarded",
			zap.String("pattern_name", extraction.PatternName),
			zap.Float64("confidence", extraction.Confidence))
		return &SaveResult{Reason: ReasonLowConfidence, Extraction: extraction}, nil
	}

	mu := lockFor(&s.nameLocks, extraction.PatternName)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.findByName(sctx, extraction.PatternName)
	if err != nil {
		s.metrics.RecordKnowledgeOutcome("error")
		return nil, storageUnavailable(op, err)
	}
	if existing != nil {
		reused, err := s.reuse(sctx, existing.ID)
		if err != nil {
			s.metrics.RecordKnowledgeOutcome("error")
			return nil, storageUnavailable(op, err)
		}
		if reused {
			s.metrics.RecordKnowledgeOutcome("reused")
			return &SaveResult{Saved: true, Reused: true, PatternID: existing.ID, Extraction: extraction}, nil
		}
	}

	now := s.opts.now().UTC()
	p := &LearnedPattern{
		ID:               uuid.NewString(),
		AgentID:          outcome.AgentID,
		TaskType:         outcome.TaskType,
		PatternName:      extraction.PatternName,
		Category:         extraction.Category,
		ProblemSignature: extraction.ProblemSignature,
		SolutionTemplate: extraction.SolutionTemplate,
		Confidence:       extraction.Confidence,
		TimesApplied:     1,
		SuccessRate:      1.0,
		IsActive:         true,
		CreatedAt:        now,
		LastUsed:         now,
	}

	vector, err := s.embedder.Embed(sctx, searchText(p))
	if err != nil {
		return nil, core.NewMemoryError(op, err)
	}
	if err := s.store.Insert(sctx, s.opts.table, toRecord(p, vector)); err != nil {
		s.metrics.RecordStorageError("knowledge_insert")
		s.metrics.RecordKnowledgeOutcome("error")
		return nil, storageUnavailable(op, err)
	}

	s.metrics.RecordKnowledgeOutcome("saved")
	s.logger.Info("pattern learned",
		zap.String("id", p.ID),
		zap.String("pattern_name", p.PatternName),
		zap.String("category", string(p.Category)),
		zap.Float64("confidence", p.Confidence))
	return &SaveResult{Saved: true, PatternID: p.ID, Extraction: extraction}, nil
}

func (s *Store) extract(ctx context.Context, outcome TaskOutcome) *Extraction {
	if s.extractor == nil {
		return GenericExtraction(outcome)
	}
	extraction, err := s.extractor.Extract(ctx, outcome)
	if err != nil {
		s.logger.Warn("pattern extraction failed, using generic pattern",
			zap.String("agent_id", outcome.AgentID),
			zap.Error(err))
		return GenericExtraction(outcome)
	}
	return extraction
}

func (s *Store) findByName(ctx context.Context, name string) (*storage.Record, error) {
	records, err := s.store.Scan(ctx, s.opts.table, &storage.ScanOptions{
		Filter:      &storage.Filter{Metadata: map[string]interface{}{metaPatternName: name}},
		Limit:       1,
		OldestFirst: true,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// reuse bumps an existing pattern. The row is re-read under its ID lock so
// a concurrent RecordUsage or Deactivate is not overwritten. Returns false
// if the row disappeared since it was found.
func (s *Store) reuse(ctx context.Context, id string) (bool, error) {
	mu := lockFor(&s.idLocks, id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, s.opts.table, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p := fromRecord(r)
	p.TimesApplied++
	p.LastUsed = s.opts.now().UTC()
	if err := s.store.Update(ctx, s.opts.table, toRecord(p, r.Embedding)); err != nil {
		return false, err
	}
	return true, nil
}

// FindSimilar returns active patterns closest to taskDescription, most
// similar first. An empty category matches every category.
//
// A storage failure degrades to an empty result and is logged.
func (s *Store) FindSimilar(ctx context.Context, taskDescription string, category Category, limit int) ([]*SimilarPattern, error) {
	const op = "FindSimilar"
	if strings.TrimSpace(taskDescription) == "" {
		return nil, invalidInput(op, "task description is empty")
	}
	if category != "" && !category.IsValid() {
		return nil, invalidInput(op, "unknown category %q", category)
	}
	if limit <= 0 {
		limit = core.DefaultLimit
	}

	vector, err := s.embedder.Embed(ctx, taskDescription)
	if err != nil {
		return nil, core.NewMemoryError(op, err)
	}

	filter := &storage.Filter{Metadata: map[string]interface{}{metaIsActive: true}}
	if category != "" {
		filter.Metadata[metaCategory] = string(category)
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.store.Search(sctx, s.opts.table, vector, &storage.SearchOptions{
		Filter: filter,
		Limit:  limit,
	})
	if err != nil {
		s.metrics.RecordStorageError("knowledge_search")
		s.logger.Warn("pattern search failed, returning no patterns", zap.Error(err))
		return []*SimilarPattern{}, nil
	}

	results := make([]*SimilarPattern, 0, len(records))
	for _, r := range records {
		p := fromRecord(r)
		if !p.IsActive || (category != "" && p.Category != category) {
			continue
		}
		results = append(results, &SimilarPattern{Pattern: p, Similarity: r.Score})
	}
	return results, nil
}

// RecordUsage records one more application of a pattern.
//
// The success rate is recomputed from a success count approximated by
// rounding the stored rate:
//
//	rate = (round(rate × timesApplied) + success) / (timesApplied + 1)
//
// after which TimesApplied is incremented. Returns the updated pattern, or an
// error wrapping core.ErrNotFound.
func (s *Store) RecordUsage(ctx context.Context, patternID string, wasSuccessful bool) (*LearnedPattern, error) {
	const op = "RecordUsage"
	if patternID == "" {
		return nil, invalidInput(op, "pattern id is required")
	}

	mu := lockFor(&s.idLocks, patternID)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.get(sctx, op, patternID)
	if err != nil {
		return nil, err
	}

	p := fromRecord(r)
	p.SuccessRate = NextSuccessRate(p.SuccessRate, p.TimesApplied, wasSuccessful)
	p.TimesApplied++
	p.LastUsed = s.opts.now().UTC()

	if err := s.store.Update(sctx, s.opts.table, toRecord(p, r.Embedding)); err != nil {
		s.metrics.RecordStorageError("knowledge_update")
		return nil, storageUnavailable(op, err)
	}
	return p, nil
}

// NextSuccessRate applies one usage to a success rate observed over
// timesApplied uses.
func NextSuccessRate(rate float64, timesApplied int, wasSuccessful bool) float64 {
	if timesApplied < 0 {
		timesApplied = 0
	}
	successes := math.Round(rate * float64(timesApplied))
	if wasSuccessful {
		successes++
	}
	return clamp01(successes / float64(timesApplied+1))
}

// Get returns a pattern by ID, or an error wrapping core.ErrNotFound.
func (s *Store) Get(ctx context.Context, patternID string) (*LearnedPattern, error) {
	const op = "GetPattern"
	if patternID == "" {
		return nil, invalidInput(op, "pattern id is required")
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.get(sctx, op, patternID)
	if err != nil {
		return nil, err
	}
	return fromRecord(r), nil
}

// Deactivate excludes a pattern from FindSimilar. The row is kept.
func (s *Store) Deactivate(ctx context.Context, patternID string) error {
	const op = "Deactivate"
	if patternID == "" {
		return invalidInput(op, "pattern id is required")
	}

	mu := lockFor(&s.idLocks, patternID)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.get(sctx, op, patternID)
	if err != nil {
		return err
	}

	p := fromRecord(r)
	if !p.IsActive {
		return nil
	}
	p.IsActive = false
	if err := s.store.Update(sctx, s.opts.table, toRecord(p, r.Embedding)); err != nil {
		s.metrics.RecordStorageError("knowledge_update")
		return storageUnavailable(op, err)
	}

	s.logger.Info("pattern deactivated", zap.String("id", patternID))
	return nil
}

func (s *Store) get(ctx context.Context, op, patternID string) (*storage.Record, error) {
	r, err := s.store.Get(ctx, s.opts.table, patternID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NewMemoryError(op, core.ErrNotFound)
	}
	if err != nil {
		s.metrics.RecordStorageError("knowledge_get")
		return nil, storageUnavailable(op, err)
	}
	return r, nil
}

func lockFor(locks *[lockStripes]sync.Mutex, key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &locks[h.Sum32()%lockStripes]
}

func invalidInput(op, format string, args ...interface{}) error {
	return core.NewMemoryError(op, fmt.Errorf("%w: %s", core.ErrInvalidInput, fmt.Sprintf(format, args...)))
}

func storageUnavailable(op string, err error) error {
	return core.NewMemoryError(op, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err))
}
