package pattern

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// patternNamespace seeds the name-based pattern IDs.
var patternNamespace = uuid.MustParse("6f1c1f9e-8a53-4c86-9d0e-3c4a0b1d2e7f")

const lockStripes = 64

// Learner tracks patterns in a table of the memory cache's store.
//
// Observations of the same key are serialised within the process. Two
// processes observing a new key at the same moment both try to insert the
// same ID; the loser retries as a reinforcement, so no duplicate rows are
// created. Concurrent reinforcements from different processes may still lose
// an increment.
type Learner struct {
	store    storage.TableStore
	embedder *embedder.CachedProvider
	curve    *intelligence.ForgettingCurve
	opts     *options
	logger   *zap.Logger
	metrics  *metrics.Collector
	timeout  time.Duration

	locks [lockStripes]sync.Mutex
}

// Option configures a Learner.
type Option func(*options)

type options struct {
	table             string
	initialConfidence float64
	step              float64
	matchThreshold    float64
	weight            float64
	curve             *intelligence.ForgettingCurve
	now               func() time.Time
}

// WithTable sets the pattern table. Defaults to life_ceo_patterns.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithStep sets the confidence gained per repeated observation.
func WithStep(step float64) Option {
	return func(o *options) { o.step = step }
}

// WithMatchThreshold sets the confidence a pattern needs to bias a score.
func WithMatchThreshold(threshold float64) Option {
	return func(o *options) { o.matchThreshold = threshold }
}

// WithWeight sets the multiplier applied to matching confidences in Score.
func WithWeight(weight float64) Option {
	return func(o *options) { o.weight = weight }
}

// WithForgettingCurve sets the decay applied to confidence at read time.
func WithForgettingCurve(curve *intelligence.ForgettingCurve) Option {
	return func(o *options) { o.curve = curve }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewLearner creates a learner sharing the client's store and embedder. The
// pattern table is registered with the client so ForgetAll covers it.
func NewLearner(client *core.Client, opts ...Option) (*Learner, error) {
	if client == nil {
		return nil, core.NewMemoryError("NewLearner", fmt.Errorf("%w: memory client is required", core.ErrInvalidConfig))
	}

	o := &options{
		table:             DefaultTable,
		initialConfidence: DefaultInitialConfidence,
		step:              DefaultStep,
		matchThreshold:    DefaultMatchThreshold,
		weight:            DefaultWeight,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.curve == nil {
		o.curve = intelligence.NewForgettingCurve(intelligence.DefaultDecayRate)
	}
	if o.step <= 0 || o.step > 1 {
		return nil, core.NewMemoryError("NewLearner", fmt.Errorf("%w: step must lie in (0, 1]", core.ErrInvalidConfig))
	}
	if err := client.RegisterTable(o.table); err != nil {
		return nil, core.NewMemoryError("NewLearner", fmt.Errorf("%w: %w", core.ErrInvalidConfig, err))
	}

	return &Learner{
		store:    client.TableStore(),
		embedder: client.Embedder(),
		curve:    o.curve,
		opts:     o,
		logger:   client.Logger().With(zap.String("component", "pattern")),
		metrics:  client.Metrics(),
		timeout:  client.StorageTimeout(),
	}, nil
}

// Table returns the pattern table name.
func (l *Learner) Table() string {
	return l.opts.table
}

// Observe records one observation of text for the owner in the domain.
//
// The first observation creates the pattern with frequency 1 and confidence
// 0.5. Each further observation adds one to the frequency and the step to the
// confidence, capped at 1.0, and refreshes LastSeen.
//
// Returns the pattern after the observation.
func (l *Learner) Observe(ctx context.Context, ownerID, domainID, text string) (*Pattern, error) {
	const op = "Observe"
	text = strings.TrimSpace(text)
	if ownerID == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if text == "" {
		return nil, invalidInput(op, "pattern text is empty")
	}

	id := PatternID(ownerID, domainID, text)
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.opts.now().UTC()
	existing, err := l.store.Get(sctx, l.opts.table, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p, insertErr := l.create(sctx, id, ownerID, domainID, text, now)
		if insertErr == nil {
			return p, nil
		}
		// Another process may have created the key first.
		existing, err = l.store.Get(sctx, l.opts.table, id)
		if err != nil {
			l.metrics.RecordStorageError("pattern_insert")
			return nil, storageUnavailable(op, insertErr)
		}
	case err != nil:
		l.metrics.RecordStorageError("pattern_get")
		return nil, storageUnavailable(op, err)
	}

	return l.reinforce(sctx, existing, now)
}

func (l *Learner) create(ctx context.Context, id, ownerID, domainID, text string, now time.Time) (*Pattern, error) {
	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	p := &Pattern{
		ID:         id,
		OwnerID:    ownerID,
		DomainID:   domainID,
		Text:       text,
		Frequency:  1,
		Confidence: l.opts.initialConfidence,
		FirstSeen:  now,
		LastSeen:   now,
	}
	if err := l.store.Insert(ctx, l.opts.table, toRecord(p, vector)); err != nil {
		return nil, err
	}

	l.metrics.RecordPatternObservation(domainID, "new")
	l.logger.Debug("pattern created",
		zap.String("owner_id", ownerID),
		zap.String("domain_id", domainID),
		zap.String("text", text))
	return p, nil
}

func (l *Learner) reinforce(ctx context.Context, r *storage.Record, now time.Time) (*Pattern, error) {
	p := fromRecord(r)
	p.Frequency++
	p.Confidence = math.Min(1.0, p.Confidence+l.opts.step)
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}

	if err := l.store.Update(ctx, l.opts.table, toRecord(p, r.Embedding)); err != nil {
		l.metrics.RecordStorageError("pattern_update")
		return nil, storageUnavailable("Observe", err)
	}

	l.metrics.RecordPatternObservation(p.DomainID, "reinforced")
	return p, nil
}

// Get returns a pattern by key.
//
// Returns an error wrapping core.ErrNotFound if the pattern was never observed.
func (l *Learner) Get(ctx context.Context, ownerID, domainID, text string) (*Pattern, error) {
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	r, err := l.store.Get(sctx, l.opts.table, PatternID(ownerID, domainID, strings.TrimSpace(text)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NewMemoryError("GetPattern", core.ErrNotFound)
	}
	if err != nil {
		return nil, storageUnavailable("GetPattern", err)
	}
	return fromRecord(r), nil
}

// GetPatterns returns every pattern of the owner in the domain ordered by
// stored confidence descending, then frequency descending.
//
// A storage failure degrades to an empty result and is logged.
func (l *Learner) GetPatterns(ctx context.Context, ownerID, domainID string) ([]*Pattern, error) {
	if ownerID == "" {
		return nil, invalidInput("GetPatterns", "owner id is required")
	}

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	records, err := l.store.Scan(sctx, l.opts.table, &storage.ScanOptions{
		Filter: &storage.Filter{OwnerID: ownerID, DomainID: domainID},
	})
	if err != nil {
		l.metrics.RecordStorageError("pattern_scan")
		l.logger.Warn("pattern scan failed, returning no patterns",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return []*Pattern{}, nil
	}

	patterns := make([]*Pattern, 0, len(records))
	for _, r := range records {
		if r.OwnerID != ownerID || r.DomainID != domainID {
			continue
		}
		patterns = append(patterns, fromRecord(r))
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].Text < patterns[j].Text
	})
	return patterns, nil
}

// EffectiveConfidence returns the pattern's confidence after decay for the
// time since it was last seen.
func (l *Learner) EffectiveConfidence(p *Pattern, now time.Time) float64 {
	return l.curve.Decay(p.Confidence, p.LastSeen, now)
}

// Score returns base plus the sum of effective confidence times the weight
// over the owner's patterns whose text occurs in input (case-insensitive)
// and whose effective confidence exceeds the match threshold.
func (l *Learner) Score(ctx context.Context, ownerID, domainID, input string, base float64) (float64, error) {
	patterns, err := l.GetPatterns(ctx, ownerID, domainID)
	if err != nil {
		return base, err
	}
	score, _ := l.score(patterns, input, base, l.opts.now())
	return score, nil
}

func (l *Learner) score(patterns []*Pattern, input string, base float64, now time.Time) (float64, []string) {
	lowered := strings.ToLower(input)
	score := base
	var matched []string
	for _, p := range patterns {
		conf := l.EffectiveConfidence(p, now)
		if conf <= l.opts.matchThreshold {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(p.Text)) {
			score += conf * l.opts.weight
			matched = append(matched, p.Text)
		}
	}
	return score, matched
}

// Rank scores each candidate against the owner's patterns and returns them
// ordered by score descending. Ties keep the input order.
func (l *Learner) Rank(ctx context.Context, ownerID, domainID string, candidates []Candidate) ([]*Ranked, error) {
	patterns, err := l.GetPatterns(ctx, ownerID, domainID)
	if err != nil {
		return nil, err
	}

	now := l.opts.now()
	ranked := make([]*Ranked, len(candidates))
	for i, c := range candidates {
		score, matched := l.score(patterns, c.Text, c.BaseScore, now)
		ranked[i] = &Ranked{Candidate: c, Score: score, Matched: matched}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// SimilarPatterns returns the owner's patterns closest to text by embedding,
// most similar first. Patterns below minSimilarity are dropped.
func (l *Learner) SimilarPatterns(ctx context.Context, ownerID, domainID, text string, limit int, minSimilarity float64) ([]*Match, error) {
	const op = "SimilarPatterns"
	if ownerID == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalidInput(op, "text is empty")
	}
	if limit <= 0 {
		limit = core.DefaultLimit
	}

	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, core.NewMemoryError(op, err)
	}

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	records, err := l.store.Search(sctx, l.opts.table, vector, &storage.SearchOptions{
		Filter: &storage.Filter{OwnerID: ownerID, DomainID: domainID},
		Limit:  limit,
	})
	if err != nil {
		l.metrics.RecordStorageError("pattern_search")
		l.logger.Warn("pattern search failed, returning no matches", zap.Error(err))
		return []*Match{}, nil
	}

	matches := make([]*Match, 0, len(records))
	for _, r := range records {
		if r.OwnerID != ownerID || r.Score < minSimilarity {
			continue
		}
		matches = append(matches, &Match{Pattern: fromRecord(r), Similarity: r.Score})
	}
	return matches, nil
}

// Prune deletes the owner's patterns not seen within olderThan.
//
// Returns the number of patterns deleted.
func (l *Learner) Prune(ctx context.Context, ownerID string, olderThan time.Duration) (int64, error) {
	const op = "Prune"
	if ownerID == "" {
		return 0, invalidInput(op, "owner id is required")
	}
	if olderThan <= 0 {
		return 0, invalidInput(op, "retention must be positive")
	}

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cutoff := l.opts.now().Add(-olderThan).UTC()
	n, err := l.store.Delete(sctx, l.opts.table, &storage.Filter{
		OwnerID:       ownerID,
		UpdatedBefore: cutoff,
	})
	if err != nil {
		l.metrics.RecordStorageError("pattern_prune")
		return 0, storageUnavailable(op, err)
	}

	l.metrics.RecordCleanup(l.opts.table, "stale_pattern", n)
	if n > 0 {
		l.logger.Info("stale patterns pruned", zap.String("owner_id", ownerID), zap.Int64("deleted", n))
	}
	return n, nil
}

func (l *Learner) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &l.locks[h.Sum32()%lockStripes]
}

// PatternID returns the stable ID of the (owner, domain, text) key.
func PatternID(ownerID, domainID, text string) string {
	return uuid.NewSHA1(patternNamespace, []byte(ownerID+"\x00"+domainID+"\x00"+text)).String()
}

func invalidInput(op, format string, args ...interface{}) error {
	return core.NewMemoryError(op, fmt.Errorf("%w: %s", core.ErrInvalidInput, fmt.Sprintf(format, args...)))
}

func storageUnavailable(op string, err error) error {
	return core.NewMemoryError(op, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err))
}
