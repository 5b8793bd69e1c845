package knowledge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/testutil"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/knowledge"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(knowledge.TaskOutcome) (*knowledge.Extraction, error)
}

func (s *stubExtractor) Extract(_ context.Context, outcome knowledge.TaskOutcome) (*knowledge.Extraction, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(outcome)
}

func fixedExtraction(name string, category knowledge.Category, confidence float64) *stubExtractor {
	return &stubExtractor{fn: func(o knowledge.TaskOutcome) (*knowledge.Extraction, error) {
		return &knowledge.Extraction{
			PatternName:      name,
			Category:         category,
			ProblemSignature: o.Context,
			SolutionTemplate: o.Solution,
			Confidence:       confidence,
		}, nil
	}}
}

func setupStore(t testing.TB, opts ...knowledge.Option) (*knowledge.Store, *core.Client) {
	t.Helper()
	client, err := core.New(testutil.NewSQLiteStore(t), testutil.NewEmbedder(), core.WithAutoCleanup(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ks, err := knowledge.NewStore(client, opts...)
	require.NoError(t, err)
	return ks, client
}

var retryOutcome = knowledge.TaskOutcome{
	AgentID:  "agent-1",
	TaskType: "bug_fix",
	Context:  "Flaky upstream timeouts when calling the payments API",
	Solution: "Retry with exponential backoff and jitter",
	Outcome:  knowledge.OutcomeSuccess,
}

func TestRecordOutcome_SavesPattern(t *testing.T) {
	ks, _ := setupStore(t, knowledge.WithExtractor(fixedExtraction("Retry with backoff", knowledge.CategoryErrorHandling, 0.85)))
	ctx := context.Background()

	result, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)
	assert.True(t, result.Saved)
	assert.False(t, result.Reused)
	require.NotEmpty(t, result.PatternID)

	p, err := ks.Get(ctx, result.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.AgentID)
	assert.Equal(t, "bug_fix", p.TaskType)
	assert.Equal(t, "Retry with backoff", p.PatternName)
	assert.Equal(t, knowledge.CategoryErrorHandling, p.Category)
	assert.InDelta(t, 0.85, p.Confidence, 1e-9)
	assert.Equal(t, 1, p.TimesApplied)
	assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)
	assert.True(t, p.IsActive)
}

func TestRecordOutcome_DedupByName(t *testing.T) {
	ks, client := setupStore(t, knowledge.WithExtractor(fixedExtraction("Retry with backoff", knowledge.CategoryErrorHandling, 0.9)))
	ctx := context.Background()

	first, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)

	again := retryOutcome
	again.Context = "Timeouts talking to the shipping provider"
	second, err := ks.RecordOutcome(ctx, again)
	require.NoError(t, err)
	assert.True(t, second.Saved)
	assert.True(t, second.Reused)
	assert.Equal(t, first.PatternID, second.PatternID)

	n, err := client.TableStore().Count(ctx, ks.Table(), &storage.Filter{OwnerID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := ks.Get(ctx, first.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TimesApplied)
}

func TestRecordOutcome_FailureNotLearned(t *testing.T) {
	extractor := fixedExtraction("never", knowledge.CategoryTesting, 0.9)
	ks, client := setupStore(t, knowledge.WithExtractor(extractor))

	failed := retryOutcome
	failed.Outcome = knowledge.OutcomeFailure
	result, err := ks.RecordOutcome(context.Background(), failed)
	require.NoError(t, err)
	assert.False(t, result.Saved)
	assert.Equal(t, knowledge.ReasonFailedOutcome, result.Reason)
	assert.Zero(t, extractor.calls)

	exists, err := client.TableStore().TableExists(context.Background(), ks.Table())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordOutcome_LowConfidenceDiscarded(t *testing.T) {
	ks, _ := setupStore(t, knowledge.WithExtractor(fixedExtraction("Weak idea", knowledge.CategoryTesting, 0.59)))

	result, err := ks.RecordOutcome(context.Background(), retryOutcome)
	require.NoError(t, err)
	assert.False(t, result.Saved)
	assert.Equal(t, knowledge.ReasonLowConfidence, result.Reason)
	assert.Empty(t, result.PatternID)
}

func TestRecordOutcome_ExtractorFailureFallsBack(t *testing.T) {
	extractor := &stubExtractor{fn: func(knowledge.TaskOutcome) (*knowledge.Extraction, error) {
		return nil, errors.New("llm unavailable")
	}}
	ks, _ := setupStore(t, knowledge.WithExtractor(extractor))

	result, err := ks.RecordOutcome(context.Background(), retryOutcome)
	require.NoError(t, err)
	require.NotNil(t, result.Extraction)
	assert.InDelta(t, knowledge.GenericPatternConfidence, result.Extraction.Confidence, 1e-9)
	assert.Equal(t, knowledge.CategoryErrorHandling, result.Extraction.Category)
	// The generic pattern is below the default threshold.
	assert.False(t, result.Saved)

	// With a lower threshold the generic pattern is kept.
	lenient, _ := setupStore(t, knowledge.WithExtractor(extractor), knowledge.WithMinConfidence(0.5))
	result, err = lenient.RecordOutcome(context.Background(), retryOutcome)
	require.NoError(t, err)
	assert.True(t, result.Saved)
}

func TestRecordOutcome_LLMExtractor(t *testing.T) {
	fake := testutil.NewFakeLLM(`Here you go: {"pattern_name": "Idempotent webhook handler", "category": "Integration", ` +
		`"problem_signature": "Duplicate webhook deliveries", "solution_template": "Store delivery IDs and skip repeats", "confidence": 0.8}`)
	client, err := core.New(testutil.NewSQLiteStore(t), testutil.NewEmbedder(),
		core.WithLLM(fake), core.WithAutoCleanup(false))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ks, err := knowledge.NewStore(client)
	require.NoError(t, err)

	result, err := ks.RecordOutcome(context.Background(), knowledge.TaskOutcome{
		AgentID:  "agent-2",
		TaskType: "integration",
		Context:  "Stripe retries webhooks",
		Solution: "Deduplicate by event ID",
		Outcome:  knowledge.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.True(t, result.Saved)

	p, err := ks.Get(context.Background(), result.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "Idempotent webhook handler", p.PatternName)
	assert.Equal(t, knowledge.CategoryIntegration, p.Category)
	assert.Len(t, fake.Calls(), 1)
}

func TestRecordOutcome_Validation(t *testing.T) {
	ks, _ := setupStore(t)
	ctx := context.Background()

	_, err := ks.RecordOutcome(ctx, knowledge.TaskOutcome{Context: "x", Outcome: knowledge.OutcomeSuccess})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = ks.RecordOutcome(ctx, knowledge.TaskOutcome{AgentID: "a", Outcome: knowledge.OutcomeSuccess})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = ks.RecordOutcome(ctx, knowledge.TaskOutcome{AgentID: "a", Context: "x", Outcome: "maybe"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestFindSimilar(t *testing.T) {
	names := map[string]knowledge.Category{
		"Retry with exponential backoff": knowledge.CategoryErrorHandling,
		"Blue green deployment":          knowledge.CategoryDeployment,
		"Table driven tests":             knowledge.CategoryTesting,
	}
	extractor := &stubExtractor{fn: func(o knowledge.TaskOutcome) (*knowledge.Extraction, error) {
		return &knowledge.Extraction{
			PatternName:      o.TaskType,
			Category:         names[o.TaskType],
			ProblemSignature: o.Context,
			SolutionTemplate: o.Solution,
			Confidence:       0.9,
		}, nil
	}}
	ks, _ := setupStore(t, knowledge.WithExtractor(extractor))
	ctx := context.Background()

	ids := map[string]string{}
	for name := range names {
		result, err := ks.RecordOutcome(ctx, knowledge.TaskOutcome{
			AgentID:  "agent-1",
			TaskType: name,
			Context:  name + " problem",
			Solution: name + " solution",
			Outcome:  knowledge.OutcomeSuccess,
		})
		require.NoError(t, err)
		require.True(t, result.Saved)
		ids[name] = result.PatternID
	}

	results, err := ks.FindSimilar(ctx, "retry failed requests with backoff", "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Retry with exponential backoff", results[0].Pattern.PatternName)

	results, err = ks.FindSimilar(ctx, "retry failed requests with backoff", knowledge.CategoryTesting, 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, knowledge.CategoryTesting, r.Pattern.Category)
	}

	require.NoError(t, ks.Deactivate(ctx, ids["Retry with exponential backoff"]))
	results, err = ks.FindSimilar(ctx, "retry failed requests with backoff", "", 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "Retry with exponential backoff", r.Pattern.PatternName)
	}

	// Deactivated patterns are kept for audit.
	p, err := ks.Get(ctx, ids["Retry with exponential backoff"])
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	_, err = ks.FindSimilar(ctx, "x", "astrology", 3)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRecordUsage(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ks, _ := setupStore(t,
		knowledge.WithExtractor(fixedExtraction("Retry with backoff", knowledge.CategoryErrorHandling, 0.9)),
		knowledge.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	result, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)

	// Three more uses, two of them successful: 3 of 4.
	for _, ok := range []bool{true, false, true} {
		_, err := ks.RecordUsage(ctx, result.PatternID, ok)
		require.NoError(t, err)
	}
	p, err := ks.Get(ctx, result.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.TimesApplied)
	assert.InDelta(t, 0.75, p.SuccessRate, 1e-9)

	p, err = ks.RecordUsage(ctx, result.PatternID, true)
	require.NoError(t, err)
	assert.Equal(t, 5, p.TimesApplied)
	assert.InDelta(t, 0.8, p.SuccessRate, 1e-9)

	_, err = ks.RecordUsage(ctx, "missing", true)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNextSuccessRate(t *testing.T) {
	assert.InDelta(t, 0.8, knowledge.NextSuccessRate(0.75, 4, true), 1e-9)
	assert.InDelta(t, 0.6, knowledge.NextSuccessRate(0.75, 4, false), 1e-9)
	assert.InDelta(t, 1.0, knowledge.NextSuccessRate(0, 0, true), 1e-9)
	assert.InDelta(t, 0.0, knowledge.NextSuccessRate(0, 0, false), 1e-9)
}

func TestNextSuccessRate_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 1000).Draw(rt, "timesApplied")
		successes := rapid.IntRange(0, n).Draw(rt, "successes")
		ok := rapid.Bool().Draw(rt, "success")

		rate := 0.0
		if n > 0 {
			rate = float64(successes) / float64(n)
		}
		next := knowledge.NextSuccessRate(rate, n, ok)

		want := successes
		if ok {
			want++
		}
		assert.InDelta(rt, float64(want)/float64(n+1), next, 1e-9)
		assert.GreaterOrEqual(rt, next, 0.0)
		assert.LessOrEqual(rt, next, 1.0)
	})
}

func TestForgetAllCoversKnowledge(t *testing.T) {
	ks, client := setupStore(t, knowledge.WithExtractor(fixedExtraction("Retry with backoff", knowledge.CategoryErrorHandling, 0.9)))
	ctx := context.Background()

	_, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)

	deleted, err := client.ForgetAll(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestParseCategory(t *testing.T) {
	c, err := knowledge.ParseCategory("Error Handling")
	require.NoError(t, err)
	assert.Equal(t, knowledge.CategoryErrorHandling, c)

	c, err = knowledge.ParseCategory("code-generation")
	require.NoError(t, err)
	assert.Equal(t, knowledge.CategoryCodeGeneration, c)

	_, err = knowledge.ParseCategory("astrology")
	assert.Error(t, err)
}

// interleavingStore runs hook once, right after the next Scan returns.
type interleavingStore struct {
	storage.TableStore
	mu   sync.Mutex
	hook func()
}

func (s *interleavingStore) Scan(ctx context.Context, table string, opts *storage.ScanOptions) ([]*storage.Record, error) {
	records, err := s.TableStore.Scan(ctx, table, opts)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return records, err
}

func TestRecordOutcome_ReuseKeepsConcurrentUpdates(t *testing.T) {
	store := &interleavingStore{TableStore: testutil.NewSQLiteStore(t)}
	client, err := core.New(store, testutil.NewEmbedder(), core.WithAutoCleanup(false))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ks, err := knowledge.NewStore(client,
		knowledge.WithExtractor(fixedExtraction("Retry with backoff", knowledge.CategoryErrorHandling, 0.9)))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)
	require.True(t, first.Saved)

	// A usage report and a deactivation land between the name lookup and
	// the reuse write.
	store.mu.Lock()
	store.hook = func() {
		_, err := ks.RecordUsage(ctx, first.PatternID, false)
		require.NoError(t, err)
		require.NoError(t, ks.Deactivate(ctx, first.PatternID))
	}
	store.mu.Unlock()

	second, err := ks.RecordOutcome(ctx, retryOutcome)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.PatternID, second.PatternID)

	p, err := ks.Get(ctx, first.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.TimesApplied)
	assert.InDelta(t, 0.5, p.SuccessRate, 1e-9)
	assert.False(t, p.IsActive)

	results, err := ks.FindSimilar(ctx, "retry with backoff", "", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}
