package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
)

// Extractor turns a task outcome into a pattern description.
type Extractor interface {
	Extract(ctx context.Context, outcome TaskOutcome) (*Extraction, error)
}

const extractionPrompt = `You extract reusable solution patterns from completed engineering tasks.

Given a task, return a JSON object with:
- "pattern_name": a short, reusable, human-readable name (e.g. "Retry with exponential backoff")
- "category": one of code_generation, error_handling, deployment, refactoring, testing, optimization, integration
- "problem_signature": one sentence describing the class of problem
- "solution_template": the reusable steps of the solution
- "confidence": a number between 0 and 1 stating how reusable the pattern is

Return JSON only.`

// LLMExtractor extracts patterns with an LLM.
type LLMExtractor struct {
	llm llm.Provider
}

// NewLLMExtractor creates an extractor backed by provider.
func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{llm: provider}
}

// Extract asks the LLM for a pattern and validates its answer. Malformed
// JSON, an empty name or an unknown category are errors.
func (e *LLMExtractor) Extract(ctx context.Context, outcome TaskOutcome) (*Extraction, error) {
	if e.llm == nil {
		return nil, errors.New("extract: no llm configured")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Task type: %s\n\nContext:\n%s\n\nSolution:\n%s",
			outcome.TaskType, outcome.Context, outcome.Solution)},
	}
	response, err := e.llm.GenerateWithMessages(ctx, messages, llm.WithTemperature(0.2), llm.WithMaxTokens(600), llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var raw struct {
		PatternName      string  `json:"pattern_name"`
		Category         string  `json:"category"`
		ProblemSignature string  `json:"problem_signature"`
		SolutionTemplate string  `json:"solution_template"`
		Confidence       float64 `json:"confidence"`
	}
	if err := llm.DecodeJSON(response, &raw); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	name := strings.TrimSpace(raw.PatternName)
	if name == "" {
		return nil, errors.New("extract: empty pattern name")
	}
	category, err := ParseCategory(raw.Category)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return &Extraction{
		PatternName:      name,
		Category:         category,
		ProblemSignature: strings.TrimSpace(raw.ProblemSignature),
		SolutionTemplate: strings.TrimSpace(raw.SolutionTemplate),
		Confidence:       clamp01(raw.Confidence),
	}, nil
}

// GenericExtraction builds the low-confidence pattern used when extraction
// fails. It is derived from the raw outcome.
func GenericExtraction(outcome TaskOutcome) *Extraction {
	taskType := strings.TrimSpace(outcome.TaskType)
	if taskType == "" {
		taskType = "task"
	}
	return &Extraction{
		PatternName:      fmt.Sprintf("%s: %s", taskType, truncateRunes(outcome.Context, 60)),
		Category:         guessCategory(taskType),
		ProblemSignature: truncateRunes(outcome.Context, 500),
		SolutionTemplate: truncateRunes(outcome.Solution, 1000),
		Confidence:       GenericPatternConfidence,
	}
}

// guessCategory maps common task type words to a category.
func guessCategory(taskType string) Category {
	t := strings.ToLower(taskType)
	switch {
	case strings.Contains(t, "test"):
		return CategoryTesting
	case strings.Contains(t, "deploy"), strings.Contains(t, "release"):
		return CategoryDeployment
	case strings.Contains(t, "refactor"):
		return CategoryRefactoring
	case strings.Contains(t, "perf"), strings.Contains(t, "optim"):
		return CategoryOptimization
	case strings.Contains(t, "bug"), strings.Contains(t, "fix"), strings.Contains(t, "error"):
		return CategoryErrorHandling
	case strings.Contains(t, "integrat"), strings.Contains(t, "api"):
		return CategoryIntegration
	default:
		return CategoryCodeGeneration
	}
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
