// Package knowledge learns reusable solution patterns from completed tasks.
//
// A successful task outcome is condensed by an Extractor into a named
// pattern. Patterns are deduplicated by name, found again by embedding
// similarity and carry a running success rate as they are reused.
package knowledge

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the knowledge store.
const (
	DefaultTable             = "learned_patterns_vectors"
	DefaultMinConfidence     = 0.6
	GenericPatternConfidence = 0.5
)

// Category classifies a learned pattern.
type Category string

const (
	CategoryCodeGeneration Category = "code_generation"
	CategoryErrorHandling  Category = "error_handling"
	CategoryDeployment     Category = "deployment"
	CategoryRefactoring    Category = "refactoring"
	CategoryTesting        Category = "testing"
	CategoryOptimization   Category = "optimization"
	CategoryIntegration    Category = "integration"
)

// Categories lists every valid Category.
var Categories = []Category{
	CategoryCodeGeneration,
	CategoryErrorHandling,
	CategoryDeployment,
	CategoryRefactoring,
	CategoryTesting,
	CategoryOptimization,
	CategoryIntegration,
}

// IsValid reports whether c is one of Categories.
func (c Category) IsValid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory normalises s ("Error Handling", "error-handling") and
// returns the matching Category.
func ParseCategory(s string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	c := Category(normalized)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Outcome is the result of a task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TaskOutcome describes a completed task.
type TaskOutcome struct {
	// AgentID identifies the agent that ran the task. It owns the pattern.
	AgentID string `json:"agent_id"`

	// TaskType is a short label such as "bug_fix".
	TaskType string `json:"task_type"`

	// Context describes the problem.
	Context string `json:"context"`

	// Solution describes what was done.
	Solution string `json:"solution"`

	Outcome Outcome `json:"outcome"`
}

// Extraction is what an Extractor derives from a task outcome.
type Extraction struct {
	PatternName      string   `json:"pattern_name"`
	Category         Category `json:"category"`
	ProblemSignature string   `json:"problem_signature"`
	SolutionTemplate string   `json:"solution_template"`
	Confidence       float64  `json:"confidence"`
}

// LearnedPattern is a reusable solution stored in the knowledge table.
type LearnedPattern struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	TaskType         string    `json:"task_type"`
	PatternName      string    `json:"pattern_name"`
	Category         Category  `json:"category"`
	ProblemSignature string    `json:"problem_signature"`
	SolutionTemplate string    `json:"solution_template"`
	Confidence       float64   `json:"confidence"`
	TimesApplied     int       `json:"times_applied"`
	SuccessRate      float64   `json:"success_rate"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsed         time.Time `json:"last_used"`
}

// SaveResult reports what RecordOutcome did.
type SaveResult struct {
	// Saved is true when a pattern was inserted or reused.
	Saved bool

	// Reused is true when an existing pattern with the same name was updated.
	Reused bool

	// PatternID is the ID of the inserted or reused pattern.
	PatternID string

	// Reason explains why nothing was saved.
	Reason string

	// Extraction is what the extractor produced, including fallbacks.
	Extraction *Extraction
}

// Reasons reported in SaveResult.Reason.
const (
	ReasonFailedOutcome = "failed outcomes are not learned from"
	ReasonLowConfidence = "extraction confidence below threshold"
)

// SimilarPattern is a FindSimilar result.
type SimilarPattern struct {
	Pattern    *LearnedPattern
	Similarity float64
}
