package knowledge

import (
	"strings"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// Metadata keys used in the knowledge table.
const (
	metaPatternName      = "pattern_name"
	metaCategory         = "category"
	metaProblemSignature = "problem_signature"
	metaSolutionTemplate = "solution_template"
	metaConfidence       = "confidence"
	metaTimesApplied     = "times_applied"
	metaSuccessRate      = "success_rate"
	metaIsActive         = "is_active"
)

// searchText is the text embedded for similarity search.
func searchText(p *LearnedPattern) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.PatternName, p.ProblemSignature, p.SolutionTemplate} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// toRecord maps AgentID to the owner, TaskType to the domain and LastUsed to
// the update time.
func toRecord(p *LearnedPattern, vector []float64) *storage.Record {
	return &storage.Record{
		ID:        p.ID,
		OwnerID:   p.AgentID,
		DomainID:  p.TaskType,
		Content:   searchText(p),
		Embedding: vector,
		Metadata: map[string]interface{}{
			metaPatternName:      p.PatternName,
			metaCategory:         string(p.Category),
			metaProblemSignature: p.ProblemSignature,
			metaSolutionTemplate: p.SolutionTemplate,
			metaConfidence:       p.Confidence,
			metaTimesApplied:     p.TimesApplied,
			metaSuccessRate:      p.SuccessRate,
			metaIsActive:         p.IsActive,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.LastUsed,
	}
}

func fromRecord(r *storage.Record) *LearnedPattern {
	m := r.Metadata
	p := &LearnedPattern{
		ID:           r.ID,
		AgentID:      r.OwnerID,
		TaskType:     r.DomainID,
		TimesApplied: 1,
		IsActive:     true,
		CreatedAt:    r.CreatedAt,
		LastUsed:     r.UpdatedAt,
	}
	p.PatternName, _ = m[metaPatternName].(string)
	if c, ok := m[metaCategory].(string); ok {
		p.Category = Category(c)
	}
	p.ProblemSignature, _ = m[metaProblemSignature].(string)
	p.SolutionTemplate, _ = m[metaSolutionTemplate].(string)
	if v, ok := toFloat(m[metaConfidence]); ok {
		p.Confidence = v
	}
	if v, ok := toFloat(m[metaTimesApplied]); ok {
		p.TimesApplied = int(v)
	}
	if v, ok := toFloat(m[metaSuccessRate]); ok {
		p.SuccessRate = v
	}
	if v, ok := m[metaIsActive].(bool); ok {
		p.IsActive = v
	}
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
