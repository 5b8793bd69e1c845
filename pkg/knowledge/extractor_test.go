package knowledge_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/testutil"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/knowledge"
)

func TestLLMExtractor(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		wantName string
		wantConf float64
	}{
		{
			name:     "fenced json",
			response: "```json\n{\"pattern_name\": \"Cache warmup\", \"category\": \"optimization\", \"confidence\": 0.7}\n```",
			wantName: "Cache warmup",
			wantConf: 0.7,
		},
		{
			name:     "confidence clamped",
			response: `{"pattern_name": "Feature flags", "category": "deployment", "confidence": 1.7}`,
			wantName: "Feature flags",
			wantConf: 1.0,
		},
		{name: "malformed", response: "I could not find a pattern", wantErr: true},
		{name: "empty name", response: `{"pattern_name": " ", "category": "testing", "confidence": 0.9}`, wantErr: true},
		{name: "unknown category", response: `{"pattern_name": "X", "category": "astrology", "confidence": 0.9}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := knowledge.NewLLMExtractor(testutil.NewFakeLLM(tt.response))
			got, err := e.Extract(context.Background(), retryOutcome)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.PatternName)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
		})
	}
}

func TestLLMExtractor_LLMError(t *testing.T) {
	e := knowledge.NewLLMExtractor(testutil.NewFakeLLM().FailWith(errors.New("boom")))
	_, err := e.Extract(context.Background(), retryOutcome)
	assert.Error(t, err)

	_, err = knowledge.NewLLMExtractor(nil).Extract(context.Background(), retryOutcome)
	assert.Error(t, err)
}

func TestGenericExtraction(t *testing.T) {
	e := knowledge.GenericExtraction(knowledge.TaskOutcome{
		TaskType: "deploy_service",
		Context:  strings.Repeat("rollout ", 40),
		Solution: "canary",
	})
	assert.Equal(t, knowledge.CategoryDeployment, e.Category)
	assert.True(t, strings.HasPrefix(e.PatternName, "deploy_service: rollout"))
	assert.LessOrEqual(t, len([]rune(e.PatternName)), len("deploy_service: ")+60)
	assert.InDelta(t, knowledge.GenericPatternConfidence, e.Confidence, 1e-9)

	e = knowledge.GenericExtraction(knowledge.TaskOutcome{Context: "something"})
	assert.Equal(t, knowledge.CategoryCodeGeneration, e.Category)
	assert.True(t, strings.HasPrefix(e.PatternName, "task: "))
}
