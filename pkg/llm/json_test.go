package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", `Sure! Here it is: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote", `{"a":"say \"}\""}`, `{"a":"say \"}\""}`, true},
		{"no object", `no json here`, "", false},
		{"unbalanced", `{"a":1`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Summary string   `json:"summary"`
		Topics  []string `json:"topics"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"summary\":\"jazz\",\"topics\":[\"music\"]}\n```", &out))
	assert.Equal(t, "jazz", out.Summary)
	assert.Equal(t, []string{"music"}, out.Topics)

	assert.ErrorIs(t, DecodeJSON("nothing", &out), ErrNoJSON)
	assert.Error(t, DecodeJSON(`{"summary": 3}`, &out))
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleAssistant, Content: "hello"},
	})
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}, rest)
}

func TestApplyGenerateOptions(t *testing.T) {
	opts := ApplyGenerateOptions(nil)
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 1000, opts.MaxTokens)

	assert.False(t, opts.JSON)

	opts = ApplyGenerateOptions([]GenerateOption{WithTemperature(0.9), WithMaxTokens(10), WithJSONResponse(), WithStop("END")})
	assert.Equal(t, 0.9, opts.Temperature)
	assert.Equal(t, 10, opts.MaxTokens)
	assert.True(t, opts.JSON)
	assert.Equal(t, []string{"END"}, opts.Stop)

	opts = ApplyGenerateOptions([]GenerateOption{WithMaxTokens(0)})
	assert.Equal(t, DefaultMaxTokens, opts.MaxTokens)
}
