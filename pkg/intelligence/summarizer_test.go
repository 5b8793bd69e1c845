package intelligence_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/testutil"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
)

var conversation = []llm.Message{
	{Role: llm.RoleSystem, Content: "internal instructions"},
	{Role: llm.RoleUser, Content: "I love jazz, especially Coltrane."},
	{Role: llm.RoleAssistant, Content: "Noted! Any favourite album?"},
	{Role: llm.RoleUser, Content: "A Love Supreme."},
}

func TestSummarizer_Summarize(t *testing.T) {
	fake := testutil.NewFakeLLM("```json\n{\"summary\": \"User loves jazz, favourite album A Love Supreme.\", \"topics\": [\"Music\", \"jazz\", \"music\", \" \"]}\n```")
	s := intelligence.NewSummarizer(fake)

	summary, err := s.Summarize(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "User loves jazz, favourite album A Love Supreme.", summary.Summary)
	assert.Equal(t, []string{"music", "jazz"}, summary.Topics)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, llm.RoleSystem, calls[0][0].Role)
	assert.NotContains(t, calls[0][1].Content, "internal instructions")
	assert.Contains(t, calls[0][1].Content, "user: I love jazz")
}

func TestSummarizer_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := intelligence.NewSummarizer(testutil.NewFakeLLM().FailWith(errors.New("down"))).Summarize(ctx, conversation)
	assert.Error(t, err)

	_, err = intelligence.NewSummarizer(testutil.NewFakeLLM("no json")).Summarize(ctx, conversation)
	assert.Error(t, err)

	_, err = intelligence.NewSummarizer(testutil.NewFakeLLM(`{"summary": "  "}`)).Summarize(ctx, conversation)
	assert.Error(t, err)

	_, err = intelligence.NewSummarizer(testutil.NewFakeLLM(`{"summary": "x"}`)).Summarize(ctx, nil)
	assert.Error(t, err)

	_, err = intelligence.NewSummarizer(nil).Summarize(ctx, conversation)
	assert.Error(t, err)
}

func TestSummarizer_CustomPrompt(t *testing.T) {
	fake := testutil.NewFakeLLM(`{"summary": "ok", "topics": []}`)
	s := intelligence.NewSummarizerWithPrompt(fake, "custom prompt")

	_, err := s.Summarize(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "custom prompt", fake.Calls()[0][0].Content)
}

func TestTranscript(t *testing.T) {
	out := intelligence.Transcript(conversation, 0)
	assert.Equal(t, "user: I love jazz, especially Coltrane.\nassistant: Noted! Any favourite album?\nuser: A Love Supreme.", out)

	cut := intelligence.Transcript(conversation, 10)
	assert.Equal(t, 10, len([]rune(cut)))
	assert.True(t, strings.HasPrefix(out, cut))

	assert.Equal(t, "user: hi", intelligence.Transcript([]llm.Message{{Content: "hi"}, {Role: llm.RoleUser, Content: "  "}}, 0))
}
