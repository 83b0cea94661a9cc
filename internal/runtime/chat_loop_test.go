package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/agentloop"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/chat"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// recordingLlm captures the exact prompts the chat loop builds.
type recordingLlm struct {
	generateInputs  []chat.GenerateAssistantResponseInput
	summarizeInputs []chat.SummarizeConversationInput
	reply           string
	summary         string
	generateErr     error
}

func (l *recordingLlm) GenerateAssistantResponse(_ context.Context, in chat.GenerateAssistantResponseInput) (string, error) {
	l.generateInputs = append(l.generateInputs, in)
	if l.generateErr != nil {
		return "", l.generateErr
	}
	return l.reply, nil
}

func (l *recordingLlm) SummarizeConversation(_ context.Context, in chat.SummarizeConversationInput) (string, error) {
	l.summarizeInputs = append(l.summarizeInputs, in)
	return l.summary, nil
}

func seedThread(t *testing.T, store *chat.MemoryMessageStore, turns []struct {
	role          models.MessageRole
	content       string
	correlationID string
}) {
	t.Helper()

	ctx := context.Background()
	for _, turn := range turns {
		var err error
		if turn.role == models.MessageRoleUser {
			_, err = store.CreateIncomingMessage(ctx, chat.CreateIncomingMessageInput{
				ThreadID: "thr_1", Content: turn.content, CorrelationID: turn.correlationID,
			})
		} else {
			_, err = store.CreateAssistantMessage(ctx, chat.CreateAssistantMessageInput{
				ThreadID: "thr_1", Content: turn.content, CorrelationID: turn.correlationID,
			})
		}
		require.NoError(t, err)
	}
}

func TestChatAgentLoop_Run_FreshThread(t *testing.T) {
	llm := &recordingLlm{reply: "Hi there."}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{LlmService: llm, DefaultModel: "gpt-4o-mini"})

	result := loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-1",
		ThreadID:      "thr_1",
		CorrelationID: "corr-1",
		Prompt:        "hello",
	})

	assert.Equal(t, agentloop.ReasonSuccess, result.Reason)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "Hi there.", result.Output)

	assert.Empty(t, llm.summarizeInputs, "nothing older than the window to summarize")
	require.Len(t, llm.generateInputs, 1)
	assert.Equal(t, "gpt-4o-mini", llm.generateInputs[0].Model)
	require.Len(t, llm.generateInputs[0].Messages, 1)
	assert.Equal(t, models.MessageRoleUser, llm.generateInputs[0].Messages[0].Role)
	assert.Equal(t, "hello", llm.generateInputs[0].Messages[0].Content)
}

func TestChatAgentLoop_Run_SummarizesOlderHistory(t *testing.T) {
	messageStore := chat.NewMemoryMessageStore()
	seedThread(t, messageStore, []struct {
		role          models.MessageRole
		content       string
		correlationID string
	}{
		{models.MessageRoleUser, "Plan the migration", "corr-1"},
		{models.MessageRoleAssistant, "Plan drafted", "corr-1"},
		{models.MessageRoleUser, "Add a rollback step", "corr-2"},
		{models.MessageRoleAssistant, "Rollback included", "corr-2"},
		{models.MessageRoleUser, "Now estimate the timeline", "corr-3"},
	})

	llm := &recordingLlm{reply: "Two weeks.", summary: "Migration plan with rollback."}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{
		LlmService:               llm,
		MessageStore:             messageStore,
		DefaultModel:             "gpt-4o-mini",
		SummaryModel:             "gpt-4o",
		MemoryRecentMessageCount: 2,
	})

	result := loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-3",
		ThreadID:      "thr_1",
		CorrelationID: "corr-3",
		Prompt:        "Now estimate the timeline",
	})
	require.Equal(t, agentloop.ReasonSuccess, result.Reason)
	assert.Equal(t, "Two weeks.", result.Output)

	// Everything before the 2-message window gets summarized.
	require.Len(t, llm.summarizeInputs, 1)
	assert.Equal(t, "gpt-4o", llm.summarizeInputs[0].Model)
	summarized := llm.summarizeInputs[0].Messages
	require.Len(t, summarized, 3)
	assert.Equal(t, "Plan the migration", summarized[0].Content)
	assert.Equal(t, "Plan drafted", summarized[1].Content)
	assert.Equal(t, "Add a rollback step", summarized[2].Content)

	// The generation prompt is the summary system message plus the window.
	// The current prompt is already in history, so it is not appended again.
	require.Len(t, llm.generateInputs, 1)
	prompt := llm.generateInputs[0].Messages
	require.Len(t, prompt, 3)
	assert.Equal(t, models.MessageRoleSystem, prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "Migration plan with rollback.")
	assert.Equal(t, "Rollback included", prompt[1].Content)
	assert.Equal(t, "Now estimate the timeline", prompt[2].Content)
}

func TestChatAgentLoop_Run_AppendsPromptWhenNotInHistory(t *testing.T) {
	messageStore := chat.NewMemoryMessageStore()
	seedThread(t, messageStore, []struct {
		role          models.MessageRole
		content       string
		correlationID string
	}{
		{models.MessageRoleUser, "earlier question", "corr-1"},
		{models.MessageRoleAssistant, "earlier answer", "corr-1"},
	})

	llm := &recordingLlm{reply: "Answer."}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{
		LlmService:   llm,
		MessageStore: messageStore,
		DefaultModel: "gpt-4o-mini",
	})

	result := loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-4",
		ThreadID:      "thr_1",
		CorrelationID: "corr-2",
		Prompt:        "new question",
	})
	require.Equal(t, agentloop.ReasonSuccess, result.Reason)

	require.Len(t, llm.generateInputs, 1)
	prompt := llm.generateInputs[0].Messages
	require.Len(t, prompt, 3)
	assert.Equal(t, "earlier question", prompt[0].Content)
	assert.Equal(t, "earlier answer", prompt[1].Content)
	assert.Equal(t, models.MessageRoleUser, prompt[2].Role)
	assert.Equal(t, "new question", prompt[2].Content)
}

func TestChatAgentLoop_Run_EmptyOutputIsNoProgress(t *testing.T) {
	llm := &recordingLlm{reply: "   \n"}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{LlmService: llm, DefaultModel: "gpt-4o-mini"})

	result := loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-5",
		ThreadID:      "thr_1",
		CorrelationID: "corr-1",
		Prompt:        "hello",
	})

	assert.Equal(t, agentloop.ReasonNoProgress, result.Reason)
	assert.Empty(t, result.Output)
}

func TestChatAgentLoop_Run_LlmErrorSurfacesAsLoopError(t *testing.T) {
	llm := &recordingLlm{generateErr: errors.New("provider down")}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{LlmService: llm, DefaultModel: "gpt-4o-mini"})

	result := loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-6",
		ThreadID:      "thr_1",
		CorrelationID: "corr-1",
		Prompt:        "hello",
	})

	assert.Equal(t, agentloop.ReasonError, result.Reason)
	assert.Equal(t, "provider down", result.Error)
}

func TestChatAgentLoop_Run_ModelOverride(t *testing.T) {
	llm := &recordingLlm{reply: "ok"}
	loop := NewChatAgentLoop(ChatAgentLoopConfig{LlmService: llm, DefaultModel: "gpt-4o-mini"})

	loop.Run(context.Background(), ChatLoopRunInput{
		SessionID:     "run-7",
		ThreadID:      "thr_1",
		CorrelationID: "corr-1",
		Prompt:        "hello",
		Model:         "gpt-4o",
	})

	require.Len(t, llm.generateInputs, 1)
	assert.Equal(t, "gpt-4o", llm.generateInputs[0].Model)
}
