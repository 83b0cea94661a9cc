package chat

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

type fakeCompleter struct {
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestOpenAIChatService_GenerateAssistantResponse(t *testing.T) {
	t.Run("returns trimmed completion text", func(t *testing.T) {
		completer := &fakeCompleter{reply: "  The answer.  \n"}
		service := NewOpenAIChatService(completer)

		text, err := service.GenerateAssistantResponse(context.Background(), GenerateAssistantResponseInput{
			Model: "gpt-4o-mini",
			Messages: []PromptMessage{
				{Role: models.MessageRoleUser, Content: "question"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "The answer.", text)

		require.Len(t, completer.requests, 1)
		assert.Equal(t, "gpt-4o-mini", completer.requests[0].Model)
		require.Len(t, completer.requests[0].Messages, 1)
		assert.Equal(t, openai.ChatMessageRoleUser, completer.requests[0].Messages[0].Role)
		assert.Equal(t, "question", completer.requests[0].Messages[0].Content)
	})

	t.Run("wraps provider errors", func(t *testing.T) {
		completer := &fakeCompleter{err: errors.New("rate limited")}
		service := NewOpenAIChatService(completer)

		_, err := service.GenerateAssistantResponse(context.Background(), GenerateAssistantResponseInput{
			Model:    "gpt-4o-mini",
			Messages: []PromptMessage{{Role: models.MessageRoleUser, Content: "question"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to generate assistant response")
	})
}

func TestOpenAIChatService_SummarizeConversation(t *testing.T) {
	completer := &fakeCompleter{reply: "User wants to ship v2."}
	service := NewOpenAIChatService(completer)

	summary, err := service.SummarizeConversation(context.Background(), SummarizeConversationInput{
		Model:           "gpt-4o-mini",
		PreviousSummary: "Early planning.",
		Messages: []PromptMessage{
			{Role: models.MessageRoleUser, Content: "Let's ship v2"},
			{Role: models.MessageRoleAssistant, Content: "Agreed"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "User wants to ship v2.", summary)

	require.Len(t, completer.requests, 1)
	request := completer.requests[0]
	require.Len(t, request.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, request.Messages[0].Role)
	assert.Contains(t, request.Messages[1].Content, "Existing summary:\nEarly planning.")
	assert.Contains(t, request.Messages[1].Content, "USER: Let's ship v2")
	assert.Contains(t, request.Messages[1].Content, "ASSISTANT: Agreed")
	assert.Contains(t, request.Messages[1].Content, "Return only the updated summary in plain text.")
}

func TestBuildMemorySystemMessage(t *testing.T) {
	message := BuildMemorySystemMessage("The user is renaming the project.")

	assert.Equal(t, models.MessageRoleSystem, message.Role)
	assert.Contains(t, message.Content, "Conversation summary:\nThe user is renaming the project.")
}

func TestFallbackChatService(t *testing.T) {
	service := NewFallbackChatService()

	t.Run("echoes the last user message", func(t *testing.T) {
		text, err := service.GenerateAssistantResponse(context.Background(), GenerateAssistantResponseInput{
			Messages: []PromptMessage{
				{Role: models.MessageRoleUser, Content: "first"},
				{Role: models.MessageRoleAssistant, Content: "reply"},
				{Role: models.MessageRoleUser, Content: "second"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Handled prompt: second", text)
	})

	t.Run("summarizes by transcript join", func(t *testing.T) {
		summary, err := service.SummarizeConversation(context.Background(), SummarizeConversationInput{
			PreviousSummary: "old",
			Messages: []PromptMessage{
				{Role: models.MessageRoleUser, Content: "hello"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "old\nuser: hello", summary)
	})
}
