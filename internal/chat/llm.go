package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

// PromptMessage is one message in a prompt sent to the LLM.
type PromptMessage struct {
	Role    models.MessageRole
	Content string
}

// GenerateAssistantResponseInput asks for one assistant completion.
type GenerateAssistantResponseInput struct {
	Model    string
	Messages []PromptMessage
}

// SummarizeConversationInput folds older messages into a compact summary.
type SummarizeConversationInput struct {
	Model           string
	PreviousSummary string
	Messages        []PromptMessage
}

// ChatLlmService is the opaque language-model capability the chat agent loop
// consumes.
type ChatLlmService interface {
	GenerateAssistantResponse(ctx context.Context, in GenerateAssistantResponseInput) (string, error)
	SummarizeConversation(ctx context.Context, in SummarizeConversationInput) (string, error)
}

const summarizationInstruction = "You maintain compact memory for a chat thread. " +
	"Summarize durable goals, decisions, constraints, open questions, and useful facts. " +
	"Keep it concise and factual."

const assistantMemoryInstruction = "Use the conversation summary as persistent context, " +
	"then prioritize the recent messages for immediate intent."

// BuildMemorySystemMessage synthesizes the system message that carries the
// conversation summary ahead of the recency window.
func BuildMemorySystemMessage(summary string) PromptMessage {
	return PromptMessage{
		Role:    models.MessageRoleSystem,
		Content: fmt.Sprintf("%s\n\nConversation summary:\n%s", assistantMemoryInstruction, summary),
	}
}

// ChatCompleter captures the subset of the go-openai client the service uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIChatService implements ChatLlmService via the OpenAI Chat Completions
// API, guarded by a circuit breaker so a degraded provider trips fast instead
// of stacking timeouts.
type OpenAIChatService struct {
	client  ChatCompleter
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAIChatService creates an OpenAI-backed chat LLM service.
func NewOpenAIChatService(client ChatCompleter) *OpenAIChatService {
	settings := gobreaker.Settings{
		Name:        "chat-llm",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &OpenAIChatService{
		client:  client,
		tracer:  otel.Tracer("chat-llm-service"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// NewOpenAIChatServiceFromAPIKey constructs a service using the default
// go-openai HTTP client.
func NewOpenAIChatServiceFromAPIKey(apiKey string) *OpenAIChatService {
	return NewOpenAIChatService(openai.NewClient(apiKey))
}

// GenerateAssistantResponse renders one chat completion for the given prompt.
func (s *OpenAIChatService) GenerateAssistantResponse(ctx context.Context, in GenerateAssistantResponseInput) (string, error) {
	ctx, span := s.tracer.Start(ctx, "chat_llm.generate_assistant_response")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", in.Model),
		attribute.Int("llm.message_count", len(in.Messages)),
	)

	text, err := s.complete(ctx, in.Model, toChatCompletionMessages(in.Messages))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to generate assistant response: %w", err)
	}

	return text, nil
}

// SummarizeConversation folds the given messages into an updated summary.
func (s *OpenAIChatService) SummarizeConversation(ctx context.Context, in SummarizeConversationInput) (string, error) {
	ctx, span := s.tracer.Start(ctx, "chat_llm.summarize_conversation")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", in.Model),
		attribute.Int("llm.message_count", len(in.Messages)),
	)

	parts := []string{}
	if in.PreviousSummary != "" {
		parts = append(parts, fmt.Sprintf("Existing summary:\n%s", in.PreviousSummary))
	} else {
		parts = append(parts, "Existing summary: (none)")
	}
	parts = append(parts, "Messages to fold into memory:")
	for _, message := range in.Messages {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(string(message.Role)), message.Content))
	}
	parts = append(parts, "Return only the updated summary in plain text.")

	text, err := s.complete(ctx, in.Model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summarizationInstruction},
		{Role: openai.ChatMessageRoleUser, Content: strings.Join(parts, "\n\n")},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to summarize conversation: %w", err)
	}

	return text, nil
}

func (s *OpenAIChatService) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		response, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
		})
		if err != nil {
			return nil, err
		}
		if len(response.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		return response.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(result.(string)), nil
}

func toChatCompletionMessages(messages []PromptMessage) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    string(message.Role),
			Content: message.Content,
		})
	}
	return converted
}

// FallbackChatService is a deterministic, provider-free ChatLlmService for
// local boots and tests.
type FallbackChatService struct{}

// NewFallbackChatService creates the deterministic fallback service.
func NewFallbackChatService() *FallbackChatService {
	return &FallbackChatService{}
}

// GenerateAssistantResponse echoes the last user message.
func (s *FallbackChatService) GenerateAssistantResponse(_ context.Context, in GenerateAssistantResponseInput) (string, error) {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == models.MessageRoleUser {
			return fmt.Sprintf("Handled prompt: %s", in.Messages[i].Content), nil
		}
	}
	return "Handled prompt: ", nil
}

// SummarizeConversation joins the transcript under the previous summary.
func (s *FallbackChatService) SummarizeConversation(_ context.Context, in SummarizeConversationInput) (string, error) {
	lines := make([]string, 0, len(in.Messages)+1)
	if in.PreviousSummary != "" {
		lines = append(lines, in.PreviousSummary)
	}
	for _, message := range in.Messages {
		lines = append(lines, fmt.Sprintf("%s: %s", message.Role, message.Content))
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
