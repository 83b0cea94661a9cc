// Package runtime drives chat turns end to end: it consumes requested events
// from the stream bus, runs the chat specialization of the generic agent
// loop, persists the assistant reply and reports the outcome as run status
// plus completion/failure events.
package runtime

import (
	"context"
	"strings"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/agentloop"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/chat"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

const (
	defaultMemoryRecentMessageCount = 8
	defaultMaxIterations            = 1
)

// ChatLoopState is the chat agent loop's working state.
type ChatLoopState struct {
	ThreadID      string `json:"threadId"`
	CorrelationID string `json:"correlationId"`
	Prompt        string `json:"prompt"`
	Model         string `json:"model"`
	Output        string `json:"output,omitempty"`
}

// ChatLoopStep is the single step kind the chat planner proposes.
type ChatLoopStep struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// ChatLoopObservation is what executing a respond step produced.
type ChatLoopObservation struct {
	Output string `json:"output"`
}

// ChatLoopEvent is the chat instantiation of the loop lifecycle event.
type ChatLoopEvent = agentloop.Event[ChatLoopState, ChatLoopStep, ChatLoopObservation]

// ChatLoopEmitter receives chat loop lifecycle events.
type ChatLoopEmitter = agentloop.EventEmitter[ChatLoopState, ChatLoopStep, ChatLoopObservation]

// ChatCheckpointStore persists chat loop state between iterations.
type ChatCheckpointStore = agentloop.CheckpointStore[ChatLoopState]

// ChatAgentLoopConfig configures the chat specialization.
type ChatAgentLoopConfig struct {
	LlmService   chat.ChatLlmService // defaults to the deterministic fallback
	MessageStore chat.MessageStore   // optional; nil means empty history
	DefaultModel string
	SummaryModel string // model for summarization, defaults to the step model
	// MemoryRecentMessageCount bounds the recency window, default 8.
	MemoryRecentMessageCount int
	// MaxIterations for one invocation, default 1.
	MaxIterations   int
	CheckpointStore ChatCheckpointStore // defaults to an in-memory store
	EventEmitter    ChatLoopEmitter
}

// ChatLoopRunInput describes one chat loop invocation.
type ChatLoopRunInput struct {
	SessionID     string
	ThreadID      string
	CorrelationID string
	Prompt        string
	Model         string
}

// ChatLoopRunResult reports one invocation's outcome.
type ChatLoopRunResult struct {
	Output     string
	Reason     agentloop.StopReason
	Iterations int
	Error      string
}

// ChatAgentLoop generates one assistant reply with bounded conversational
// memory: the last N messages stay verbatim and older history is folded into
// an LLM-produced summary carried as a synthesized system message.
type ChatAgentLoop struct {
	llm           chat.ChatLlmService
	messages      chat.MessageStore
	defaultModel  string
	summaryModel  string
	recentCount   int
	maxIterations int
	loop          *agentloop.Loop[ChatLoopState, ChatLoopStep, ChatLoopObservation]
}

// NewChatAgentLoop creates the chat specialization of the agent loop.
func NewChatAgentLoop(cfg ChatAgentLoopConfig) *ChatAgentLoop {
	llm := cfg.LlmService
	if llm == nil {
		llm = chat.NewFallbackChatService()
	}
	recentCount := cfg.MemoryRecentMessageCount
	if recentCount < 1 {
		recentCount = defaultMemoryRecentMessageCount
	}
	maxIterations := cfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = defaultMaxIterations
	}
	checkpointStore := cfg.CheckpointStore
	if checkpointStore == nil {
		checkpointStore = agentloop.NewMemoryCheckpointStore[ChatLoopState]()
	}

	l := &ChatAgentLoop{
		llm:           llm,
		messages:      cfg.MessageStore,
		defaultModel:  cfg.DefaultModel,
		summaryModel:  cfg.SummaryModel,
		recentCount:   recentCount,
		maxIterations: maxIterations,
	}

	l.loop = agentloop.New(agentloop.Config[ChatLoopState, ChatLoopStep, ChatLoopObservation]{
		Planner: agentloop.PlannerFunc[ChatLoopState, ChatLoopStep](
			func(_ context.Context, in agentloop.PlanInput[ChatLoopState]) (ChatLoopStep, error) {
				return ChatLoopStep{Type: "respond", Model: in.State.Model}, nil
			}),
		Executor: agentloop.ExecutorFunc[ChatLoopState, ChatLoopStep, ChatLoopObservation](
			func(ctx context.Context, in agentloop.ExecuteInput[ChatLoopState, ChatLoopStep]) (ChatLoopObservation, error) {
				output, err := l.generateAssistantOutput(ctx, in.State)
				if err != nil {
					return ChatLoopObservation{}, err
				}
				return ChatLoopObservation{Output: output}, nil
			}),
		Evaluator: agentloop.EvaluatorFunc[ChatLoopState, ChatLoopStep, ChatLoopObservation](
			func(_ context.Context, in agentloop.EvaluateInput[ChatLoopState, ChatLoopStep, ChatLoopObservation]) (agentloop.Evaluation[ChatLoopState], error) {
				output := strings.TrimSpace(in.Observation.Output)
				nextState := in.State
				nextState.Output = output

				reason := agentloop.ReasonSuccess
				if output == "" {
					reason = agentloop.ReasonNoProgress
				}

				return agentloop.Evaluation[ChatLoopState]{
					Decision:  agentloop.DecisionFinish,
					Reason:    reason,
					NextState: nextState,
				}, nil
			}),
		CheckpointStore: checkpointStore,
		EventEmitter:    cfg.EventEmitter,
	})

	return l
}

// Run performs one chat loop invocation for a request.
func (l *ChatAgentLoop) Run(ctx context.Context, in ChatLoopRunInput) ChatLoopRunResult {
	model := in.Model
	if model == "" {
		model = l.defaultModel
	}

	result := l.loop.Run(ctx, agentloop.RunInput[ChatLoopState]{
		SessionID: in.SessionID,
		InitialState: ChatLoopState{
			ThreadID:      in.ThreadID,
			CorrelationID: in.CorrelationID,
			Prompt:        in.Prompt,
			Model:         model,
		},
		MaxIterations:        l.maxIterations,
		ResumeFromCheckpoint: false,
	})

	return ChatLoopRunResult{
		Output:     result.State.Output,
		Reason:     result.Reason,
		Iterations: result.Iterations,
		Error:      result.Error,
	}
}

// generateAssistantOutput builds the bounded-memory prompt and asks the LLM
// for the reply. The recency window is the last N stored messages plus the
// current prompt when history does not already hold it; everything older is
// summarized and carried as a leading system message.
func (l *ChatAgentLoop) generateAssistantOutput(ctx context.Context, state ChatLoopState) (string, error) {
	threadMessages, err := l.listThreadMessages(ctx, state.ThreadID)
	if err != nil {
		return "", err
	}

	recent := recentPromptMessages(threadMessages, l.recentCount)

	hasCurrentPrompt := false
	for _, message := range threadMessages {
		if message.Role == models.MessageRoleUser && message.CorrelationID == state.CorrelationID {
			hasCurrentPrompt = true
			break
		}
	}
	if !hasCurrentPrompt {
		recent = append(recent, chat.PromptMessage{
			Role:    models.MessageRoleUser,
			Content: state.Prompt,
		})
	}

	older := olderPromptMessages(threadMessages, l.recentCount)

	summaryModel := l.summaryModel
	if summaryModel == "" {
		summaryModel = state.Model
	}

	if len(older) > 0 {
		summary, err := l.llm.SummarizeConversation(ctx, chat.SummarizeConversationInput{
			Model:    summaryModel,
			Messages: older,
		})
		if err != nil {
			return "", err
		}

		if summary != "" {
			prompt := append([]chat.PromptMessage{chat.BuildMemorySystemMessage(summary)}, recent...)
			return l.llm.GenerateAssistantResponse(ctx, chat.GenerateAssistantResponseInput{
				Model:    state.Model,
				Messages: prompt,
			})
		}
	}

	if len(recent) == 0 {
		recent = append(recent, chat.PromptMessage{
			Role:    models.MessageRoleUser,
			Content: state.Prompt,
		})
	}

	return l.llm.GenerateAssistantResponse(ctx, chat.GenerateAssistantResponseInput{
		Model:    state.Model,
		Messages: recent,
	})
}

func (l *ChatAgentLoop) listThreadMessages(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	if l.messages == nil {
		return nil, nil
	}
	return l.messages.ListMessagesByThreadID(ctx, threadID)
}

func recentPromptMessages(messages []models.ChatMessage, recentCount int) []chat.PromptMessage {
	start := 0
	if len(messages) > recentCount {
		start = len(messages) - recentCount
	}
	return toPromptMessages(messages[start:])
}

func olderPromptMessages(messages []models.ChatMessage, recentCount int) []chat.PromptMessage {
	if len(messages) <= recentCount {
		return nil
	}
	return toPromptMessages(messages[:len(messages)-recentCount])
}

func toPromptMessages(messages []models.ChatMessage) []chat.PromptMessage {
	converted := make([]chat.PromptMessage, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, chat.PromptMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}
	return converted
}
