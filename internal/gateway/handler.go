// Package gateway exposes the chat orchestrator's HTTP surface: login, the
// asynchronous chat ingress, run and history reads and the WebSocket stream
// of loop lifecycle events.
package gateway

import (
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/chat"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

const threadIDLength = 24

// Handler handles HTTP requests for the gateway layer.
type Handler struct {
	ingress    chat.IngressStore
	runs       chat.RunStore
	messages   chat.MessageStore
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool // user lookup for login; nil disables login
	logger     zerolog.Logger
}

// NewHandler creates a new gateway handler.
func NewHandler(ingress chat.IngressStore, runs chat.RunStore, messages chat.MessageStore, jwtManager *auth.JWTManager, pool *pgxpool.Pool, logger zerolog.Logger) *Handler {
	return &Handler{
		ingress:    ingress,
		runs:       runs,
		messages:   messages,
		jwtManager: jwtManager,
		pool:       pool,
		logger:     logger,
	}
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login authenticates a user and returns a JWT token.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Login unavailable"})
		return
	}

	var userID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &hashedPassword)
	if err != nil {
		h.logger.Warn().Str("email", req.Email).Msg("user not found")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		h.logger.Warn().Str("email", req.Email).Msg("invalid password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}

// PostMessageRequest asks for one asynchronous chat turn.
type PostMessageRequest struct {
	Content         string `json:"content" binding:"required"`
	ThreadID        string `json:"threadId"`
	Model           string `json:"model"`
	SimulateFailure bool   `json:"simulateFailure"`
}

// PostMessageResponse identifies everything the accepted turn produced.
type PostMessageResponse struct {
	MessageID     string `json:"messageId"`
	ThreadID      string `json:"threadId"`
	RunID         string `json:"runId"`
	CorrelationID string `json:"correlationId"`
}

// PostChatMessage accepts a chat turn: it records the user message, the
// queued run and the pending requested event in one transaction and responds
// 202. The assistant reply arrives asynchronously via the run's status and
// the event stream.
func (h *Handler) PostChatMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "content is required",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}
	runID := uuid.New().String()
	correlationID := uuid.New().String()

	record, err := h.ingress.CreateIncomingMessageAndQueueRun(c.Request.Context(), chat.CreateIncomingMessageAndQueueRunInput{
		ThreadID:        threadID,
		RunID:           runID,
		Content:         req.Content,
		CorrelationID:   correlationID,
		Model:           req.Model,
		SimulateFailure: req.SimulateFailure,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("threadId", threadID).Msg("ingress write failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to accept message",
			Code:  models.ErrCodeInternalError,
		})
		return
	}

	c.JSON(http.StatusAccepted, PostMessageResponse{
		MessageID:     record.MessageID,
		ThreadID:      record.ThreadID,
		RunID:         record.RunID,
		CorrelationID: record.CorrelationID,
	})
}

// GetRun returns a run's current status.
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := h.runs.GetRunByID(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error().Err(err).Str("runId", runID).Msg("failed to load run")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to load run",
			Code:  models.ErrCodeInternalError,
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "run not found",
			Code:  models.ErrCodeRunNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetThreadMessages returns a thread's history, oldest first.
func (h *Handler) GetThreadMessages(c *gin.Context) {
	threadID := c.Param("thread_id")

	messages, err := h.messages.ListMessagesByThreadID(c.Request.Context(), threadID)
	if err != nil {
		h.logger.Error().Err(err).Str("threadId", threadID).Msg("failed to load messages")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to load messages",
			Code:  models.ErrCodeInternalError,
		})
		return
	}

	if messages == nil {
		messages = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"threadId": threadID, "messages": messages})
}

const threadIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewThreadID generates a thread id of the form thr_ followed by 24 lowercase
// alphanumerics.
func NewThreadID() string {
	buf := make([]byte, threadIDLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		return "thr_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:threadIDLength]
	}
	for i, b := range buf {
		buf[i] = threadIDAlphabet[int(b)%len(threadIDAlphabet)]
	}
	return "thr_" + string(buf)
}
