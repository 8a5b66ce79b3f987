package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/opencurio/curio/backend/internal/content"
	"github.com/opencurio/curio/backend/internal/notify"
	"github.com/opencurio/curio/backend/internal/reputation"
	"github.com/opencurio/curio/backend/internal/voting"
	"go.uber.org/zap"
)

const userIDContextKey = "curio_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingAccounts     = errors.New("accounts service dependency required")
	errMissingContent      = errors.New("content service dependency required")
	errMissingCoordinator  = errors.New("vote coordinator dependency required")
	errMissingReputation   = errors.New("reputation service dependency required")
	errMissingNotify       = errors.New("notification service dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens protecting the API.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// AccountsService bootstraps account and reputation rows for new users.
type AccountsService interface {
	EnsureAccount(ctx context.Context, userID, displayName string) error
}

// Dependencies lists the collaborators behind the HTTP surface.
type Dependencies struct {
	TokenManager  TokenManager
	Accounts      AccountsService
	Content       *content.Service
	Coordinator   *voting.Coordinator
	Reputation    *reputation.Service
	Notifications *notify.Service
	Logger        *zap.Logger
}

// NewHTTPHandler wires the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Content == nil {
		return nil, errMissingContent
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Reputation == nil {
		return nil, errMissingReputation
	}
	if deps.Notifications == nil {
		return nil, errMissingNotify
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		accounts:      deps.Accounts,
		content:       deps.Content,
		coordinator:   deps.Coordinator,
		reputation:    deps.Reputation,
		notifications: deps.Notifications,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/questions", handler.handleCreateQuestion)
	protected.GET("/questions/:id", handler.handleGetQuestion)
	protected.DELETE("/questions/:id", handler.handleDeleteQuestion)
	protected.POST("/questions/:id/answers", handler.handleCreateAnswer)
	protected.DELETE("/answers/:id", handler.handleDeleteAnswer)
	protected.POST("/questions/:id/vote", handler.voteHandler(content.KindQuestion))
	protected.POST("/answers/:id/vote", handler.voteHandler(content.KindAnswer))
	protected.POST("/questions/:id/accept", handler.handleAccept)
	protected.GET("/users/:id/reputation", handler.handleReputation)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	accounts      AccountsService
	content       *content.Service
	coordinator   *voting.Coordinator
	reputation    *reputation.Service
	notifications *notify.Service
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.accounts.EnsureAccount(c.Request.Context(), request.UserID, request.DisplayName); err != nil {
		h.logger.Error("account bootstrap failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_bootstrap_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type createQuestionPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type questionPayload struct {
	QuestionID       string `json:"question_id"`
	AuthorID         string `json:"author_id"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	AcceptedAnswerID string `json:"accepted_answer_id,omitempty"`
	Tally            int64  `json:"tally"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

type answerPayload struct {
	AnswerID         string `json:"answer_id"`
	QuestionID       string `json:"question_id"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	IsAccepted       bool   `json:"is_accepted"`
	Tally            int64  `json:"tally"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toQuestionPayload(question content.Question) questionPayload {
	return questionPayload{
		QuestionID:       question.QuestionID,
		AuthorID:         question.AuthorID,
		Title:            question.Title,
		Body:             question.Body,
		AcceptedAnswerID: question.AcceptedAnswerID,
		Tally:            question.VoteTally,
		CreatedAtSeconds: question.CreatedAtSeconds,
	}
}

func toAnswerPayload(answer content.Answer) answerPayload {
	return answerPayload{
		AnswerID:         answer.AnswerID,
		QuestionID:       answer.QuestionID,
		AuthorID:         answer.AuthorID,
		Body:             answer.Body,
		IsAccepted:       answer.IsAccepted,
		Tally:            answer.VoteTally,
		CreatedAtSeconds: answer.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleCreateQuestion(c *gin.Context) {
	authorID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var request createQuestionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Title) == "" || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	question, err := h.content.CreateQuestion(c.Request.Context(), authorID, request.Title, request.Body)
	if err != nil {
		h.respondError(c, "create question failed", err)
		return
	}
	c.JSON(http.StatusCreated, toQuestionPayload(question))
}

func (h *httpHandler) handleGetQuestion(c *gin.Context) {
	questionID, ok := h.pathContentID(c)
	if !ok {
		return
	}

	question, answers, err := h.content.GetQuestion(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, "get question failed", err)
		return
	}

	answerPayloads := make([]answerPayload, 0, len(answers))
	for _, answer := range answers {
		answerPayloads = append(answerPayloads, toAnswerPayload(answer))
	}
	c.JSON(http.StatusOK, gin.H{
		"question": toQuestionPayload(question),
		"answers":  answerPayloads,
	})
}

func (h *httpHandler) handleDeleteQuestion(c *gin.Context) {
	requesterID, ok := h.requireUser(c)
	if !ok {
		return
	}
	questionID, ok := h.pathContentID(c)
	if !ok {
		return
	}

	if err := h.content.DeleteQuestion(c.Request.Context(), questionID, requesterID); err != nil {
		h.respondError(c, "delete question failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type createAnswerPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleCreateAnswer(c *gin.Context) {
	authorID, ok := h.requireUser(c)
	if !ok {
		return
	}
	questionID, ok := h.pathContentID(c)
	if !ok {
		return
	}

	var request createAnswerPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	answer, err := h.content.CreateAnswer(c.Request.Context(), questionID, authorID, request.Body)
	if err != nil {
		h.respondError(c, "create answer failed", err)
		return
	}
	c.JSON(http.StatusCreated, toAnswerPayload(answer))
}

func (h *httpHandler) handleDeleteAnswer(c *gin.Context) {
	requesterID, ok := h.requireUser(c)
	if !ok {
		return
	}
	answerID, ok := h.pathContentID(c)
	if !ok {
		return
	}

	if err := h.content.DeleteAnswer(c.Request.Context(), answerID, requesterID); err != nil {
		h.respondError(c, "delete answer failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type voteRequestPayload struct {
	Direction string `json:"direction"`
}

type voteResponsePayload struct {
	Tally int64 `json:"tally"`
}

func (h *httpHandler) voteHandler(kind content.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		voterID, ok := h.requireUser(c)
		if !ok {
			return
		}
		contentID, ok := h.pathContentID(c)
		if !ok {
			return
		}

		var request voteRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		direction, err := content.ParseDirection(request.Direction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
			return
		}

		result, err := h.coordinator.Vote(c.Request.Context(), kind, contentID, voterID, direction)
		if err != nil {
			h.respondError(c, "vote failed", err)
			return
		}
		c.JSON(http.StatusOK, voteResponsePayload{Tally: result.Tally})
	}
}

type acceptRequestPayload struct {
	AnswerID string `json:"answer_id"`
}

func (h *httpHandler) handleAccept(c *gin.Context) {
	requesterID, ok := h.requireUser(c)
	if !ok {
		return
	}
	questionID, ok := h.pathContentID(c)
	if !ok {
		return
	}

	var request acceptRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	answerID, err := content.NewContentID(request.AnswerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.coordinator.Accept(c.Request.Context(), questionID, answerID, requesterID); err != nil {
		h.respondError(c, "accept failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (h *httpHandler) handleReputation(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	score, err := h.reputation.Score(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "reputation read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "score": score})
}

type notificationPayload struct {
	NotificationID   string `json:"notification_id"`
	ActorID          string `json:"actor_id"`
	Kind             string `json:"kind"`
	ContentKind      string `json:"content_kind"`
	ContentID        string `json:"content_id"`
	IsRead           bool   `json:"is_read"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rows, err := h.notifications.List(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "notification list failed", err)
		return
	}

	payloads := make([]notificationPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, notificationPayload{
			NotificationID:   row.NotificationID,
			ActorID:          row.ActorID,
			Kind:             string(row.Kind),
			ContentKind:      row.ContentKind,
			ContentID:        row.ContentID,
			IsRead:           row.IsRead,
			CreatedAtSeconds: row.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payloads})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	notificationID := strings.TrimSpace(c.Param("id"))
	if notificationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		h.respondError(c, "notification mark-read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (h *httpHandler) requireUser(c *gin.Context) (content.UserID, bool) {
	userID, err := content.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) pathContentID(c *gin.Context) (content.ContentID, bool) {
	id, err := content.NewContentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", false
	}
	return id, true
}

// respondError maps the service error taxonomy onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound), errors.Is(err, notify.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, voting.ErrSelfVote),
		errors.Is(err, voting.ErrAlreadyAccepted),
		errors.Is(err, voting.ErrAnswerMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
	case errors.Is(err, voting.ErrNotQuestionAuthor), errors.Is(err, content.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, content.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, content.ErrStoreTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "store_timeout"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
