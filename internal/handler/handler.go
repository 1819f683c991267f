// Package handler exposes the lottery engine and skull ledger over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/config"
	"discord-lottery-bot/internal/lottery"
	"discord-lottery-bot/internal/repository"
	"discord-lottery-bot/internal/service"
)

const defaultLeaderboardLimit = 10

// Handler wires the manager and ledger service to gin routes.
type Handler struct {
	manager *lottery.Manager
	ledger  *service.LedgerService
	cfg     *config.Config
	health  func(*gin.Context)
}

// New creates a Handler. healthCheck is called by GET /healthz; pass nil to
// always report healthy.
func New(manager *lottery.Manager, ledger *service.LedgerService, cfg *config.Config, healthCheck func(*gin.Context)) *Handler {
	if healthCheck == nil {
		healthCheck = func(c *gin.Context) {
			c.String(http.StatusOK, "Bot is running")
		}
	}
	return &Handler{
		manager: manager,
		ledger:  ledger,
		cfg:     cfg,
		health:  healthCheck,
	}
}

// RegisterRoutes registers all application routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	{
		api.POST("/lotteries", h.CreateLottery)
		api.GET("/lotteries/:id", h.GetLottery)
		api.POST("/lotteries/:id/tickets", h.BuyTickets)
		api.POST("/lotteries/:id/message", h.SetMessage)
		api.POST("/lotteries/:id/draw", h.TriggerDraw)

		api.GET("/skulls/leaderboard", h.Leaderboard)
		api.GET("/skulls/:userID", h.GetBalance)
		api.GET("/skulls/:userID/history", h.GetHistory)
		api.POST("/skulls/:userID/grant", h.Grant)
		api.POST("/skulls/transfer", h.Transfer)
	}
}

type createLotteryRequest struct {
	Prize             string `json:"prize" binding:"required"`
	WinnerCount       int    `json:"winner_count" binding:"required"`
	MinParticipants   int    `json:"min_participants"`
	DurationSeconds   int64  `json:"duration_seconds"`
	TicketPrice       int64  `json:"ticket_price"`
	MaxTicketsPerUser int    `json:"max_tickets_per_user"`
	IsManualDraw      bool   `json:"is_manual_draw"`
	ChannelID         string `json:"channel_id"`
	GuildID           string `json:"guild_id"`
	CreatedBy         string `json:"created_by"`
	Terms             string `json:"terms"`
}

// CreateLottery handles POST /api/lotteries.
func (h *Handler) CreateLottery(c *gin.Context) {
	var req createLotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.manager.Create(c.Request.Context(), lottery.CreateParams{
		Prize:             req.Prize,
		WinnerCount:       req.WinnerCount,
		MinParticipants:   req.MinParticipants,
		Duration:          time.Duration(req.DurationSeconds) * time.Second,
		TicketPrice:       req.TicketPrice,
		MaxTicketsPerUser: req.MaxTicketsPerUser,
		IsManualDraw:      req.IsManualDraw,
		ChannelID:         req.ChannelID,
		GuildID:           req.GuildID,
		CreatedBy:         req.CreatedBy,
		Terms:             req.Terms,
	})
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to create lottery")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create lottery"})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// GetLottery handles GET /api/lotteries/:id.
func (h *Handler) GetLottery(c *gin.Context) {
	id, ok := h.lotteryID(c)
	if !ok {
		return
	}

	found, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrLotteryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lottery not found"})
			return
		}
		log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to fetch lottery")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch lottery"})
		return
	}

	c.JSON(http.StatusOK, found)
}

type buyTicketsRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Count  int    `json:"count"`
}

// BuyTickets handles POST /api/lotteries/:id/tickets.
func (h *Handler) BuyTickets(c *gin.Context) {
	id, ok := h.lotteryID(c)
	if !ok {
		return
	}

	var req buyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	updated, err := h.manager.BuyTickets(c.Request.Context(), id, req.UserID, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, lottery.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "lottery not found"})
		case errors.Is(err, lottery.ErrNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "lottery is not active"})
		case errors.Is(err, lottery.ErrTicketLimit):
			c.JSON(http.StatusConflict, gin.H{"error": "ticket limit reached"})
		case errors.Is(err, lottery.ErrInvalidTicketCount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient skull balance"})
		default:
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to buy tickets")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to buy tickets"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lottery": updated,
		"tickets": updated.TicketsOf(req.UserID),
	})
}

type setMessageRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
}

// SetMessage handles POST /api/lotteries/:id/message.
func (h *Handler) SetMessage(c *gin.Context) {
	id, ok := h.lotteryID(c)
	if !ok {
		return
	}

	var req setMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.manager.SetAnnouncementMessage(c.Request.Context(), id, req.ChannelID, req.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, lottery.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "lottery not found"})
		case errors.Is(err, lottery.ErrNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "lottery is not active"})
		default:
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to set announcement message")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set announcement message"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type triggerDrawRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
}

// TriggerDraw handles POST /api/lotteries/:id/draw. Only configured admins
// may trigger a draw.
func (h *Handler) TriggerDraw(c *gin.Context) {
	id, ok := h.lotteryID(c)
	if !ok {
		return
	}

	var req triggerDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.cfg.IsAdmin(req.RequestedBy) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	if err := h.manager.TriggerDraw(c.Request.Context(), id); err != nil {
		if errors.Is(err, lottery.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lottery not found"})
			return
		}
		log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to trigger draw")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger draw"})
		return
	}

	drawn, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "drawn"})
		return
	}
	c.JSON(http.StatusOK, drawn)
}

// GetBalance handles GET /api/skulls/:userID.
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("userID")

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// GetHistory handles GET /api/skulls/:userID/history.
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userID")
	limit := queryInt(c, "limit", 20)

	history, err := h.ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch transaction history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "transactions": history})
}

type grantRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	GrantedBy   string `json:"granted_by" binding:"required"`
	Description string `json:"description"`
}

// Grant handles POST /api/skulls/:userID/grant. Admin only.
func (h *Handler) Grant(c *gin.Context) {
	userID := c.Param("userID")

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.cfg.IsAdmin(req.GrantedBy) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	description := req.Description
	if description == "" {
		description = "admin grant"
	}

	balance, err := h.ledger.Grant(c.Request.Context(), userID, req.Amount, description)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to grant skulls")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to grant skulls"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

type transferRequest struct {
	FromID string `json:"from_id" binding:"required"`
	ToID   string `json:"to_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

// Transfer handles POST /api/skulls/transfer.
func (h *Handler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.ledger.Transfer(c.Request.Context(), req.FromID, req.ToID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrSelfTransfer):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient skull balance"})
		default:
			log.Error().Err(err).Str("from_id", req.FromID).Str("to_id", req.ToID).
				Msg("Failed to transfer skulls")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to transfer skulls"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Leaderboard handles GET /api/skulls/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	limit := queryInt(c, "limit", defaultLeaderboardLimit)

	top, err := h.ledger.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch leaderboard")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch leaderboard"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": top})
}

func (h *Handler) lotteryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lottery id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func isValidationError(err error) bool {
	return errors.Is(err, lottery.ErrInvalidWinnerCount) ||
		errors.Is(err, lottery.ErrInvalidMinParticipants) ||
		errors.Is(err, lottery.ErrInvalidDuration) ||
		errors.Is(err, lottery.ErrInvalidTicketPrice)
}
