package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/api/response"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/middleware"
	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
	"pvp-casino-backend/internal/services"
)

type GameHandler struct {
	log        *slog.Logger
	gameEngine *services.GameEngine
	// verified holds verification blocks of settled games, which never
	// change once written.
	verified *cache.Cache
}

func NewGameHandler(log *slog.Logger, gameEngine *services.GameEngine) *GameHandler {
	return &GameHandler{
		log:        log,
		gameEngine: gameEngine,
		verified:   cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	const op = "handlers.GameHandler.CreateGame"

	var req models.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	user := middleware.CurrentUser(c)
	newGame, err := req.ToNewGame(user.ID)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	g, err := h.gameEngine.CreateGame(c.Request.Context(), newGame)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) AddEntry(c *gin.Context) {
	const op = "handlers.GameHandler.AddEntry"

	var req models.AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	user := middleware.CurrentUser(c)
	entry, err := req.ToNewEntry(user.ID)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	g, err := h.gameEngine.AddEntry(c.Request.Context(), c.Param("id"), entry)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) GetGame(c *gin.Context) {
	g, err := h.gameEngine.GetGame(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "handlers.GameHandler.GetGame", err)
		return
	}

	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) ListGames(c *gin.Context) {
	games, err := h.gameEngine.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, "handlers.GameHandler.ListGames", err)
		return
	}

	kind := provablyfair.Kind(c.Query("kind"))
	out := make([]models.PublicGame, 0, len(games))
	for _, g := range games {
		if kind != "" && g.Kind != kind {
			continue
		}
		out = append(out, g.Public())
	}

	response.OK(c, gin.H{"games": out})
}

func (h *GameHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	games, err := h.gameEngine.History(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "handlers.GameHandler.History", err)
		return
	}

	items := make([]models.HistoryItem, 0, len(games))
	for _, g := range games {
		items = append(items, g.HistoryItem())
	}

	response.OK(c, gin.H{"games": items})
}

// GetVerification returns the provably-fair block of a game. The revealed
// values and the self-check appear only once the game is settled.
func (h *GameHandler) GetVerification(c *gin.Context) {
	const op = "handlers.GameHandler.GetVerification"

	gameID := c.Param("id")
	if cached, ok := h.verified.Get(gameID); ok {
		response.OK(c, cached.(gin.H))
		return
	}

	g, err := h.gameEngine.GetGame(c.Request.Context(), gameID)
	if err != nil {
		h.fail(c, op, err)
		return
	}

	body := gin.H{"verification": g.Verification()}
	if g.State != models.StateSettled {
		response.OK(c, body)
		return
	}

	res, err := h.gameEngine.VerifyGame(c.Request.Context(), gameID)
	if err != nil {
		h.fail(c, op, err)
		return
	}
	body["result"] = res
	h.verified.SetDefault(gameID, body)

	response.OK(c, body)
}

// Verify checks arbitrary revealed values; it needs no stored game.
func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	response.OK(c, gin.H{"result": provablyfair.Verify(req.Input())})
}

// Admin endpoints.

func (h *GameHandler) Advance(c *gin.Context) {
	g, err := h.gameEngine.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "handlers.GameHandler.Advance", err)
		return
	}
	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) Cancel(c *gin.Context) {
	const op = "handlers.GameHandler.Cancel"

	var req models.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BindError(c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator " + middleware.CurrentUser(c).ID
	}

	g, err := h.gameEngine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, op, err)
		return
	}
	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) RetryPayout(c *gin.Context) {
	g, err := h.gameEngine.RetryPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "handlers.GameHandler.RetryPayout", err)
		return
	}
	response.OK(c, gin.H{"game": g.Public()})
}

func (h *GameHandler) Errors(c *gin.Context) {
	response.OK(c, gin.H{"errors": h.gameEngine.ErrorLog().Recent()})
}

func (h *GameHandler) Metrics(c *gin.Context) {
	response.OK(c, gin.H{"metrics": h.gameEngine.Metrics().Snapshot()})
}

// fail maps engine errors to responses. Ledger and payout details stay in
// the logs; players only ever see a generic message for them.
func (h *GameHandler) fail(c *gin.Context, op string, err error) {
	log := h.log.With(sl.Op(op), slog.String("path", c.Request.URL.Path))

	switch {
	case errors.Is(err, models.ErrGameNotFound):
		response.Error(c, http.StatusNotFound, "Game not found")
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": inputDetail(err)})
	case errors.Is(err, models.ErrInsufficientFunds):
		response.Error(c, http.StatusPaymentRequired, "Insufficient balance")
	case errors.Is(err, models.ErrGameNotOpen):
		response.Error(c, http.StatusConflict, "Game is no longer accepting entries")
	case errors.Is(err, models.ErrAlreadyEntered):
		response.Error(c, http.StatusConflict, "You have already joined this game")
	case errors.Is(err, models.ErrGameFull):
		response.Error(c, http.StatusConflict, "Game is full")
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConcurrentTransition):
		response.Error(c, http.StatusConflict, "Game cannot do that in its current state")
	case errors.Is(err, models.ErrPayoutFailed):
		log.Warn("payout pending", sl.Err(err))
		c.JSON(http.StatusAccepted, gin.H{"status": "processing", "message": "Your payout is being processed"})
	case errors.Is(err, models.ErrRandomUnavailable):
		log.Error("random source unavailable", sl.Err(err))
		response.Error(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		log.Error("request failed", sl.Err(err))
		response.Error(c, http.StatusInternalServerError, "Internal error")
	}
}

// inputDetail strips the operation prefixes from a validation error.
func inputDetail(err error) string {
	msg := err.Error()
	marker := models.ErrInvalidInput.Error() + ": "
	if i := strings.LastIndex(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return models.ErrInvalidInput.Error()
}
