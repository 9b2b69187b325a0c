package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/api/response"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/middleware"
	"pvp-casino-backend/internal/models"
)

// TransactionReader is implemented by services.RedisService.
type TransactionReader interface {
	GetUserTransactions(ctx context.Context, userID string, limit int64) ([]*models.Transaction, error)
}

type UserHandler struct {
	log          *slog.Logger
	wallets      WalletReader
	transactions TransactionReader
}

// NewUserHandler accepts nil readers; the matching blocks are then omitted
// from the response. The transaction journal exists only with the Redis
// ledger.
func NewUserHandler(log *slog.Logger, wallets WalletReader, transactions TransactionReader) *UserHandler {
	return &UserHandler{
		log:          log,
		wallets:      wallets,
		transactions: transactions,
	}
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	const op = "handlers.UserHandler.GetCurrentUser"

	log := h.log.With(sl.Op(op))
	user := middleware.CurrentUser(c)
	body := gin.H{"user": user}

	if h.wallets != nil {
		wallet, err := h.wallets.GetWallet(c.Request.Context(), user.ID)
		if err != nil {
			log.Error("failed to load wallet", sl.Err(err), slog.String("user_id", user.ID))
			response.Error(c, 0, "Failed to load wallet")
			return
		}
		body["wallet"] = wallet.Response()
	}

	if h.transactions != nil {
		limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
		if err != nil || limit <= 0 || limit > 100 {
			limit = 20
		}

		txs, err := h.transactions.GetUserTransactions(c.Request.Context(), user.ID, limit)
		if err != nil {
			// The journal is informational; the balance above is authoritative.
			log.Warn("failed to load transactions", sl.Err(err), slog.String("user_id", user.ID))
			txs = []*models.Transaction{}
		}
		body["transactions"] = txs
	}

	response.OK(c, body)
}
