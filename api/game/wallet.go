package gameapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/beka-birhanu/xplode-api/api/identity"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/gin-gonic/gin"
)

const defaultLeaderboardSize = 20

// WalletController serves balances and the profit leaderboard.
type WalletController struct {
	wallets i.WalletStore
}

// NewWalletController initializes a WalletController.
func NewWalletController(wallets i.WalletStore) *WalletController {
	return &WalletController{wallets: wallets}
}

// RegisterPublic registers public routes.
func (wc *WalletController) RegisterPublic(route *gin.RouterGroup) {
	route.GET("/leaderboard/:currency", wc.leaderboard)
}

// RegisterProtected registers protected routes.
func (wc *WalletController) RegisterProtected(route *gin.RouterGroup) {
	route.GET("/wallet/:currency", wc.balance)
}

func (wc *WalletController) balance(ctx *gin.Context) {
	player, err := identity.PlayerID(ctx)
	if err != nil {
		ctx.Status(http.StatusUnauthorized)
		return
	}

	currency := strings.ToUpper(ctx.Params.ByName("currency"))
	balance, err := wc.wallets.Balance(ctx.Request.Context(), player, currency)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not read balance"})
		return
	}

	ctx.JSON(http.StatusOK, &BalanceResponse{Currency: currency, Balance: balance})
}

func (wc *WalletController) leaderboard(ctx *gin.Context) {
	limit := defaultLeaderboardSize
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	currency := strings.ToUpper(ctx.Params.ByName("currency"))
	entries, err := wc.wallets.Leaderboard(ctx.Request.Context(), currency, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not read leaderboard"})
		return
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for idx, e := range entries {
		rows = append(rows, LeaderboardRow{
			Rank:     idx + 1,
			UserID:   e.UserID,
			Profit:   e.Profit,
			Games:    e.Games,
			Wins:     e.Wins,
			Currency: e.Currency,
		})
	}
	ctx.JSON(http.StatusOK, rows)
}
