package gameapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/beka-birhanu/xplode-api/api/identity"
	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const lookupTimeout = 500 * time.Millisecond

// MatchMakingController queues players and tells them where their match runs.
type MatchMakingController struct {
	matchingService i.Matchmaker
	discovery       i.Discovery
	defaultRegion   string
}

// NewMatchMakingController initializes a MatchMakingController.
func NewMatchMakingController(ms i.Matchmaker, d i.Discovery, defaultRegion string) (*MatchMakingController, error) {
	if ms == nil || d == nil {
		return nil, errors.New("matchmaker and discovery are required")
	}
	return &MatchMakingController{
		matchingService: ms,
		discovery:       d,
		defaultRegion:   defaultRegion,
	}, nil
}

// RegisterPublic registers public routes.
func (mkc *MatchMakingController) RegisterPublic(route *gin.RouterGroup) {}

// RegisterProtected registers protected routes.
func (mkc *MatchMakingController) RegisterProtected(route *gin.RouterGroup) {
	matchMaking := route.Group("/gameMatch")
	{
		matchMaking.POST("/", mkc.match)
		matchMaking.DELETE("/", mkc.leave)
		matchMaking.GET("/", mkc.current)
		matchMaking.GET("/:ID", mkc.matchInfo)
	}
}

// match queues the player for a match.
func (mkc *MatchMakingController) match(ctx *gin.Context) {
	ticket, ok := mkc.ticket(ctx)
	if !ok {
		return
	}

	if err := mkc.matchingService.PushToQueue(ctx.Request.Context(), ticket); err != nil {
		if errors.Is(err, game.ErrInvalidParameters) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "error while matching player"})
		return
	}

	ctx.Status(http.StatusAccepted)
}

// leave takes the player out of the queue.
func (mkc *MatchMakingController) leave(ctx *gin.Context) {
	ticket, ok := mkc.ticket(ctx)
	if !ok {
		return
	}

	if err := mkc.matchingService.LeaveQueue(ctx.Request.Context(), ticket); err != nil {
		if errors.Is(err, i.ErrRecordNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not in queue"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "error while leaving queue"})
		return
	}

	ctx.Status(http.StatusNoContent)
}

// current returns the location of the player's live match.
func (mkc *MatchMakingController) current(ctx *gin.Context) {
	player, err := identity.PlayerID(ctx)
	if err != nil {
		ctx.Status(http.StatusUnauthorized)
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx.Request.Context(), lookupTimeout)
	defer cancel()
	loc, err := mkc.discovery.LookupPlayer(timeoutCtx, player)
	mkc.respondLocation(ctx, loc, err)
}

// matchInfo returns where a match runs.
func (mkc *MatchMakingController) matchInfo(ctx *gin.Context) {
	ID, err := uuid.Parse(ctx.Params.ByName("ID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx.Request.Context(), lookupTimeout)
	defer cancel()
	loc, err := mkc.discovery.Lookup(timeoutCtx, ID)
	mkc.respondLocation(ctx, loc, err)
}

func (mkc *MatchMakingController) respondLocation(ctx *gin.Context, loc i.SessionLocation, err error) {
	if errors.Is(err, i.ErrRecordNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "No Session"})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "session lookup failed"})
		return
	}

	ctx.JSON(http.StatusOK, &MatchInfoResponse{
		MatchID:   loc.MatchID,
		ServerID:  loc.ServerID,
		Region:    loc.Region,
		SocketURL: strings.TrimSuffix(loc.Addr, "/") + "/api/v1/ws",
		Bet:       loc.Bet,
		Currency:  loc.Currency,
		Players:   loc.Players,
		CreatedAt: loc.CreatedAt,
	})
}

func (mkc *MatchMakingController) ticket(ctx *gin.Context) (i.Ticket, bool) {
	player, err := identity.PlayerID(ctx)
	if err != nil {
		ctx.Status(http.StatusUnauthorized)
		return i.Ticket{}, false
	}

	var request MatchRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return i.Ticket{}, false
	}

	region := request.Region
	if region == "" {
		region = mkc.defaultRegion
	}
	return i.Ticket{
		PlayerID: player,
		Bet:      request.Bet,
		Currency: strings.ToUpper(request.Currency),
		Rows:     request.Rows,
		Cols:     request.Cols,
		Mines:    request.Mines,
		Players:  request.Players,
		Region:   region,
	}, true
}
