// Package ws carries the game protocol over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beka-birhanu/xplode-api/api/identity"
	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const handleTimeout = 5 * time.Second

// SocketController upgrades authenticated requests and pumps frames between
// the socket and the session engine.
type SocketController struct {
	engine   i.SessionEngine
	logger   i.Logger
	upgrader websocket.Upgrader
}

// NewSocketController creates a SocketController. An empty allowedOrigins
// accepts any origin.
func NewSocketController(engine i.SessionEngine, logger i.Logger, allowedOrigins []string) (*SocketController, error) {
	if engine == nil || logger == nil {
		return nil, errors.New("engine and logger are required")
	}

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &SocketController{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(origins) == 0 || origins[r.Header.Get("Origin")]
			},
		},
	}, nil
}

// RegisterPublic registers public routes.
func (sc *SocketController) RegisterPublic(route *gin.RouterGroup) {}

// RegisterProtected registers protected routes.
func (sc *SocketController) RegisterProtected(route *gin.RouterGroup) {
	route.GET("/ws", sc.serve)
}

func (sc *SocketController) serve(ctx *gin.Context) {
	player, err := identity.PlayerID(ctx)
	if err != nil {
		ctx.Status(http.StatusUnauthorized)
		return
	}

	socket, err := sc.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		sc.logger.Warning(fmt.Sprintf("upgrading connection of %s: %s", player, err))
		return
	}

	conn := newConn(socket)
	go conn.writePump()
	sc.engine.Connect(context.Background(), player, conn)
	sc.logger.Info(fmt.Sprintf("player %s connected from %s", player, ctx.ClientIP()))

	sc.readPump(player, conn)
}

// readPump feeds frames to the engine until the peer goes away.
func (sc *SocketController) readPump(player uuid.UUID, conn *Conn) {
	defer func() {
		sc.engine.Disconnect(context.Background(), player, conn)
		_ = conn.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.logger.Warning(fmt.Sprintf("reading from %s: %s", player, err))
			}
			return
		}
		if kind != websocket.TextMessage {
			sc.engine.ReportError(player, fmt.Errorf("%w: binary frames are not supported", game.ErrMalformedMessage))
			continue
		}

		msg, err := game.DecodeClientMessage(data)
		if err != nil {
			sc.engine.ReportError(player, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		_ = sc.engine.Handle(ctx, player, msg)
		cancel()
	}
}
