package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextUserClaims is the key used to store user claims in the Gin context.
	ContextUserClaims = "userClaims"

	// UserIDClaim is the claim carrying the player's id.
	UserIDClaim = "user_id"

	// tokenQueryParam lets browser websocket clients, which cannot set
	// headers, pass the token in the URL.
	tokenQueryParam = "token"
)

var ErrNoPlayer = errors.New("no authenticated player")

// Authoriz verifies the bearer token and stores its claims in the context.
func Authoriz(ts i.TokenDecoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, err := ts.Decode(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if _, err := playerFromClaims(claims); err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(ContextUserClaims, claims)
		c.Next()
	}
}

// PlayerID returns the id of the authenticated player.
func PlayerID(c *gin.Context) (uuid.UUID, error) {
	raw, ok := c.Get(ContextUserClaims)
	if !ok {
		return uuid.Nil, ErrNoPlayer
	}
	claims, ok := raw.(map[string]interface{})
	if !ok {
		return uuid.Nil, ErrNoPlayer
	}
	return playerFromClaims(claims)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query(tokenQueryParam)
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func playerFromClaims(claims map[string]interface{}) (uuid.UUID, error) {
	raw, ok := claims[UserIDClaim].(string)
	if !ok {
		return uuid.Nil, ErrNoPlayer
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrNoPlayer
	}
	return id, nil
}
