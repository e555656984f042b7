package i

import "github.com/gin-gonic/gin"

// Controller mounts its routes on the router's versioned groups. Protected
// groups run behind the player token middleware.
type Controller interface {
	RegisterPublic(*gin.RouterGroup)
	RegisterProtected(*gin.RouterGroup)
}
