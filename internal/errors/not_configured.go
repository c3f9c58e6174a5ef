package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithNotConfigured sends a 501 Not Implemented response and aborts.
// Returned when a remote provider is reachable in code but its API key is
// absent from configuration (and mock mode is off).
func AbortWithNotConfigured(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusNotImplemented, NewAPIError(message, details))
}
