package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithNotFound answers 404. Ownership mismatches on meetings, sessions
// and issues use this too: another user's resource does not exist as far as
// the caller can tell.
func AbortWithNotFound(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(message, details))
}
