package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithInternal answers 500 with a generic message. Provider and store
// failure details go to the log, never into the response body.
func AbortWithInternal(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(message, details))
}
