package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithRateLimit sends a 429 response with the QuotaError and aborts.
// Used for extraction caps; the payload shape is identical to the 403 quota
// responses so clients parse one structure.
func AbortWithRateLimit(c *gin.Context, err *QuotaError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}

// FreeLifetimeLimitExceeded creates a QuotaError for the free plan's
// lifetime extraction cap.
func FreeLifetimeLimitExceeded(used, limit int64) *QuotaError {
	return NewQuotaError(
		ReasonLimitReached,
		fmt.Sprintf("Free plan limit reached (%d extracts). Upgrade to continue.", limit),
		"free", used, limit,
	)
}

// MonthlyLimitExceeded creates a QuotaError for a paid plan's monthly
// extraction cap.
func MonthlyLimitExceeded(plan string, used, limit int64) *QuotaError {
	return NewQuotaError(
		ReasonLimitReached,
		fmt.Sprintf("Monthly limit reached (%d extracts). Your quota resets next month.", limit),
		plan, used, limit,
	)
}
