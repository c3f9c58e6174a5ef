package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// QuotaReason represents machine-readable reason codes for quota errors.
// Clients switch on the `error` field, humans read `message`.
type QuotaReason string

const (
	// ReasonMeetingLimit is returned when a plan's persisted-meeting cap is hit.
	ReasonMeetingLimit QuotaReason = "meeting_limit"
	// ReasonLimitReached is returned when a plan's extraction cap is hit.
	ReasonLimitReached QuotaReason = "limit_reached"
	// ReasonRateLimited is returned for generic request-rate violations.
	ReasonRateLimited QuotaReason = "rate_limited"
)

// QuotaError is the standardized payload for 403/429 quota responses.
// It always carries both a machine `error` code and a human `message`.
type QuotaError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Plan    string `json:"plan,omitempty"`
	Used    int64  `json:"used,omitempty"`
	Limit   int64  `json:"limit,omitempty"`
}

// NewQuotaError creates a QuotaError with the given reason and message.
func NewQuotaError(reason QuotaReason, message, plan string, used, limit int64) *QuotaError {
	return &QuotaError{
		Error:   string(reason),
		Message: message,
		Plan:    plan,
		Used:    used,
		Limit:   limit,
	}
}

// AbortWithQuotaExceeded sends a 403 response with the QuotaError and aborts.
// Used for caps that gate resource creation (meeting storage).
func AbortWithQuotaExceeded(c *gin.Context, err *QuotaError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// AbortWithForbidden sends a plain 403 response and aborts. Used for
// non-quota authorization failures such as a non-admin hitting an admin
// route.
func AbortWithForbidden(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusForbidden, NewAPIError(message, details))
}

// MeetingLimitExceeded creates a QuotaError for the persisted-meeting cap.
func MeetingLimitExceeded(plan string, used, limit int64) *QuotaError {
	return NewQuotaError(
		ReasonMeetingLimit,
		fmt.Sprintf("Free plan allows up to %d saved meetings. Upgrade to continue.", limit),
		plan, used, limit,
	)
}
