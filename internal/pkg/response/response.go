package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tldrify/core/internal/pkg/errkind"
)

// errorBody is the uniform error envelope: {error_kind, message, details?}.
type errorBody struct {
	ErrorKind errkind.Kind           `json:"error_kind"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// OK sends a 200 response.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Accepted sends a 202 response for async submissions.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Pagination is the metadata attached to list responses.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	TotalPage   int   `json:"total_page"`
	Size        int   `json:"size"`
	HasNextPage bool  `json:"has_next_page"`
}

// Paginated sends a 200 list response with pagination metadata.
func Paginated(c *gin.Context, data interface{}, p Pagination) {
	c.JSON(http.StatusOK, gin.H{"data": data, "pagination": p})
}

// NotFound sends a 404 with the uniform error body.
func NotFound(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, errorBody{
		ErrorKind: errkind.Validation,
		Message:   message,
	})
}

// Error maps a pipeline error onto an HTTP status and the uniform body.
func Error(c *gin.Context, err error) {
	var e *errkind.Error
	if !errors.As(err, &e) {
		e = errkind.Wrap(errkind.Internal, err, "internal error")
	}

	body := errorBody{ErrorKind: e.Kind, Message: e.Message, Details: e.Details}
	if e.Kind == errkind.ProviderError && e.Retryable {
		if body.Details == nil {
			body.Details = map[string]interface{}{}
		}
		body.Details["retryable"] = true
	}

	c.AbortWithStatusJSON(statusOf(e.Kind), body)
}

func statusOf(kind errkind.Kind) int {
	switch kind {
	case errkind.Validation:
		return http.StatusUnprocessableEntity
	case errkind.InsufficientCredits:
		return http.StatusPaymentRequired
	case errkind.Overloaded:
		return http.StatusTooManyRequests
	case errkind.ProviderError:
		return http.StatusBadGateway
	case errkind.CircuitOpen:
		return http.StatusServiceUnavailable
	case errkind.Cancelled:
		return http.StatusConflict
	case errkind.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
