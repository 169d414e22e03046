package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Коды ошибок API.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeMissingCover    = "MISSING_COVER_IMAGE"
	ErrCodeUpstream        = "UPSTREAM_FAILURE"
	ErrCodeVideoTimeout    = "VIDEO_TIMEOUT"
	ErrCodeStorageQuota    = "STORAGE_QUOTA_EXCEEDED"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeTaskNotFound    = "TASK_NOT_FOUND"
	ErrCodeDispatchFailure = "DISPATCH_FAILED"
)

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp ErrorResponse

	switch {
	case errors.Is(err, models.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		errResp = ErrorResponse{Code: ErrCodeBadRequest, Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		errResp = ErrorResponse{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, models.ErrMissingCoverImage):
		statusCode = http.StatusUnprocessableEntity
		errResp = ErrorResponse{Code: ErrCodeMissingCover, Message: "Story has no cover image to animate"}
	case errors.Is(err, models.ErrVideoJobTimeout):
		statusCode = http.StatusGatewayTimeout
		errResp = ErrorResponse{Code: ErrCodeVideoTimeout, Message: err.Error()}
	case errors.Is(err, models.ErrInvalidAIResponse),
		errors.Is(err, models.ErrImageGenerationFailed),
		errors.Is(err, models.ErrProviderFailure),
		errors.Is(err, models.ErrVideoJobFailed):
		statusCode = http.StatusBadGateway
		errResp = ErrorResponse{Code: ErrCodeUpstream, Message: err.Error()}
	case errors.Is(err, models.ErrStorageQuotaExceeded):
		statusCode = http.StatusInsufficientStorage
		errResp = ErrorResponse{Code: ErrCodeStorageQuota, Message: "Storage quota exceeded"}
	case errors.Is(err, models.ErrGenerationCancelled), errors.Is(err, ErrShuttingDown):
		statusCode = http.StatusServiceUnavailable
		errResp = ErrorResponse{Code: ErrCodeUnavailable, Message: err.Error()}
	default:
		zap.L().Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = ErrorResponse{Code: ErrCodeInternal, Message: "An unexpected internal error occurred"}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(statusCode, errResp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: ErrCodeBadRequest, Message: message})
}
