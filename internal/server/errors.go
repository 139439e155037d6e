package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// statusFor maps structured error codes onto the HTTP surface:
// validation 400, absence 404, path escapes 403, duplicate registration
// 409, dependency outages retryable 503, timeouts 504, rate limits 429.
func statusFor(code string) int {
	switch code {
	case amerrors.ErrCodeInvalidInput, amerrors.ErrCodeInvalidDocID,
		amerrors.ErrCodeInvalidQuery, amerrors.ErrCodeInvalidFilename,
		amerrors.ErrCodeConfigInvalid, amerrors.ErrCodeMarkdownTooLarge:
		return http.StatusBadRequest
	case amerrors.ErrCodeDocumentNotFound, amerrors.ErrCodeFileNotFound,
		amerrors.ErrCodeAssetNotFound, amerrors.ErrCodeChunkNotFound:
		return http.StatusNotFound
	case amerrors.ErrCodeAccessDenied, amerrors.ErrCodeFilePermission:
		return http.StatusForbidden
	case amerrors.ErrCodeDuplicate:
		return http.StatusConflict
	case amerrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case amerrors.ErrCodeDependencyTimeout, amerrors.ErrCodeJobTimeout:
		return http.StatusGatewayTimeout
	case amerrors.ErrCodeVectorStoreUnavailable, amerrors.ErrCodeParserUnavailable,
		amerrors.ErrCodeConverterUnavailable, amerrors.ErrCodeEncoderUnavailable,
		amerrors.ErrCodeObjectStoreUnavailable, amerrors.ErrCodeLLMUnavailable,
		amerrors.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error      string            `json:"error"`
	Code       string            `json:"code"`
	Retryable  bool              `json:"retryable,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// writeError renders a structured error. Rate-limit errors propagate
// the provider's Retry-After when the error carries one.
func writeError(c *gin.Context, err error) {
	code := amerrors.GetCode(err)
	body := errorBody{
		Error:     amerrors.FormatForUser(err, false),
		Code:      code,
		Retryable: amerrors.IsRetryable(err),
	}
	if ae, ok := err.(*amerrors.AmanError); ok {
		body.Suggestion = ae.Suggestion
		body.Details = ae.Details
		if code == amerrors.ErrCodeRateLimited {
			if after, ok := ae.Details["retry_after_s"]; ok && after != "" {
				c.Header("Retry-After", after)
			}
		}
	}
	c.AbortWithStatusJSON(statusFor(code), body)
}
