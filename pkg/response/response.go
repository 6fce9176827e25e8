package response

import (
	"net/http"
	"time"

	"stk-push-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Gin context keys shared with the logging middleware.
const (
	RequestIDKey = "request_id"
	ErrorCodeKey = "error_code"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Data: data, RequestID: RequestID(c), Timestamp: timestamp()})
}

// Accepted sends a 202 response. The push is accepted; its outcome arrives later.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse{Data: data, RequestID: RequestID(c), Timestamp: timestamp()})
}

// Error writes the envelope for err. Anything that is not an AppError becomes SYS_001.
// The code, and for server errors the internal cause, are recorded on the context
// for the request logger; the cause never reaches the client.
func Error(c *gin.Context, err error) {
	appErr := apperror.From(err)
	c.Set(ErrorCodeKey, appErr.Code)
	if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}

	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		RequestID: RequestID(c),
		Timestamp: timestamp(),
	})
}

// RequestID returns the correlation id set by the RequestID middleware. Handlers
// mounted without it get a fresh id, which is then reused for the rest of the request.
func RequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(RequestIDKey, id)
	return id
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
