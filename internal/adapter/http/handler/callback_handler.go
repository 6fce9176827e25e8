package handler

import (
	"io"
	"net/http"

	"stk-push-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CallbackHandler receives provider webhooks. It always answers 200 with the
// provider's acknowledgement body, even for payloads it cannot use.
type CallbackHandler struct {
	processor ports.CallbackProcessor
	log       zerolog.Logger
}

func NewCallbackHandler(processor ports.CallbackProcessor, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{processor: processor, log: log}
}

// Callback handles POST /payments/callback.
func (h *CallbackHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn().Err(err).Int("bytes", len(body)).Msg("callback body could not be read")
	}
	c.JSON(http.StatusOK, h.processor.HandleCallback(c.Request.Context(), body))
}
