package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records push, callback and status-query requests after the response is written.
// Plain status reads are not audited.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodPost {
			return
		}
		action, resourceType := mapRouteToAction(c.FullPath())
		if action == "" {
			return
		}

		resourceID := c.Param("id")
		if id := c.GetString(CtxResourceID); id != "" {
			resourceID = id
		}

		var subject *string
		if sub := Subject(c); sub != "" {
			subject = &sub
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(response.RequestIDKey),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Subject:      subject,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route string) (domain.AuditAction, string) {
	switch route {
	case "/payments/push":
		return domain.AuditActionPushInitiated, "transaction"
	case "/payments/callback":
		return domain.AuditActionCallbackReceived, "callback"
	case "/payments/status/:id/query":
		return domain.AuditActionStatusQueried, "transaction"
	}
	return "", ""
}
