package handler

import (
	"stk-push-gateway/internal/adapter/http/middleware"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies, callbacks included.
const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	StatusSvc      ports.StatusService
	Callbacks      ports.CallbackProcessor
	TokenSvc       ports.TokenService        // nil = collaborator routes unauthenticated
	RateLimitStore middleware.RateLimitStore // nil = rate limiting disabled
	AuditSvc       ports.AuditService        // nil = audit logging disabled
	HealthCheckers []ports.HealthChecker
	SwaggerSpec    []byte
	Clock          clock.Clock
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec(deps.SwaggerSpec))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Clock, deps.Logger)
	}

	var auth gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.TokenSvc != nil {
		auth = middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	}

	payments := r.Group("/payments")

	// Provider webhook: never authenticated or rate limited.
	callbackHandler := NewCallbackHandler(deps.Callbacks, deps.Logger)
	payments.POST("/callback", callbackHandler.Callback)

	paymentHandler := NewPaymentHandler(deps.PaymentSvc, deps.StatusSvc)
	collab := payments.Group("", auth)
	{
		collab.POST("/push", rl("push"), paymentHandler.Push)
		collab.GET("/status/:id", rl("status"), paymentHandler.Status)
		collab.POST("/status/:id/query", rl("query"), paymentHandler.Query)
	}

	return r
}
