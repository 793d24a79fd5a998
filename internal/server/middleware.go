package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/rollout/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	HeaderTenant     = "X-Tenant-ID"
	HeaderActorID    = "X-Actor-ID"
	HeaderActorEmail = "X-Actor-Email"
	HeaderRequestID  = "X-Request-ID"
)

// RequestID assigns an ID to each request, honoring one supplied by the
// caller, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

const contextRequestIDKey = "request_id"

// APIKeyRequired authenticates SDK requests with a bearer API key.
// Tenant and environment identity is derived solely from the api_keys
// table; requests carrying an explicit tenant header are rejected.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader(HeaderTenant)) != "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.resolver.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), identity.TenantID)
		ctx = tenantctx.WithEnvironment(ctx, identity.Environment)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantRequired authenticates control-plane requests with an explicit
// tenant header, optionally carrying actor identity for audit trails.
func (s *Server) TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		tenantID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		actorEmail := strings.TrimSpace(c.GetHeader(HeaderActorEmail))
		if actorID != "" || actorEmail != "" {
			ctx = tenantctx.WithActor(ctx, tenantctx.Actor{ID: actorID, Email: actorEmail})
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("request_id", c.GetString(contextRequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
