package server

import (
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/membership/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	headerRequestID    = "X-Request-ID"
	headerOrganization = "X-Organization-ID"
	ctxRequestID       = "request_id"
)

// RequestID keeps an inbound request id or mints a ULID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 64 {
			id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("request_id", c.GetString(ctxRequestID)),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorBody{
			Type:    "internal_error",
			Message: "internal server error",
		}})
	})
}

// RequireOrganization scopes the request to the organization named in the
// X-Organization-ID header.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerOrganization))
		id, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || id == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) orgIDFromContext(c *gin.Context) snowflake.ID {
	id, _ := orgcontext.OrgIDFromContext(c.Request.Context())
	return id
}
