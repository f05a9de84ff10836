package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

// Audit logs operator actions that changed state. Failed requests are not recorded.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if raw, ok := c.Get(ContextOperatorKey); ok {
			if claims, ok := raw.(*models.JWTClaims); ok {
				fields = append(fields, zap.String("operator_id", claims.OperatorID), zap.String("device_id", claims.DeviceID))
			}
		}
		logger.Info("operator audit", fields...)
	}
}
