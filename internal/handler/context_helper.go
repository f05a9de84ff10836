package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/card-audit-agent/internal/middleware"
	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextOperatorKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func requireOperator(c *gin.Context) (*models.JWTClaims, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.OperatorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
