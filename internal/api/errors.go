package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{service.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{service.ErrConflict, http.StatusConflict, "conflict"},
}

// respondError writes err as {"error": kind, "message": text}. Unclassified errors are
// logged and reported as a generic 500.
func respondError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			c.AbortWithStatusJSON(k.status, gin.H{
				"error":   k.kind,
				"message": err.Error(),
			})
			return
		}
	}

	util.GetLogger().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "internal server error",
	})
}
