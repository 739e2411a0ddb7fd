package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/e2ekit/errors"
)

// respondWithError writes an AppError as JSON, or a 500 for any other error.
func respondWithError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.AbortWithStatusJSON(status, appErr.ToResponse())
		return
	}
	internal := errors.Internal(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, internal.ToResponse())
}
