package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/toruai/steering-plugins/internal/errs"
)

// apiError is the JSON error response shape.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respondError writes err as a JSON error response, mapping an *errs.Error
// to its registered HTTP status and otherwise falling back to 500.
func respondError(c *gin.Context, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		c.JSON(errs.HTTPStatus(e.Kind), gin.H{"error": apiError{Kind: string(e.Kind), Message: e.Error()}})
		return
	}
	c.JSON(500, gin.H{"error": apiError{Kind: string(errs.Fatal), Message: err.Error()}})
}
