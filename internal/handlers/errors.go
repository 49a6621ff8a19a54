package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/oralscan/internal/inference"
	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/repository"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps a use case error to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case intake.IsClientError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "analysis not found"
	}

	var inferenceErr *inference.Error
	if errors.As(err, &inferenceErr) {
		if inferenceErr.Kind == inference.KindRejected {
			return http.StatusUnprocessableEntity, "the image could not be analysed, please submit a clear photo"
		}
		return http.StatusBadGateway, "analysis service unavailable, please try again later"
	}
	return http.StatusInternalServerError, "internal server error"
}

// failWith records err on the gin context and writes the mapped envelope.
func failWith(c *gin.Context, err error) {
	status, message := statusFor(err)
	_ = c.Error(err)
	respondError(c, status, message)
}
