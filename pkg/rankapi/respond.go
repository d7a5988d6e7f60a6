package rankapi

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/services"
)

// Error codes carried in the response envelope. The orchestrator-side
// client switches on these, so they are part of the wire contract.
const (
	codeMissingParam = "MISSING_PARAM"
	codeInvalidParam = "INVALID_PARAM"
	codeInvalidBody  = "INVALID_BODY"
	codeNotFound     = "NOT_FOUND"
	codeNoModel      = "NO_MODEL"
	codeRateLimited  = "RATE_LIMITED"
	codeInternal     = "INTERNAL"
)

// apiError is the error half of the response envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the wire shape every endpoint answers with: exactly one of
// data or error is set.
type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

func respondData(c *echo.Context, status int, data any) error {
	return c.JSON(status, &envelope{Data: data})
}

func respondError(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, &envelope{Error: &apiError{Code: code, Message: message}})
}

// respondServiceError maps service-layer errors onto the envelope.
func respondServiceError(c *echo.Context, err error) error {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		code := codeInvalidParam
		if validErr.Message == "required" {
			code = codeMissingParam
		}
		return respondError(c, http.StatusBadRequest, code, validErr.Error())
	}
	if errors.Is(err, services.ErrRateLimited) {
		return respondError(c, http.StatusTooManyRequests, codeRateLimited,
			"hourly community feedback limit reached")
	}
	if errors.Is(err, services.ErrNotFound) {
		return respondError(c, http.StatusNotFound, codeNotFound, "resource not found")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return respondError(c, http.StatusInternalServerError, codeInternal, "internal server error")
}
