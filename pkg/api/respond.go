package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/services"
)

// Error codes carried in the error envelope. Success payloads are returned
// bare; only failures are wrapped.
const (
	codeMissingParam = "MISSING_PARAM"
	codeInvalidParam = "INVALID_PARAM"
	codeInvalidBody  = "INVALID_BODY"
	codeNotFound     = "NOT_FOUND"
	codeInternal     = "INTERNAL"
)

// apiError is the body of the error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope is the wire shape of every failure response.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, &errorEnvelope{Error: apiError{Code: code, Message: message}})
}

// respondServiceError maps service-layer errors onto the error envelope.
func respondServiceError(c *echo.Context, err error) error {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		code := codeInvalidParam
		if validErr.Message == "required" {
			code = codeMissingParam
		}
		return respondError(c, http.StatusBadRequest, code, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return respondError(c, http.StatusNotFound, codeNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrNotCancellable) {
		return respondError(c, http.StatusConflict, codeInvalidParam, "run is not in a cancellable state")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return respondError(c, http.StatusConflict, codeInvalidParam, "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return respondError(c, http.StatusInternalServerError, codeInternal, "internal server error")
}
