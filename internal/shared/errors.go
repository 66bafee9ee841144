package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotLoaded   = errors.New("model not loaded")
	ErrClosed      = errors.New("session closed")
	ErrRateLimited = errors.New("too many sessions")
)

type APIError struct {
	Code    string `json:"code" example:"invalid_body"`
	Message string `json:"message" example:"Text is required"`
	Details any    `json:"details,omitempty" swaggertype:"object"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func PayloadTooLarge(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusRequestEntityTooLarge)
}

func TooManyRequests(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusTooManyRequests)
}

func ServiceUnavailable(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusServiceUnavailable)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// ResponseError reads a failed HTTP response into a StatusError, decoding an
// APIError body when there is one.
func ResponseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return &StatusError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
