package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/chat-gateway/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newStatusError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newStatusError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newStatusError(http.StatusNotFound)
}

func NewRequestTooLargeError() *ApiError {
	return newStatusError(http.StatusRequestEntityTooLarge)
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// NewGatewayError maps an error from the chat server to an ApiError. Only
// classified errors expose their message.
func NewGatewayError(err error) *ApiError {
	code := server.StatusCode(err)
	if code == http.StatusInternalServerError {
		return NewInternalServerError(err)
	}

	return &ApiError{
		StatusCode: code,
		Message:    err.Error(),
		Err:        err,
	}
}
