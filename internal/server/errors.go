package server

import (
	"errors"
	"net/http"
)

var (
	ErrNotAParticipant       = errors.New("user is not a participant of this conversation")
	ErrDirectoryUnavailable  = errors.New("directory unavailable")
	ErrAttachmentWriteFailed = errors.New("attachment write failed")
	ErrMalformedPayload      = errors.New("malformed attachment payload")
	ErrAttachmentTooLarge    = errors.New("attachment too large for inline transfer")
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrMessageNotFound       = errors.New("message not found")
	ErrUserMismatch          = errors.New("user does not match announced user")
)

// StatusCode maps a pipeline error to the response code reported to clients.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAParticipant), errors.Is(err, ErrUserMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrAttachmentWriteFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientError returns the text a client may see for err. Unclassified
// errors are not exposed.
func clientError(err error) string {
	if StatusCode(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
