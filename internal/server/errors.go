package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-voicechat/internal/types"
)

const (
	TagInvalidPayload = "INVALID_PAYLOAD"
	TagNotFound       = "NOT_FOUND"
	TagUnknownEvent   = "UNKNOWN_EVENT"
	TagException      = "EXCEPTION_ERROR"
)

const serverErrorMessage = "An error occurred, please try again later."

// ValidationError is a caller mistake: a malformed payload or a reference to
// something that does not exist.
type ValidationError struct {
	Part       string
	Tag        string
	Message    string
	StatusCode int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", strings.ToLower(e.Part), e.Message)
}

func newValidationError(part, message string) *ValidationError {
	return &ValidationError{
		Part:       strings.ToUpper(part),
		Tag:        TagInvalidPayload,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func newNotFoundError(what string) *ValidationError {
	return &ValidationError{
		Part:       strings.ToUpper(what),
		Tag:        TagNotFound,
		Message:    what + " not found",
		StatusCode: http.StatusNotFound,
	}
}

func isNotFound(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) && verr.Tag == TagNotFound
}

// ServerError wraps an unexpected failure. Only Part and Tag reach the
// client; Err is logged.
type ServerError struct {
	Part string
	Tag  string
	Err  error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s", e.Part, e.Tag, e.Err.Error())
	}

	return fmt.Sprintf("%s [%s]", e.Part, e.Tag)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func NewServerError(part string, err error) *ServerError {
	return &ServerError{
		Part: part,
		Tag:  TagException,
		Err:  err,
	}
}

// toClientError converts any handler error into the payload of an error
// event. Errors outside the taxonomy become a ServerError with a fixed
// message.
func toClientError(part string, err error) types.Error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return types.Error{
			Name:       "ValidationError",
			Message:    verr.Message,
			Part:       verr.Part,
			Tag:        verr.Tag,
			StatusCode: verr.StatusCode,
		}
	}

	var serr *ServerError
	if !errors.As(err, &serr) {
		serr = NewServerError(part, err)
	}

	return types.Error{
		Name:       "ServerError",
		Message:    serverErrorMessage,
		Part:       serr.Part,
		Tag:        serr.Tag,
		StatusCode: http.StatusInternalServerError,
	}
}
