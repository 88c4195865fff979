package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrOutOfRange     = errors.New("index out of range")
	ErrStaleState     = errors.New("stale derived state")
	ErrNotAligned     = errors.New("corpus not aligned")
	ErrEmptyResultSet = errors.New("empty result set")
	ErrConcNotFound   = errors.New("concordance not found")
	ErrDiscarded      = errors.New("result set discarded")
	ErrCalcFailed     = errors.New("concordance calculation failed")
	ErrCalcTimeout    = errors.New("concordance calculation timed out")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrConcNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrEmptyResultSet), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAligned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, ErrDiscarded):
		return http.StatusGone
	case errors.Is(err, ErrCalcTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
