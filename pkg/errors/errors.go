package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingEnv    = errors.New("required configuration missing")
	ErrJobInProgress = errors.New("publishing job already in progress")
	ErrSQL           = errors.New("database operation failed")
	ErrPurgeFailed   = errors.New("cdn purge failed")
	ErrTimeout       = errors.New("operation timed out")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSearchSync    = errors.New("search index sync failed")
	ErrInternal      = errors.New("internal error")
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
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrJobInProgress):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingEnv):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPurgeFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to the stable machine-readable code reported in admin
// API responses and activity entries. Unknown errors map to sql_error when
// they carry ErrSQL anywhere in their chain, otherwise to internal_error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMissingEnv):
		return "missing_env"
	case errors.Is(err, ErrJobInProgress):
		return "job_in_progress"
	case errors.Is(err, ErrSQL):
		return "sql_error"
	case errors.Is(err, ErrPurgeFailed):
		return "purge_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrSearchSync):
		return "search_sync_failed"
	default:
		return "internal_error"
	}
}
