package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindSchemaDrift       Kind = "schema_drift"
	KindSyncMismatch      Kind = "sync_mismatch"
)

var statusCodes = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindInvalidTransition: http.StatusUnprocessableEntity,
	KindValidation:        http.StatusBadRequest,
	KindStoreUnavailable:  http.StatusServiceUnavailable,
	KindSchemaDrift:       http.StatusServiceUnavailable,
	KindSyncMismatch:      http.StatusConflict,
}

// EngineError is the error type returned by the workflow engine and the
// resilience layer.
type EngineError struct {
	Kind    Kind
	Message string
	Err     error
	Meta    map[string]any
}

func (e *EngineError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any *EngineError of the same kind, so errors.Is(err, ErrNotFound)
// works without comparing messages.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func (e *EngineError) AddMeta(key string, value any) *EngineError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

// StatusCode returns the HTTP status the kind maps to.
func (e *EngineError) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *EngineError) ToHTTPError() *httperror.HTTPError {
	message := e.Message
	if message == "" {
		message = e.Error()
	}
	httpErr := httperror.NewHTTPError(e.StatusCode(), message).AddMetaValue("kind", string(e.Kind))
	for k, v := range e.Meta {
		httpErr = httpErr.AddMetaValue(k, v)
	}
	return httpErr
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &EngineError{Kind: KindNotFound}
	ErrInvalidTransition = &EngineError{Kind: KindInvalidTransition}
	ErrValidation        = &EngineError{Kind: KindValidation}
	ErrStoreUnavailable  = &EngineError{Kind: KindStoreUnavailable}
	ErrSchemaDrift       = &EngineError{Kind: KindSchemaDrift}
	ErrSyncMismatch      = &EngineError{Kind: KindSyncMismatch}
)

func New(kind Kind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *EngineError {
	return New(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...any) *EngineError {
	return New(KindInvalidTransition, format, args...)
}

func Validation(format string, args ...any) *EngineError {
	return New(KindValidation, format, args...)
}

func StoreUnavailable(err error) *EngineError {
	return Wrap(KindStoreUnavailable, err, "store temporarily unavailable")
}

func SchemaDrift(err error) *EngineError {
	return Wrap(KindSchemaDrift, err, "store schema is out of date")
}

func SyncMismatch(format string, args ...any) *EngineError {
	return New(KindSyncMismatch, format, args...)
}

// KindOf returns the kind of the first *EngineError in err's chain.
func KindOf(err error) (Kind, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	ok := errors.As(err, &engineErr)
	return engineErr, ok
}
