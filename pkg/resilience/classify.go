package resilience

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
)

// driftCodes are the Postgres errors raised when the schema does not have the
// shape the repositories expect.
var driftCodes = map[string]bool{
	"42703": true, // undefined_column
	"42704": true, // undefined_object
	"42P01": true, // undefined_table
	"23514": true, // check_violation
}

// Classify maps an error from the primary store onto the engine's taxonomy.
// Engine errors pass through untouched. Anything the store cannot explain as
// a constraint or a schema problem counts as the store being unavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsEngineError(err); ok {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "23505":
			return apperrors.Wrap(apperrors.KindValidation, err, "conflicting write")
		case code == "23503":
			return apperrors.Wrap(apperrors.KindNotFound, err, "referenced row does not exist")
		case driftCodes[code]:
			return apperrors.SchemaDrift(err)
		}
	}
	return apperrors.StoreUnavailable(err)
}

// Reason labels an unavailability cause for logs and metrics.
func Reason(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case strings.HasPrefix(code, "08"):
			return "connection"
		case strings.HasPrefix(code, "53"):
			return "resources"
		case strings.HasPrefix(code, "57P"):
			return "shutdown"
		}
		return "pq_" + code
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &netErr):
		return "connection"
	}
	return "unknown"
}

// isDomain reports whether err is a business outcome the caller must see
// as-is, regardless of which store produced it.
func isDomain(err error) bool {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case apperrors.KindNotFound, apperrors.KindInvalidTransition, apperrors.KindValidation, apperrors.KindSyncMismatch:
		return true
	}
	return false
}
