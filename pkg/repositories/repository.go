package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
)

// NotFound returns a not-found engine error with a descriptive message
func NotFound(format string, args ...any) error {
	return apperrors.NotFound(format, args...)
}

// Repository provides common database operations
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// q returns the transaction carried by ctx, or the database itself.
func (r *Repository) q(ctx context.Context) database.Querier {
	return database.GetQuerier(ctx, r.db)
}
