package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

// Store is the Postgres-backed workflow store. Transactions ride on the
// context, so every repository call made inside WithinTx joins it.
type Store struct {
	*TemplateRepository
	*EntityRepository
	*StepRepository
	db database.DB
}

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		TemplateRepository: NewTemplateRepository(db, logger),
		EntityRepository:   NewEntityRepository(db, logger),
		StepRepository:     NewStepRepository(db, logger),
		db:                 db,
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, s.db, fn)
}

// DB returns the database the store runs against.
func (s *Store) DB() database.DB {
	return s.db
}

var (
	_ workflow.TemplateStore = (*TemplateRepository)(nil)
	_ workflow.EntityStore   = (*EntityRepository)(nil)
	_ workflow.StepStore     = (*StepRepository)(nil)
	_ workflow.Store         = (*Store)(nil)
)
