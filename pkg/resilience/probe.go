package resilience

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Prober answers whether the primary store is reachable right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// DBProber runs a trivial round trip against the database.
type DBProber struct {
	db database.DB
}

func NewDBProber(db database.DB) *DBProber {
	return &DBProber{db: db}
}

func (p *DBProber) Probe(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowxContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store probe failed: %w", err)
	}
	return nil
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}
