package repositories

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const schemaLockKey = "fern_schema_heal"

type column struct {
	name       string
	definition string
}

// expectedColumns lists every column the repositories read or write. Columns
// added here must be nullable or carry a default so existing rows survive.
var expectedColumns = map[string][]column{
	templatesTable: {
		{"name", "TEXT NOT NULL DEFAULT ''"},
		{"description", "TEXT"},
		{"is_active", "BOOLEAN NOT NULL DEFAULT TRUE"},
		{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	},
	templateStepsTable: {
		{"name", "TEXT NOT NULL DEFAULT ''"},
		{"description", "TEXT"},
		{"step_order", "INTEGER NOT NULL DEFAULT 0"},
		{"estimated_duration", "INTEGER"},
		{"weight", "DOUBLE PRECISION"},
		{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	},
	entitiesTable: {
		{"company", "TEXT"},
		{"status", "TEXT NOT NULL DEFAULT 'in_progress'"},
		{"template_id", "UUID"},
		{"probability", "INTEGER NOT NULL DEFAULT 0"},
		{"metadata", "JSONB NOT NULL DEFAULT '{}'::jsonb"},
		{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	},
	stepsTable: {
		{"description", "TEXT"},
		{"status", "TEXT NOT NULL DEFAULT 'pending'"},
		{"step_order", "INTEGER NOT NULL DEFAULT 0"},
		{"weight", "DOUBLE PRECISION"},
		{"due_date", "TIMESTAMPTZ"},
		{"completed_date", "TIMESTAMPTZ"},
		{"estimated_duration", "INTEGER"},
		{"assignee", "TEXT"},
		{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	},
}

// tableOrder keeps DDL deterministic.
var tableOrder = []string{templatesTable, templateStepsTable, entitiesTable, stepsTable}

type constraint struct {
	table      string
	name       string
	definition string
}

// managedConstraints are dropped and recreated on every heal so their
// definitions always match what the code expects.
var managedConstraints = []constraint{
	{templateStepsTable, "pipeline_template_steps_order_key", "UNIQUE (template_id, step_order) DEFERRABLE INITIALLY IMMEDIATE"},
	{templateStepsTable, "pipeline_template_steps_weight_check", "CHECK (weight IS NULL OR (weight >= 0 AND weight <= 100))"},
	{entitiesTable, "pipeline_entities_kind_check", "CHECK (kind IN ('lead', 'vc'))"},
	{entitiesTable, "pipeline_entities_status_check", "CHECK (status IN ('in_progress', 'won', 'lost', 'completed'))"},
	{entitiesTable, "pipeline_entities_probability_check", "CHECK (probability BETWEEN 0 AND 100)"},
	{stepsTable, "pipeline_steps_order_key", "UNIQUE (entity_id, step_order) DEFERRABLE INITIALLY IMMEDIATE"},
	{stepsTable, "pipeline_steps_status_check", "CHECK (status IN ('pending', 'in_progress', 'completed', 'cancelled'))"},
	{stepsTable, "pipeline_steps_weight_check", "CHECK (weight IS NULL OR (weight >= 0 AND weight <= 100))"},
}

var sequences = []string{"lead_code_seq", "vc_code_seq"}

// SchemaHealer brings an existing database up to the column and constraint
// shape the repositories expect. Every statement is idempotent.
type SchemaHealer struct {
	db     database.DB
	logger ectologger.Logger
}

func NewSchemaHealer(db database.DB, logger ectologger.Logger) *SchemaHealer {
	return &SchemaHealer{db: db, logger: logger}
}

// Statements returns the DDL Ensure runs, in order.
func (h *SchemaHealer) Statements() []string {
	var statements []string
	for _, seq := range sequences {
		statements = append(statements, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", seq))
	}
	for _, table := range tableOrder {
		for _, c := range expectedColumns[table] {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, c.name, c.definition))
		}
	}
	for _, c := range managedConstraints {
		statements = append(statements,
			fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", c.table, c.name),
			fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", c.table, c.name, c.definition),
		)
	}
	return statements
}

// Ensure applies Statements in one transaction, serialized across instances
// with an advisory lock.
func (h *SchemaHealer) Ensure(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "SchemaHealer.Ensure")
	defer span.End()

	statements := h.Statements()
	err := database.WithTx(ctx, h.db, func(ctx context.Context) error {
		q := database.GetQuerier(ctx, h.db)
		if _, err := q.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", schemaLockKey); err != nil {
			return fmt.Errorf("failed to acquire schema lock: %w", err)
		}
		for _, stmt := range statements {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				h.logger.WithContext(ctx).WithError(err).WithField("statement", stmt).Error("schema heal statement failed")
				return fmt.Errorf("failed to heal schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithField("statements", len(statements)).Info("Schema ensured")
	return nil
}
