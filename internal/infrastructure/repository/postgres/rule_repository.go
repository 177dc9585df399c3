package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
)

type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026090102)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	conditions JSONB NOT NULL DEFAULT '{}'::jsonb,
	actions JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_owner_active ON rules(owner_id, is_active);

CREATE TABLE IF NOT EXISTS rule_applications (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	line_item_index INTEGER NOT NULL,
	applied_code TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	was_overridden BOOLEAN NOT NULL DEFAULT FALSE,
	applied_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, rule_id, line_item_index)
);

CREATE INDEX IF NOT EXISTS idx_rule_applications_document ON rule_applications(document_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RuleRepository) Create(ctx context.Context, rule *domain.Rule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO rules (id, owner_id, name, priority, is_active, conditions, actions, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		rule.ID, rule.OwnerID, rule.Name, rule.Priority, rule.IsActive,
		conditionsJSON, actionsJSON, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	return r.queryRules(ctx, `
SELECT id, owner_id, name, priority, is_active, conditions, actions, created_at, updated_at
FROM rules
WHERE owner_id = $1
ORDER BY priority DESC, created_at ASC
`, ownerID)
}

func (r *RuleRepository) GetActiveRules(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	return r.queryRules(ctx, `
SELECT id, owner_id, name, priority, is_active, conditions, actions, created_at, updated_at
FROM rules
WHERE owner_id = $1 AND is_active
ORDER BY priority DESC, created_at ASC
`, ownerID)
}

func (r *RuleRepository) queryRules(ctx context.Context, query, ownerID string) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var conditionsRaw, actionsRaw []byte
		if err := rows.Scan(
			&rule.ID, &rule.OwnerID, &rule.Name, &rule.Priority, &rule.IsActive,
			&conditionsRaw, &actionsRaw, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal(conditionsRaw, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
		if err := json.Unmarshal(actionsRaw, &rule.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (r *RuleRepository) InsertApplication(ctx context.Context, app *domain.RuleApplication) error {
	appliedAt := app.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}

	// Reprocessing re-applies rules to the same line items; the unique key
	// turns the insert into an idempotent upsert.
	_, err := r.db.ExecContext(ctx, `
INSERT INTO rule_applications (id, document_id, rule_id, line_item_index, applied_code, confidence, was_overridden, applied_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (document_id, rule_id, line_item_index) DO UPDATE
SET applied_code = EXCLUDED.applied_code,
	confidence = EXCLUDED.confidence,
	was_overridden = FALSE,
	applied_at = EXCLUDED.applied_at
`,
		app.ID, app.DocumentID, app.RuleID, app.LineItemIndex,
		app.AppliedCode, app.Confidence, app.WasOverridden, appliedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule application: %w", err)
	}
	return nil
}

func (r *RuleRepository) MarkOverridden(ctx context.Context, applicationID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE rule_applications
SET was_overridden = TRUE
WHERE id = $1
`, applicationID)
	if err != nil {
		return fmt.Errorf("mark application overridden: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrApplicationNotFound, "mark overridden", fmt.Errorf("id %s", applicationID))
	}
	return nil
}

func (r *RuleRepository) ListApplications(ctx context.Context, documentID string) ([]domain.RuleApplication, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, rule_id, line_item_index, applied_code, confidence, was_overridden, applied_at
FROM rule_applications
WHERE document_id = $1
ORDER BY line_item_index ASC, applied_at ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query rule applications: %w", err)
	}
	defer rows.Close()

	var apps []domain.RuleApplication
	for rows.Next() {
		var app domain.RuleApplication
		if err := rows.Scan(
			&app.ID, &app.DocumentID, &app.RuleID, &app.LineItemIndex,
			&app.AppliedCode, &app.Confidence, &app.WasOverridden, &app.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule applications: %w", err)
	}
	return apps, nil
}
