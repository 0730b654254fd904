package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "relay/pkg/errors"
)

type Repository interface {
	GetActiveRules(ctx context.Context) ([]RoutingRule, error)
	List(ctx context.Context) ([]RoutingRule, error)
	Get(ctx context.Context, id string) (*RoutingRule, error)
	Create(ctx context.Context, rule *RoutingRule) error
	Update(ctx context.Context, rule *RoutingRule) error
	Delete(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, name, field, operator, value, expression, destination, stop_on_match, position, enabled, created_at, updated_at`

func (r *PostgresRepository) GetActiveRules(ctx context.Context) ([]RoutingRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM routing_rules
		WHERE enabled = true
		ORDER BY position ASC, created_at ASC
	`
	return r.queryRules(ctx, query)
}

func (r *PostgresRepository) List(ctx context.Context) ([]RoutingRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM routing_rules
		ORDER BY position ASC, created_at ASC
	`
	return r.queryRules(ctx, query)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*RoutingRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM routing_rules
		WHERE id = $1
	`
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("rule_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rule *RoutingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	value, err := json.Marshal(rule.Value)
	if err != nil {
		return fmt.Errorf("failed to encode rule value: %w", err)
	}

	query := `
		INSERT INTO routing_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Field, rule.Operator, value, rule.Expression,
		rule.Destination, rule.StopOnMatch, rule.Position, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("rule with name %q already exists", rule.Name))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rule *RoutingRule) error {
	rule.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(rule.Value)
	if err != nil {
		return fmt.Errorf("failed to encode rule value: %w", err)
	}

	query := `
		UPDATE routing_rules
		SET name = $2, field = $3, operator = $4, value = $5, expression = $6,
		    destination = $7, stop_on_match = $8, position = $9, enabled = $10,
		    updated_at = $11
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Field, rule.Operator, value, rule.Expression,
		rule.Destination, rule.StopOnMatch, rule.Position, rule.Enabled,
		rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("rule with name %q already exists", rule.Name))
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrNotFound.WithDetail("rule_id", rule.ID)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrNotFound.WithDetail("rule_id", id)
	}
	return nil
}

func (r *PostgresRepository) queryRules(ctx context.Context, query string) ([]RoutingRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*RoutingRule, error) {
	var rule RoutingRule
	var value []byte
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Field, &rule.Operator, &value, &rule.Expression,
		&rule.Destination, &rule.StopOnMatch, &rule.Position, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(value) > 0 {
		if err := json.Unmarshal(value, &rule.Value); err != nil {
			return nil, fmt.Errorf("failed to decode rule value: %w", err)
		}
	}
	return &rule, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
