package guardrails

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	apperrors "finsight/internal/common/errors"
)

// Store persists guardrail rules in Postgres. Every write goes through the
// store so the engine cache can be invalidated alongside it.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const listActiveQuery = `
	SELECT id, name, rule_type, pattern, action, severity,
	       COALESCE(message, ''), COALESCE(replacement, ''),
	       priority, enabled, created_at, updated_at
	FROM guardrail_rules
	WHERE enabled = true
	ORDER BY priority ASC, created_at ASC`

// ListActive returns the enabled rules in evaluation order.
func (s *Store) ListActive(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, listActiveQuery)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to load guardrail rules", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(
			&r.ID, &r.Name, &r.RuleType, &r.Pattern, &r.Action, &r.Severity,
			&r.Message, &r.Replacement, &r.Priority, &r.Enabled,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to scan guardrail rule", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to iterate guardrail rules", err)
	}
	return rules, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	const query = `
		SELECT id, name, rule_type, pattern, action, severity,
		       COALESCE(message, ''), COALESCE(replacement, ''),
		       priority, enabled, created_at, updated_at
		FROM guardrail_rules
		WHERE id = $1`

	var r Rule
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Name, &r.RuleType, &r.Pattern, &r.Action, &r.Severity,
		&r.Message, &r.Replacement, &r.Priority, &r.Enabled,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to load guardrail rule", err)
	}
	return &r, nil
}

func (s *Store) Create(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	const query = `
		INSERT INTO guardrail_rules
			(id, name, rule_type, pattern, action, severity, message,
			 replacement, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.RuleType, r.Pattern, r.Action, r.Severity,
		r.Message, r.Replacement, r.Priority, r.Enabled, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to create guardrail rule", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, r *Rule) error {
	r.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE guardrail_rules
		SET name = $2, rule_type = $3, pattern = $4, action = $5,
		    severity = $6, message = $7, replacement = $8,
		    priority = $9, enabled = $10, updated_at = $11
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.RuleType, r.Pattern, r.Action, r.Severity,
		r.Message, r.Replacement, r.Priority, r.Enabled, r.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to update guardrail rule", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeInputInvalid, "guardrail rule not found")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM guardrail_rules WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeRuleLoadFailed, "failed to delete guardrail rule", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeInputInvalid, "guardrail rule not found")
	}
	return nil
}
