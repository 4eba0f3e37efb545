package guardrails

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "finsight/internal/common/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func ruleColumns() []string {
	return []string{
		"id", "name", "rule_type", "pattern", "action", "severity",
		"message", "replacement", "priority", "enabled", "created_at", "updated_at",
	}
}

func TestListActiveReturnsRulesInPriorityOrder(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(ruleColumns()).
		AddRow("r1", "card numbers", "regex", `\d{16}`, "transform", "high", "", "[CARD]", 1, true, now, now).
		AddRow("r2", "secrets", "keyword", "password,pin", "block", "critical", "Not allowed.", "", 2, true, now, now)

	mock.ExpectQuery("SELECT id, name, rule_type").
		WillReturnRows(rows)

	rules, err := store.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "[CARD]", rules[0].Replacement)
	assert.Equal(t, "block", rules[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveWrapsQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, rule_type").
		WillReturnError(sql.ErrConnDone)

	_, err := store.ListActive(context.Background())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRuleLoadFailed, apperrors.CodeOf(err))
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO guardrail_rules").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rule := &Rule{
		Name:     "secrets",
		RuleType: RuleTypeKeyword,
		Pattern:  "password",
		Action:   ActionBlock,
		Severity: SeverityCritical,
		Enabled:  true,
	}
	err := store.Create(context.Background(), rule)

	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRule(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE guardrail_rules").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &Rule{ID: "missing"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInputInvalid, apperrors.CodeOf(err))
}

func TestDeleteRule(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM guardrail_rules").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRuleReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, rule_type").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(ruleColumns()))

	rule, err := store.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, rule)
}
