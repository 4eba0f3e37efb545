package agents

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

func profileRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"cif", "full_name", "email", "phone", "age", "occupation",
		"income_bracket", "risk_profile", "marital_status", "education",
	}).AddRow("CIF001", "Andi Wijaya", "andi@example.com", "+628111", 34,
		"engineer", "10-20jt", "moderate", "married", "bachelor")
}

func TestCustomersCanHandle(t *testing.T) {
	agent := NewCustomersAgent(nil, logger.NewNoOpLogger())

	assert.True(t, agent.CanHandle(&intent.QueryContext{RawQuery: "show my profile"}))
	assert.True(t, agent.CanHandle(&intent.QueryContext{RawQuery: "customers similar to me"}))
	assert.False(t, agent.CanHandle(&intent.QueryContext{RawQuery: "how much did I spend?"}))
}

func TestCustomersProfile(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewCustomersAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("JOIN customer_profiles").
		WithArgs("CIF001").
		WillReturnRows(profileRows())

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "my profile", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*CustomerPayload)
	assert.Equal(t, "profile", cp.Kind)
	require.NotNil(t, cp.Profile)
	assert.Equal(t, "Andi Wijaya", cp.Profile.FullName)
	assert.Equal(t, 34, cp.Profile.Age)
	assert.Nil(t, cp.Activity)
}

func TestCustomersCompleteProfile(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewCustomersAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("JOIN customer_profiles").
		WithArgs("CIF001").
		WillReturnRows(profileRows())
	mock.ExpectQuery("customer_promotions").
		WithArgs("CIF001").
		WillReturnRows(sqlmock.NewRows([]string{"tx", "spent", "contacts", "promos"}).
			AddRow(128, 8400000.0, 14, 3))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "my complete profile", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*CustomerPayload)
	assert.Equal(t, "complete", cp.Kind)
	require.NotNil(t, cp.Activity)
	assert.Equal(t, 128, cp.Activity.TransactionCount)
	assert.Equal(t, 8400000.0, cp.Activity.TotalSpent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomersSegmentExcludesRequester(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewCustomersAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("JOIN customer_profiles").
		WithArgs("CIF001").
		WillReturnRows(profileRows())
	mock.ExpectQuery("c.cif <> \\$1").
		WithArgs("CIF001", 34, "10-20jt", "moderate").
		WillReturnRows(sqlmock.NewRows([]string{"occupation", "count"}).
			AddRow("engineer", 12).
			AddRow("teacher", 5))
	mock.ExpectQuery("GROUP BY t.category").
		WithArgs("CIF001", 34, "10-20jt", "moderate").
		WillReturnRows(sqlmock.NewRows([]string{"category", "total", "count"}).
			AddRow("food", 9000000.0, 210).
			AddRow("transport", 4000000.0, 95))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "customers similar to me", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*CustomerPayload)
	assert.Equal(t, "segment", cp.Kind)
	require.NotNil(t, cp.Cohort)
	assert.Equal(t, 17, cp.Cohort.Size)
	assert.Equal(t, "engineer", cp.Cohort.ModalOccupation)
	require.Len(t, cp.Cohort.TopCategories, 2)
	assert.Equal(t, "food", cp.Cohort.TopCategories[0].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomersProfileNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewCustomersAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("JOIN customer_profiles").
		WithArgs("CIF404").
		WillReturnRows(sqlmock.NewRows([]string{"cif"}))

	_, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "my profile", CIF: "CIF404"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNoResults, apperrors.CodeOf(err))
}
