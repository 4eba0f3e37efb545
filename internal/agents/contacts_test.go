package agents

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

func contactRows(rows ...[]driverValue) *sqlmock.Rows {
	r := sqlmock.NewRows([]string{
		"id", "name", "account", "bank", "type", "frequency", "last_transfer", "total",
	})
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

type driverValue = driver.Value

func TestContactsCanHandle(t *testing.T) {
	agent := NewContactsAgent(nil, logger.NewNoOpLogger())

	assert.True(t, agent.CanHandle(&intent.QueryContext{RawQuery: "who do I transfer to most?"}))
	assert.True(t, agent.CanHandle(&intent.QueryContext{
		RawQuery:       "anything",
		ContactFilters: intent.ContactFilters{BankName: "bca"},
	}))
	assert.False(t, agent.CanHandle(&intent.QueryContext{RawQuery: "my spending last month"}))
}

func TestContactsFrequentWithStats(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewContactsAgent(db, logger.NewTestLogger(t))

	last := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("ORDER BY transfer_frequency DESC").
		WillReturnRows(contactRows(
			[]driverValue{"c1", "Budi", "123", "bca", "personal", 18, last, 5400000.0},
			[]driverValue{"c2", "Sari", "456", "mandiri", "personal", 6, last, 900000.0},
		))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "my most frequent contacts", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*ContactsPayload)
	assert.Equal(t, "frequent", cp.Kind)
	require.Len(t, cp.Contacts, 2)
	require.NotNil(t, cp.Stats)
	assert.Equal(t, 24, cp.Stats.TotalFrequency)
	assert.Equal(t, 12.0, cp.Stats.AverageFrequency)
	assert.Equal(t, "Budi", cp.Stats.TopContact)
}

func TestContactsBankBreakdown(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewContactsAgent(db, logger.NewTestLogger(t))

	jan5 := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	jan9 := time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("ORDER BY bank_name ASC").
		WillReturnRows(contactRows(
			[]driverValue{"c1", "Budi", "123", "bca", "personal", 18, jan9, 5400000.0},
			[]driverValue{"c2", "Sari", "456", "bca", "personal", 6, jan5, 900000.0},
			[]driverValue{"c3", "PT Maju", "789", "mandiri", "business", 3, jan5, 15000000.0},
		))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "contacts grouped by bank", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*ContactsPayload)
	assert.Equal(t, "bank_breakdown", cp.Kind)
	require.Len(t, cp.Banks, 2)
	assert.Equal(t, "bca", cp.Banks[0].BankName)
	assert.Equal(t, 2, cp.Banks[0].ContactCount)
	assert.Equal(t, 24, cp.Banks[0].TotalFrequency)
	assert.Equal(t, "2024-01-09T00:00:00Z", cp.Banks[0].MostRecent)
	assert.Len(t, cp.Banks[0].Samples, 2)
}

func TestContactsSearchWithFilters(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewContactsAgent(db, logger.NewTestLogger(t))

	last := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("LOWER\\(bank_name\\) = \\$2").
		WithArgs("CIF001", "bca", "personal", 5, 100).
		WillReturnRows(contactRows(
			[]driverValue{"c1", "Budi", "123", "bca", "personal", 18, last, 5400000.0},
		))

	qc := &intent.QueryContext{
		RawQuery: "find my personal BCA contacts",
		CIF:      "CIF001",
		ContactFilters: intent.ContactFilters{
			BankName:     "bca",
			ContactType:  "personal",
			MinFrequency: 5,
		},
	}
	payload, err := agent.Run(context.Background(), qc)

	require.NoError(t, err)
	cp := payload.(*ContactsPayload)
	assert.Equal(t, "search", cp.Kind)
	require.Len(t, cp.Contacts, 1)
	assert.Equal(t, "bca", cp.Contacts[0].BankName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactsRecentExcludesNullDates(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewContactsAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("last_transfer_date IS NOT NULL").
		WillReturnRows(contactRows(
			[]driverValue{"c2", "Sari", "456", "mandiri", "personal", 6,
				time.Date(2024, time.January, 12, 0, 0, 0, 0, time.UTC), 900000.0},
		))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "most recent transfers", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*ContactsPayload)
	assert.Equal(t, "recent", cp.Kind)
	require.Len(t, cp.Contacts, 1)
	assert.Equal(t, "2024-01-12T00:00:00Z", cp.Contacts[0].LastTransferDate)
}

func TestContactsAllHandlesNullLastTransfer(t *testing.T) {
	db, mock := newMockDB(t)
	agent := NewContactsAgent(db, logger.NewTestLogger(t))

	mock.ExpectQuery("FROM frequent_contacts").
		WillReturnRows(contactRows(
			[]driverValue{"c4", "Rina", "999", "bni", "personal", 2, nil, 150000.0},
		))

	payload, err := agent.Run(context.Background(), &intent.QueryContext{RawQuery: "list everyone I send money to", CIF: "CIF001"})

	require.NoError(t, err)
	cp := payload.(*ContactsPayload)
	assert.Equal(t, "all", cp.Kind)
	require.Len(t, cp.Contacts, 1)
	assert.Empty(t, cp.Contacts[0].LastTransferDate)
}
