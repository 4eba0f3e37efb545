package agents

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

var contactVocab = []string{
	"contact", "contacts", "transfer", "send", "sent", "recipient",
	"beneficiary", "payee", "kirim", "penerima", "transferred",
}

const bankSampleSize = 5

// ContactsAgent answers questions over the frequent_contacts table:
// frequent ranking, per-bank breakdown, filtered search, recent transfers,
// or the full list.
type ContactsAgent struct {
	db  *sql.DB
	log logger.Logger
}

func NewContactsAgent(db *sql.DB, log logger.Logger) *ContactsAgent {
	return &ContactsAgent{db: db, log: log}
}

func (a *ContactsAgent) Name() string { return "contact" }

func (a *ContactsAgent) CanHandle(qc *intent.QueryContext) bool {
	if qc.ContactFilters.HasContactFilters() {
		return true
	}
	return matchesAny(strings.ToLower(qc.RawQuery), contactVocab)
}

func (a *ContactsAgent) Run(ctx context.Context, qc *intent.QueryContext) (any, error) {
	lower := strings.ToLower(qc.RawQuery)
	switch {
	case strings.Contains(lower, "frequent") || strings.Contains(lower, "top"):
		return a.frequent(ctx, qc)
	case strings.Contains(lower, "bank breakdown") || strings.Contains(lower, "by bank") ||
		strings.Contains(lower, "group") || strings.Contains(lower, "per bank"):
		return a.bankBreakdown(ctx, qc)
	case strings.Contains(lower, "search") || strings.Contains(lower, "find") ||
		qc.ContactFilters.HasContactFilters():
		return a.search(ctx, qc)
	case strings.Contains(lower, "recent") || strings.Contains(lower, "latest"):
		return a.recent(ctx, qc)
	default:
		return a.all(ctx, qc)
	}
}

const contactColumns = `id, contact_name, COALESCE(account_number, ''),
	COALESCE(bank_name, ''), COALESCE(contact_type, ''),
	COALESCE(transfer_frequency, 0), last_transfer_date,
	COALESCE(total_transferred, 0)`

func (a *ContactsAgent) frequent(ctx context.Context, qc *intent.QueryContext) (any, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM frequent_contacts
		WHERE cif = $1
		ORDER BY transfer_frequency DESC, last_transfer_date DESC NULLS LAST
		LIMIT $2`, contactColumns)

	contacts, err := a.queryContacts(ctx, query, qc.CIF, effectiveLimit(qc))
	if err != nil {
		return nil, err
	}
	return &ContactsPayload{
		Kind:     "frequent",
		Contacts: contacts,
		Stats:    contactStats(contacts),
		Count:    len(contacts),
	}, nil
}

func (a *ContactsAgent) bankBreakdown(ctx context.Context, qc *intent.QueryContext) (any, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM frequent_contacts
		WHERE cif = $1
		ORDER BY bank_name ASC, transfer_frequency DESC`, contactColumns)

	contacts, err := a.queryContacts(ctx, query, qc.CIF)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*BankGroup)
	var order []string
	for _, c := range contacts {
		g, ok := groups[c.BankName]
		if !ok {
			g = &BankGroup{BankName: c.BankName}
			groups[c.BankName] = g
			order = append(order, c.BankName)
		}
		g.ContactCount++
		g.TotalFrequency += c.TransferFrequency
		if c.LastTransferDate > g.MostRecent {
			g.MostRecent = c.LastTransferDate
		}
		if len(g.Samples) < bankSampleSize {
			g.Samples = append(g.Samples, c)
		}
	}

	sort.Strings(order)
	payload := &ContactsPayload{Kind: "bank_breakdown", Count: len(contacts)}
	for _, bank := range order {
		payload.Banks = append(payload.Banks, *groups[bank])
	}
	return payload, nil
}

func (a *ContactsAgent) search(ctx context.Context, qc *intent.QueryContext) (any, error) {
	conds := []string{"cif = $1"}
	args := []any{qc.CIF}
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	f := qc.ContactFilters
	if f.BankName != "" {
		conds = append(conds, "LOWER(bank_name) = "+bind(f.BankName))
	}
	if f.ContactType != "" {
		conds = append(conds, "LOWER(contact_type) = "+bind(f.ContactType))
	}
	if f.MinFrequency > 0 {
		conds = append(conds, "transfer_frequency >= "+bind(f.MinFrequency))
	}
	for _, kw := range qc.SearchKeywords {
		conds = append(conds, "(LOWER(contact_name) LIKE "+bind("%"+kw+"%")+
			" OR account_number LIKE "+bind("%"+kw+"%")+")")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM frequent_contacts
		WHERE %s
		ORDER BY transfer_frequency DESC
		LIMIT %s`, contactColumns, strings.Join(conds, " AND "), bind(effectiveLimit(qc)))

	contacts, err := a.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &ContactsPayload{Kind: "search", Contacts: contacts, Count: len(contacts)}, nil
}

func (a *ContactsAgent) recent(ctx context.Context, qc *intent.QueryContext) (any, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM frequent_contacts
		WHERE cif = $1 AND last_transfer_date IS NOT NULL
		ORDER BY last_transfer_date DESC
		LIMIT $2`, contactColumns)

	contacts, err := a.queryContacts(ctx, query, qc.CIF, effectiveLimit(qc))
	if err != nil {
		return nil, err
	}
	return &ContactsPayload{Kind: "recent", Contacts: contacts, Count: len(contacts)}, nil
}

func (a *ContactsAgent) all(ctx context.Context, qc *intent.QueryContext) (any, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM frequent_contacts
		WHERE cif = $1
		ORDER BY transfer_frequency DESC, last_transfer_date DESC NULLS LAST
		LIMIT $2`, contactColumns)

	contacts, err := a.queryContacts(ctx, query, qc.CIF, effectiveLimit(qc))
	if err != nil {
		return nil, err
	}
	return &ContactsPayload{Kind: "all", Contacts: contacts, Count: len(contacts)}, nil
}

func (a *ContactsAgent) queryContacts(ctx context.Context, query string, args ...any) ([]Contact, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryError(ctx, "contact query failed", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var lastTransfer sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountNumber, &c.BankName,
			&c.ContactType, &c.TransferFrequency, &lastTransfer, &c.TotalTransferred); err != nil {
			return nil, wrapQueryError(ctx, "contact scan failed", err)
		}
		if lastTransfer.Valid {
			c.LastTransferDate = lastTransfer.Time.UTC().Format(time.RFC3339)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "contact iteration failed", err)
	}
	return contacts, nil
}

func contactStats(contacts []Contact) *ContactStats {
	stats := &ContactStats{TotalContacts: len(contacts)}
	if len(contacts) == 0 {
		return stats
	}
	for _, c := range contacts {
		stats.TotalFrequency += c.TransferFrequency
	}
	stats.AverageFrequency = float64(stats.TotalFrequency) / float64(len(contacts))
	stats.TopContact = contacts[0].Name
	return stats
}

func effectiveLimit(qc *intent.QueryContext) int {
	limit := qc.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > intent.MaxLimit {
		limit = intent.MaxLimit
	}
	return limit
}
