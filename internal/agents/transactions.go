package agents

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

const defaultSearchLimit = 100

var transactionVocab = []string{
	"spend", "spent", "spending", "transaction", "purchase", "payment",
	"paid", "expense", "balance", "history", "pengeluaran", "belanja",
	"bayar", "transaksi",
}

var aggregationVocab = []string{
	"total", "sum", "average", "count", "breakdown", "spending", "spent",
	"how much", "berapa", "pengeluaran",
}

// TransactionsAgent answers questions over the transactions table. It picks
// one of four query shapes from the question text: aggregation (summary or
// a category/merchant breakdown), detail by reference, or a filtered search.
type TransactionsAgent struct {
	db  *sql.DB
	log logger.Logger
}

func NewTransactionsAgent(db *sql.DB, log logger.Logger) *TransactionsAgent {
	return &TransactionsAgent{db: db, log: log}
}

func (a *TransactionsAgent) Name() string { return "transactions" }

func (a *TransactionsAgent) CanHandle(qc *intent.QueryContext) bool {
	if qc.DateRange != nil || len(qc.Merchants) > 0 || len(qc.Categories) > 0 ||
		qc.TransactionType != "" || qc.Amount != nil || qc.AmountRange != nil ||
		qc.ReferenceNumber != "" {
		return true
	}
	return matchesAny(strings.ToLower(qc.RawQuery), transactionVocab)
}

func (a *TransactionsAgent) Run(ctx context.Context, qc *intent.QueryContext) (any, error) {
	lower := strings.ToLower(qc.RawQuery)
	switch {
	case qc.ReferenceNumber != "":
		return a.detail(ctx, qc)
	case matchesAny(lower, aggregationVocab):
		if strings.Contains(lower, "merchant") {
			return a.merchantBreakdown(ctx, qc)
		}
		if strings.Contains(lower, "category") || strings.Contains(lower, "kategori") || strings.Contains(lower, "breakdown") {
			return a.categoryBreakdown(ctx, qc)
		}
		return a.summary(ctx, qc)
	default:
		return a.search(ctx, qc)
	}
}

func (a *TransactionsAgent) summary(ctx context.Context, qc *intent.QueryContext) (any, error) {
	fb := newFilterBuilder(qc)
	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN ABS(amount) ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN transaction_type <> 'credit' THEN ABS(amount) ELSE 0 END), 0),
		       COALESCE(AVG(ABS(amount)), 0),
		       MIN(transaction_date), MAX(transaction_date),
		       COUNT(DISTINCT merchant_name), COUNT(DISTINCT category)
		FROM transactions
		WHERE %s`, fb.where())

	var s SpendingSummary
	var first, last sql.NullTime
	err := a.db.QueryRowContext(ctx, query, fb.args...).Scan(
		&s.TransactionCount, &s.TotalReceived, &s.TotalSpent, &s.AverageAmount,
		&first, &last, &s.UniqueMerchants, &s.UniqueCategories,
	)
	if err != nil {
		return nil, wrapQueryError(ctx, "transaction summary query failed", err)
	}
	if first.Valid {
		s.FirstDate = isoTime(first.Time)
	}
	if last.Valid {
		s.LastDate = isoTime(last.Time)
	}
	return &TransactionsPayload{Kind: "summary", Summary: &s, Count: s.TransactionCount}, nil
}

func (a *TransactionsAgent) categoryBreakdown(ctx context.Context, qc *intent.QueryContext) (any, error) {
	fb := newFilterBuilder(qc)
	query := fmt.Sprintf(`
		SELECT COALESCE(category, 'uncategorized'), COALESCE(SUM(ABS(amount)), 0), COUNT(*)
		FROM transactions
		WHERE %s
		GROUP BY category
		ORDER BY 2 DESC`, fb.where())

	rows, err := a.db.QueryContext(ctx, query, fb.args...)
	if err != nil {
		return nil, wrapQueryError(ctx, "category breakdown query failed", err)
	}
	defer rows.Close()

	payload := &TransactionsPayload{Kind: "category_breakdown"}
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, wrapQueryError(ctx, "category breakdown scan failed", err)
		}
		payload.Categories = append(payload.Categories, ct)
		payload.Count += ct.Count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "category breakdown iteration failed", err)
	}
	return payload, nil
}

func (a *TransactionsAgent) merchantBreakdown(ctx context.Context, qc *intent.QueryContext) (any, error) {
	fb := newFilterBuilder(qc)
	query := fmt.Sprintf(`
		SELECT COALESCE(merchant_name, 'unknown'), COALESCE(SUM(ABS(amount)), 0), COUNT(*)
		FROM transactions
		WHERE %s
		GROUP BY merchant_name
		ORDER BY 2 DESC`, fb.where())

	rows, err := a.db.QueryContext(ctx, query, fb.args...)
	if err != nil {
		return nil, wrapQueryError(ctx, "merchant breakdown query failed", err)
	}
	defer rows.Close()

	payload := &TransactionsPayload{Kind: "merchant_breakdown"}
	for rows.Next() {
		var mt MerchantTotal
		if err := rows.Scan(&mt.Merchant, &mt.Total, &mt.Count); err != nil {
			return nil, wrapQueryError(ctx, "merchant breakdown scan failed", err)
		}
		payload.Merchants = append(payload.Merchants, mt)
		payload.Count += mt.Count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "merchant breakdown iteration failed", err)
	}
	return payload, nil
}

func (a *TransactionsAgent) detail(ctx context.Context, qc *intent.QueryContext) (any, error) {
	const query = `
		SELECT id, transaction_date, description, amount, transaction_type,
		       COALESCE(category, ''), COALESCE(merchant_name, ''), COALESCE(reference_number, '')
		FROM transactions
		WHERE cif = $1 AND reference_number = $2
		ORDER BY transaction_date DESC
		LIMIT 1`

	txn, err := scanTransaction(a.db.QueryRowContext(ctx, query, qc.CIF, qc.ReferenceNumber))
	if err == sql.ErrNoRows {
		return &TransactionsPayload{Kind: "detail"}, nil
	}
	if err != nil {
		return nil, wrapQueryError(ctx, "transaction detail query failed", err)
	}
	return &TransactionsPayload{Kind: "detail", Transaction: txn, Count: 1}, nil
}

func (a *TransactionsAgent) search(ctx context.Context, qc *intent.QueryContext) (any, error) {
	fb := newFilterBuilder(qc)
	limit := qc.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > intent.MaxLimit {
		limit = intent.MaxLimit
	}

	query := fmt.Sprintf(`
		SELECT id, transaction_date, description, amount, transaction_type,
		       COALESCE(category, ''), COALESCE(merchant_name, ''), COALESCE(reference_number, '')
		FROM transactions
		WHERE %s
		ORDER BY transaction_date DESC
		LIMIT %s`, fb.where(), fb.bind(limit))

	rows, err := a.db.QueryContext(ctx, query, fb.args...)
	if err != nil {
		return nil, wrapQueryError(ctx, "transaction search query failed", err)
	}
	defer rows.Close()

	payload := &TransactionsPayload{Kind: "search"}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapQueryError(ctx, "transaction search scan failed", err)
		}
		payload.Transactions = append(payload.Transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "transaction search iteration failed", err)
	}
	payload.Count = len(payload.Transactions)
	return payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var date time.Time
	err := row.Scan(&t.ID, &date, &t.Description, &t.Amount, &t.Type,
		&t.Category, &t.Merchant, &t.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	t.Date = isoTime(date)
	return &t, nil
}

// filterBuilder turns the present context fields into parameterized WHERE
// conditions. Absent fields never widen the match, they are simply omitted.
type filterBuilder struct {
	conds []string
	args  []any
}

func newFilterBuilder(qc *intent.QueryContext) *filterBuilder {
	fb := &filterBuilder{}
	fb.add("cif = " + fb.bind(qc.CIF))

	if qc.DateRange != nil {
		fb.add("transaction_date >= " + fb.bind(qc.DateRange.Start))
		fb.add("transaction_date < " + fb.bind(qc.DateRange.End.AddDate(0, 0, 1)))
	}
	if len(qc.Merchants) > 0 {
		fb.add("LOWER(merchant_name) = ANY(" + fb.bind(pq.Array(qc.Merchants)) + ")")
	}
	if len(qc.Categories) > 0 {
		fb.add("LOWER(category) = ANY(" + fb.bind(pq.Array(qc.Categories)) + ")")
	}
	if qc.TransactionType != "" {
		fb.add("transaction_type = " + fb.bind(qc.TransactionType))
	}
	if qc.Amount != nil {
		fb.add("ABS(amount) = " + fb.bind(*qc.Amount))
	}
	if qc.AmountRange != nil {
		if qc.AmountRange.Min != nil {
			fb.add("ABS(amount) >= " + fb.bind(*qc.AmountRange.Min))
		}
		if qc.AmountRange.Max != nil {
			fb.add("ABS(amount) <= " + fb.bind(*qc.AmountRange.Max))
		}
	}
	return fb
}

// bind registers an argument and returns its positional placeholder.
func (f *filterBuilder) bind(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *filterBuilder) add(cond string) {
	f.conds = append(f.conds, cond)
}

func (f *filterBuilder) where() string {
	return strings.Join(f.conds, " AND ")
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func matchesAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
