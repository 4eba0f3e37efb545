package agents

import (
	"context"
	"database/sql"
	"strings"

	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

var customerVocab = []string{
	"profile", "about me", "who am i", "my information", "my account",
	"my details", "demographic", "segment", "similar", "income", "risk",
	"occupation", "profil saya", "data saya",
}

// CustomersAgent answers questions about the customer's own profile. The
// default shape is the joined profile record; "complete/all/full" phrasing
// adds activity counters, "segment/similar" phrasing returns the peer cohort.
type CustomersAgent struct {
	db  *sql.DB
	log logger.Logger
}

func NewCustomersAgent(db *sql.DB, log logger.Logger) *CustomersAgent {
	return &CustomersAgent{db: db, log: log}
}

func (a *CustomersAgent) Name() string { return "customers" }

func (a *CustomersAgent) CanHandle(qc *intent.QueryContext) bool {
	return matchesAny(strings.ToLower(qc.RawQuery), customerVocab)
}

func (a *CustomersAgent) Run(ctx context.Context, qc *intent.QueryContext) (any, error) {
	lower := strings.ToLower(qc.RawQuery)
	switch {
	case strings.Contains(lower, "segment") || strings.Contains(lower, "similar"):
		return a.segment(ctx, qc)
	case strings.Contains(lower, "complete") || strings.Contains(lower, "full") ||
		strings.Contains(lower, "all my") || strings.Contains(lower, "everything"):
		return a.complete(ctx, qc)
	default:
		profile, err := a.loadProfile(ctx, qc.CIF)
		if err != nil {
			return nil, err
		}
		return &CustomerPayload{Kind: "profile", Profile: profile}, nil
	}
}

const profileQuery = `
	SELECT c.cif, c.full_name, COALESCE(c.email, ''), COALESCE(c.phone, ''),
	       p.age, COALESCE(p.occupation, ''), COALESCE(p.income_bracket, ''),
	       COALESCE(p.risk_profile, ''), COALESCE(p.marital_status, ''),
	       COALESCE(p.education, '')
	FROM cifs c
	JOIN customer_profiles p ON p.cif = c.cif
	WHERE c.cif = $1`

func (a *CustomersAgent) loadProfile(ctx context.Context, cif string) (*CustomerProfile, error) {
	var p CustomerProfile
	err := a.db.QueryRowContext(ctx, profileQuery, cif).Scan(
		&p.CIF, &p.FullName, &p.Email, &p.Phone, &p.Age, &p.Occupation,
		&p.IncomeBracket, &p.RiskProfile, &p.MaritalStatus, &p.Education,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrCodeNoResults, "customer profile not found")
	}
	if err != nil {
		return nil, wrapQueryError(ctx, "customer profile query failed", err)
	}
	return &p, nil
}

func (a *CustomersAgent) complete(ctx context.Context, qc *intent.QueryContext) (any, error) {
	profile, err := a.loadProfile(ctx, qc.CIF)
	if err != nil {
		return nil, err
	}

	const activityQuery = `
		SELECT
			(SELECT COUNT(*) FROM transactions WHERE cif = $1),
			(SELECT COALESCE(SUM(ABS(amount)), 0) FROM transactions WHERE cif = $1 AND transaction_type <> 'credit'),
			(SELECT COUNT(*) FROM frequent_contacts WHERE cif = $1),
			(SELECT COUNT(*) FROM customer_promotions WHERE cif = $1)`

	var act CustomerActivity
	err = a.db.QueryRowContext(ctx, activityQuery, qc.CIF).Scan(
		&act.TransactionCount, &act.TotalSpent, &act.ContactCount, &act.PromotionCount,
	)
	if err != nil {
		return nil, wrapQueryError(ctx, "customer activity query failed", err)
	}
	return &CustomerPayload{Kind: "complete", Profile: profile, Activity: &act}, nil
}

// segment selects peers within five years of age sharing the requester's
// income bracket and risk profile. The requester never appears in their
// own cohort.
func (a *CustomersAgent) segment(ctx context.Context, qc *intent.QueryContext) (any, error) {
	profile, err := a.loadProfile(ctx, qc.CIF)
	if err != nil {
		return nil, err
	}

	const cohortQuery = `
		SELECT COALESCE(p.occupation, ''), COUNT(*)
		FROM cifs c
		JOIN customer_profiles p ON p.cif = c.cif
		WHERE c.cif <> $1
		  AND p.age BETWEEN $2 - 5 AND $2 + 5
		  AND p.income_bracket = $3
		  AND p.risk_profile = $4
		GROUP BY p.occupation
		ORDER BY 2 DESC`

	rows, err := a.db.QueryContext(ctx, cohortQuery, qc.CIF, profile.Age, profile.IncomeBracket, profile.RiskProfile)
	if err != nil {
		return nil, wrapQueryError(ctx, "segment cohort query failed", err)
	}
	defer rows.Close()

	cohort := &SegmentCohort{
		IncomeBracket: profile.IncomeBracket,
		RiskProfile:   profile.RiskProfile,
	}
	for rows.Next() {
		var occupation string
		var count int
		if err := rows.Scan(&occupation, &count); err != nil {
			return nil, wrapQueryError(ctx, "segment cohort scan failed", err)
		}
		if cohort.ModalOccupation == "" && occupation != "" {
			cohort.ModalOccupation = occupation
		}
		cohort.Size += count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "segment cohort iteration failed", err)
	}

	if cohort.Size > 0 {
		categories, err := a.cohortCategories(ctx, qc.CIF, profile)
		if err != nil {
			return nil, err
		}
		cohort.TopCategories = categories
	}
	return &CustomerPayload{Kind: "segment", Profile: profile, Cohort: cohort}, nil
}

// cohortCategories reports the three heaviest spending categories among the
// requester's peers.
func (a *CustomersAgent) cohortCategories(ctx context.Context, cif string, profile *CustomerProfile) ([]CategoryTotal, error) {
	const query = `
		SELECT COALESCE(t.category, 'uncategorized'), COALESCE(SUM(ABS(t.amount)), 0), COUNT(*)
		FROM transactions t
		JOIN customer_profiles p ON p.cif = t.cif
		WHERE t.cif <> $1
		  AND p.age BETWEEN $2 - 5 AND $2 + 5
		  AND p.income_bracket = $3
		  AND p.risk_profile = $4
		  AND t.transaction_type <> 'credit'
		GROUP BY t.category
		ORDER BY 2 DESC
		LIMIT 3`

	rows, err := a.db.QueryContext(ctx, query, cif, profile.Age, profile.IncomeBracket, profile.RiskProfile)
	if err != nil {
		return nil, wrapQueryError(ctx, "cohort categories query failed", err)
	}
	defer rows.Close()

	var categories []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, wrapQueryError(ctx, "cohort categories scan failed", err)
		}
		categories = append(categories, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(ctx, "cohort categories iteration failed", err)
	}
	return categories, nil
}
