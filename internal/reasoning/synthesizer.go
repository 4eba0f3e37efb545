package reasoning

import (
	"fmt"
	"strings"

	"finsight/internal/agents"
	"finsight/internal/brain"
	"finsight/internal/common/logger"
)

// Response kinds, in classification order.
const (
	KindMultiSource        = "multi_source"
	KindSpendingAnalysis   = "spending_analysis"
	KindTransactionSummary = "transaction_summary"
	KindCustomerProfile    = "customer_profile"
	KindContactList        = "contact_list"
)

const (
	StatusSuccess   = "success"
	StatusNoResults = "no_results"
)

// Period is the date window the merged data covers, ISO dates.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MergedData is the union of every sub-shape the agents can produce. Only
// the fields relevant to the response kind are populated. Serializing the
// struct gives a stable field order for the generation prompt.
type MergedData struct {
	Period       *Period                  `json:"period,omitempty"`
	Summary      *agents.SpendingSummary  `json:"summary,omitempty"`
	Categories   []agents.CategoryTotal   `json:"categories,omitempty"`
	Merchants    []agents.MerchantTotal   `json:"merchants,omitempty"`
	Transaction  *agents.Transaction      `json:"transaction,omitempty"`
	Transactions []agents.Transaction     `json:"transactions,omitempty"`
	Profile      *agents.CustomerProfile  `json:"profile,omitempty"`
	Activity     *agents.CustomerActivity `json:"activity,omitempty"`
	Cohort       *agents.SegmentCohort    `json:"cohort,omitempty"`
	Contacts     []agents.Contact         `json:"contacts,omitempty"`
	ContactStats *agents.ContactStats     `json:"contactStats,omitempty"`
	Banks        []agents.BankGroup       `json:"banks,omitempty"`
}

// Response is the synthesized view of one dispatch, ready for generation.
type Response struct {
	Status            string           `json:"status"`
	Kind              string           `json:"kind,omitempty"`
	Data              *MergedData      `json:"data,omitempty"`
	Insights          []string         `json:"insights,omitempty"`
	Failures          []agents.Outcome `json:"failures,omitempty"`
	GenerationContext string           `json:"-"`
}

type Synthesizer struct {
	log logger.Logger
}

func NewSynthesizer(log logger.Logger) *Synthesizer {
	return &Synthesizer{log: log}
}

// Synthesize classifies and merges a dispatch result. With zero successful
// outcomes it returns no_results immediately, classification never runs.
func (s *Synthesizer) Synthesize(result *brain.RunResult) *Response {
	if len(result.Successes) == 0 {
		return &Response{Status: StatusNoResults, Failures: result.Failures}
	}

	resp := &Response{
		Status:   StatusSuccess,
		Kind:     classify(result),
		Data:     merge(result),
		Failures: result.Failures,
	}
	resp.Insights = s.insights(resp)
	resp.GenerationContext = buildGenerationContext(result, resp)
	return resp
}

// classify picks the response kind by a fixed decision order. Anything not
// covered by the single-agent kinds is multi_source.
func classify(result *brain.RunResult) string {
	distinct := map[string]bool{}
	for _, out := range result.Successes {
		distinct[out.AgentName] = true
	}
	if len(distinct) > 1 {
		return KindMultiSource
	}

	lower := strings.ToLower(result.Context.RawQuery)
	switch {
	case distinct["transactions"] && hasAggregationWording(lower):
		return KindSpendingAnalysis
	case distinct["transactions"]:
		return KindTransactionSummary
	case distinct["customers"]:
		return KindCustomerProfile
	case distinct["contact"]:
		return KindContactList
	default:
		return KindMultiSource
	}
}

var aggregationWords = []string{
	"total", "sum", "average", "how much", "count", "breakdown",
	"spending", "spent", "berapa", "pengeluaran",
}

func hasAggregationWording(lower string) bool {
	for _, w := range aggregationWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// merge folds every successful payload into one MergedData and attaches the
// active date window when present.
func merge(result *brain.RunResult) *MergedData {
	data := &MergedData{}
	if dr := result.Context.DateRange; dr != nil {
		data.Period = &Period{
			Start: dr.Start.Format("2006-01-02"),
			End:   dr.End.Format("2006-01-02"),
		}
	}
	for _, out := range result.Successes {
		switch p := out.Payload.(type) {
		case *agents.TransactionsPayload:
			data.Summary = p.Summary
			data.Categories = p.Categories
			data.Merchants = p.Merchants
			data.Transaction = p.Transaction
			data.Transactions = p.Transactions
		case *agents.CustomerPayload:
			data.Profile = p.Profile
			data.Activity = p.Activity
			data.Cohort = p.Cohort
		case *agents.ContactsPayload:
			data.Contacts = p.Contacts
			data.ContactStats = p.Stats
			data.Banks = p.Banks
		}
	}
	return data
}

const topBreakdownSize = 3

// insights derives short observations from the merged data. Cross-domain
// insights appear only when the specific domain pair co-occurs, they are
// opportunistic and never required.
func (s *Synthesizer) insights(resp *Response) []string {
	var insights []string
	data := resp.Data

	if sum := data.Summary; sum != nil && sum.TransactionCount > 0 {
		insights = append(insights, fmt.Sprintf(
			"Spent %.0f across %d transactions (average %.0f).",
			sum.TotalSpent, sum.TransactionCount, sum.AverageAmount))
		if sum.UniqueMerchants > 0 {
			insights = append(insights, fmt.Sprintf(
				"Spending is spread over %d merchants and %d categories.",
				sum.UniqueMerchants, sum.UniqueCategories))
		}
	}
	if len(data.Categories) > 0 {
		insights = append(insights, topCategoriesInsight(data.Categories))
	}
	if len(data.Merchants) > 0 {
		insights = append(insights, topMerchantsInsight(data.Merchants))
	}

	// Risk appetite next to actual transaction size.
	if data.Profile != nil && data.Summary != nil && data.Summary.TransactionCount > 0 {
		insights = append(insights, fmt.Sprintf(
			"Risk profile %q with an average transaction of %.0f.",
			data.Profile.RiskProfile, data.Summary.AverageAmount))
	}
	// Transfer habits next to overall volume.
	if data.ContactStats != nil && data.Summary != nil && data.ContactStats.TotalContacts > 0 {
		insights = append(insights, fmt.Sprintf(
			"Transfers to %d contacts (%d in total) alongside %d transactions.",
			data.ContactStats.TotalContacts, data.ContactStats.TotalFrequency,
			data.Summary.TransactionCount))
	}
	return insights
}

func topCategoriesInsight(categories []agents.CategoryTotal) string {
	n := len(categories)
	if n > topBreakdownSize {
		n = topBreakdownSize
	}
	parts := make([]string, 0, n)
	for _, c := range categories[:n] {
		parts = append(parts, fmt.Sprintf("%s (%.0f)", c.Category, c.Total))
	}
	return "Top categories: " + strings.Join(parts, ", ") + "."
}

func topMerchantsInsight(merchants []agents.MerchantTotal) string {
	n := len(merchants)
	if n > topBreakdownSize {
		n = topBreakdownSize
	}
	parts := make([]string, 0, n)
	for _, m := range merchants[:n] {
		parts = append(parts, fmt.Sprintf("%s (%.0f)", m.Merchant, m.Total))
	}
	return "Top merchants: " + strings.Join(parts, ", ") + "."
}
