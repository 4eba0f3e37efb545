package intent

import (
	"context"
	"time"
)

// MaxLimit is the hard cap on how many rows a single query may request.
const MaxLimit = 500

// Extractor turns a raw question into a QueryContext. Implementations must
// be total: a context with fields omitted is always preferred over an error.
type Extractor interface {
	Extract(ctx context.Context, rawQuery, cif string) (*QueryContext, error)
}

// QueryContext carries everything extracted from one question. It is built
// once per request and treated as immutable by every downstream consumer.
type QueryContext struct {
	RawQuery        string          `json:"query"`
	CIF             string          `json:"cif"`
	Language        string          `json:"language"` // "en" or "id"
	Timestamp       time.Time       `json:"timestamp"`
	DateRange       *DateRange      `json:"dateRange,omitempty"`
	Merchants       []string        `json:"merchants,omitempty"`
	Categories      []string        `json:"categories,omitempty"`
	TransactionType string          `json:"transactionType,omitempty"` // debit, credit, transfer
	Amount          *float64        `json:"amount,omitempty"`
	AmountRange     *AmountRange    `json:"amountRange,omitempty"`
	ContactFilters  ContactFilters  `json:"contactFilters"`
	SearchKeywords  []string        `json:"searchKeywords,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	CorrectedQuery  string          `json:"correctedQuery,omitempty"`
	Limit           int             `json:"limit,omitempty"`
	Degraded        bool            `json:"degraded,omitempty"` // assisted extraction fell back to rules
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

type ContactFilters struct {
	BankName     string `json:"bankName,omitempty"`
	ContactType  string `json:"contactType,omitempty"` // personal or business
	MinFrequency int    `json:"minFrequency,omitempty"`
}

// HasContactFilters reports whether any contact-scoped filter was extracted.
func (f ContactFilters) HasContactFilters() bool {
	return f.BankName != "" || f.ContactType != "" || f.MinFrequency > 0
}
