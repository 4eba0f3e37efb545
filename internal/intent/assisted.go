package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"finsight/internal/common/logger"
	"finsight/internal/common/metrics"
	"finsight/internal/llm"
)

// contextSchema validates the JSON object the model returns before any of
// it is trusted. Unknown fields are rejected so a drifting model reply
// degrades to the rule-based result instead of leaking odd fields through.
const contextSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"date_range": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"start": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"end":   {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"}
			},
			"required": ["start", "end"]
		},
		"merchants":        {"type": "array", "items": {"type": "string"}},
		"categories":       {"type": "array", "items": {"type": "string"}},
		"transaction_type": {"type": "string", "enum": ["debit", "credit", "transfer"]},
		"amount":           {"type": "number"},
		"amount_min":       {"type": "number"},
		"amount_max":       {"type": "number"},
		"bank_name":        {"type": "string"},
		"contact_type":     {"type": "string", "enum": ["personal", "business"]},
		"min_frequency":    {"type": "integer", "minimum": 1},
		"search_keywords":  {"type": "array", "items": {"type": "string"}},
		"reference_number": {"type": "string"},
		"corrected_query":  {"type": "string"},
		"language":         {"type": "string", "enum": ["en", "id"]},
		"limit":            {"type": "integer", "minimum": 1}
	}
}`

const extractionInstructions = `You extract structured filters from banking questions.
Respond with a single JSON object and nothing else. Omit any field the
question does not mention. Dates are ISO format (YYYY-MM-DD). Never invent
values that are not in the question.`

// wireContext is the JSON shape the model is asked to produce.
type wireContext struct {
	DateRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range,omitempty"`
	Merchants       []string `json:"merchants,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	TransactionType string   `json:"transaction_type,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	AmountMin       *float64 `json:"amount_min,omitempty"`
	AmountMax       *float64 `json:"amount_max,omitempty"`
	BankName        string   `json:"bank_name,omitempty"`
	ContactType     string   `json:"contact_type,omitempty"`
	MinFrequency    int      `json:"min_frequency,omitempty"`
	SearchKeywords  []string `json:"search_keywords,omitempty"`
	ReferenceNumber string   `json:"reference_number,omitempty"`
	CorrectedQuery  string   `json:"corrected_query,omitempty"`
	Language        string   `json:"language,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

// Assisted asks the generation model to extract the context and validates
// the reply against a schema. Every failure path falls back to the
// rule-based strategy with the Degraded flag set, so extraction as a whole
// never fails.
type Assisted struct {
	client   *llm.Client
	fallback *RuleBased
	schema   *gojsonschema.Schema
	log      logger.Logger
	now      func() time.Time
}

func NewAssisted(client *llm.Client, fallback *RuleBased, log logger.Logger) (*Assisted, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(contextSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	return &Assisted{
		client:   client,
		fallback: fallback,
		schema:   schema,
		log:      log,
		now:      fallback.now,
	}, nil
}

func (e *Assisted) Extract(ctx context.Context, rawQuery, cif string) (*QueryContext, error) {
	qc, err := e.tryAssisted(ctx, rawQuery, cif)
	if err != nil {
		e.log.Warn("assisted extraction degraded to rule-based", map[string]interface{}{
			"error": err.Error(),
		})
		metrics.ExtractionFallbacks.Inc()
		fallback, _ := e.fallback.Extract(ctx, rawQuery, cif)
		fallback.Degraded = true
		return fallback, nil
	}
	return qc, nil
}

func (e *Assisted) tryAssisted(ctx context.Context, rawQuery, cif string) (*QueryContext, error) {
	now := e.now()
	prompt := fmt.Sprintf("Today is %s.\nQuestion: %s", now.Format("2006-01-02"), rawQuery)

	resp, err := e.client.Generate(ctx, llm.Request{
		SystemInstructions: extractionInstructions,
		UserPrompt:         prompt,
		MaxTokens:          512,
		Temperature:        0,
	})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSONObject(resp.AnswerText)
	if err != nil {
		return nil, err
	}

	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema validation errored: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("model reply failed schema validation: %v", result.Errors())
	}

	var wire wireContext
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode model reply: %w", err)
	}

	return e.buildContext(rawQuery, cif, wire, now)
}

func (e *Assisted) buildContext(rawQuery, cif string, wire wireContext, now time.Time) (*QueryContext, error) {
	qc := &QueryContext{
		RawQuery:        rawQuery,
		CIF:             cif,
		Language:        wire.Language,
		Timestamp:       now,
		Merchants:       lowerAll(wire.Merchants),
		Categories:      lowerAll(wire.Categories),
		TransactionType: wire.TransactionType,
		Amount:          wire.Amount,
		SearchKeywords:  lowerAll(wire.SearchKeywords),
		ReferenceNumber: strings.ToUpper(wire.ReferenceNumber),
		CorrectedQuery:  wire.CorrectedQuery,
		ContactFilters: ContactFilters{
			BankName:     strings.ToLower(wire.BankName),
			ContactType:  wire.ContactType,
			MinFrequency: wire.MinFrequency,
		},
	}
	if qc.Language == "" {
		qc.Language = detectLanguage(strings.ToLower(rawQuery))
	}
	if wire.AmountMin != nil || wire.AmountMax != nil {
		qc.AmountRange = &AmountRange{Min: wire.AmountMin, Max: wire.AmountMax}
	}
	if wire.Limit > 0 {
		qc.Limit = wire.Limit
		if qc.Limit > MaxLimit {
			qc.Limit = MaxLimit
		}
	}
	if wire.DateRange != nil {
		start, err := time.ParseInLocation("2006-01-02", wire.DateRange.Start, now.Location())
		if err != nil {
			return nil, fmt.Errorf("model returned invalid start date: %w", err)
		}
		end, err := time.ParseInLocation("2006-01-02", wire.DateRange.End, now.Location())
		if err != nil {
			return nil, fmt.Errorf("model returned invalid end date: %w", err)
		}
		if end.Before(start) {
			start, end = end, start
		}
		qc.DateRange = &DateRange{Start: start, End: end}
	} else if containsAny(strings.ToLower(rawQuery), spendingKeywords) {
		qc.DateRange = defaultDateRange(now)
	}
	return qc, nil
}

// extractJSONObject pulls the outermost JSON object out of a reply that may
// wrap it in prose or a code fence.
func extractJSONObject(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("model reply contained no JSON object")
	}
	return []byte(text[start : end+1]), nil
}

func lowerAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
