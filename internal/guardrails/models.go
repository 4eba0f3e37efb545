package guardrails

import "time"

// Rule actions ordered by precedence. When several rules match the same
// text, the strongest action wins the verdict.
const (
	ActionBlock     = "block"
	ActionTransform = "transform"
	ActionWarn      = "warn"
	ActionFlag      = "flag"
	ActionAllow     = "allow"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

const (
	RuleTypeRegex   = "regex"
	RuleTypeKeyword = "keyword"
)

// DefaultReplacement substitutes matched spans when a transform rule
// carries no replacement of its own.
const DefaultReplacement = "[REDACTED]"

// Rule is one stored guardrail. Keyword patterns hold a comma separated
// list of terms, regex patterns a single expression compiled
// case-insensitively.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RuleType    string    `json:"ruleType"`
	Pattern     string    `json:"pattern"`
	Action      string    `json:"action"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message,omitempty"`
	Replacement string    `json:"replacement,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Violation records a single matched rule inside a verdict.
type Violation struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Action   string `json:"action"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

// Verdict is the outcome of checking one piece of text. TransformedText is
// always populated, it equals the input when no transform rule matched.
type Verdict struct {
	Action          string      `json:"action"`
	Severity        string      `json:"severity,omitempty"`
	Violations      []Violation `json:"violations,omitempty"`
	TransformedText string      `json:"transformedText"`
	Message         string      `json:"message,omitempty"`
}

// Blocked reports whether the text must not be processed further.
func (v Verdict) Blocked() bool {
	return v.Action == ActionBlock
}

var actionRank = map[string]int{
	ActionBlock:     5,
	ActionTransform: 4,
	ActionWarn:      3,
	ActionFlag:      2,
	ActionAllow:     1,
}

var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// defaultMessages keyed by severity, used when no violated rule carries a
// message of its own.
var defaultMessages = map[string]string{
	SeverityCritical: "This request cannot be processed due to security policy.",
	SeverityHigh:     "This request contains restricted content.",
	SeverityMedium:   "This request may contain sensitive content.",
	SeverityLow:      "Please review the content of this request.",
}

func strongerAction(a, b string) string {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

func strongerSeverity(a, b string) string {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}
