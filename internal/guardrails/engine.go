package guardrails

import (
	"context"
	"strings"

	"finsight/internal/common/logger"
	"finsight/internal/common/metrics"
)

// Engine evaluates text against the cached rule set. It is safe for
// concurrent use and degrades to allowing text when rules cannot be
// loaded, a broken rule store must not take the answer pipeline down.
type Engine struct {
	cache   *Cache
	enabled bool
	log     logger.Logger
}

func NewEngine(cache *Cache, enabled bool, log logger.Logger) *Engine {
	return &Engine{cache: cache, enabled: enabled, log: log}
}

// Check evaluates text for one phase ("input" or "output") and returns the
// combined verdict. The strongest matched action wins, severities take the
// maximum, and transform replacements apply sequentially in rule order.
func (e *Engine) Check(ctx context.Context, text, phase string) Verdict {
	verdict := Verdict{Action: ActionAllow, TransformedText: text}
	if !e.enabled || text == "" {
		metrics.GuardrailChecks.WithLabelValues(phase, verdict.Action).Inc()
		return verdict
	}

	rules, err := e.cache.Rules(ctx)
	if err != nil {
		e.log.Error("guardrail rules unavailable, allowing text", map[string]interface{}{
			"phase": phase,
			"error": err.Error(),
		})
		metrics.GuardrailChecks.WithLabelValues(phase, verdict.Action).Inc()
		return verdict
	}

	lower := strings.ToLower(text)
	var transforms []compiledRule
	for _, cr := range rules {
		if !cr.matches(text, lower) {
			continue
		}
		r := cr.rule
		verdict.Violations = append(verdict.Violations, Violation{
			RuleID:   r.ID,
			RuleName: r.Name,
			Action:   r.Action,
			Severity: r.Severity,
			Message:  r.Message,
		})
		verdict.Action = strongerAction(verdict.Action, r.Action)
		verdict.Severity = strongerSeverity(verdict.Severity, r.Severity)
		if r.Action == ActionTransform {
			transforms = append(transforms, cr)
		}
	}

	if verdict.Action != ActionBlock {
		transformed := text
		for _, cr := range transforms {
			transformed = cr.apply(transformed)
		}
		verdict.TransformedText = transformed
	}

	verdict.Message = e.verdictMessage(verdict)

	if verdict.Action != ActionAllow {
		e.log.Warn("guardrail verdict", map[string]interface{}{
			"phase":      phase,
			"action":     verdict.Action,
			"severity":   verdict.Severity,
			"violations": len(verdict.Violations),
		})
	}
	metrics.GuardrailChecks.WithLabelValues(phase, verdict.Action).Inc()
	return verdict
}

// verdictMessage picks the message of the first violated rule that carries
// one, falling back to the severity-keyed default.
func (e *Engine) verdictMessage(v Verdict) string {
	if v.Action == ActionAllow {
		return ""
	}
	for _, viol := range v.Violations {
		if viol.Message != "" {
			return viol.Message
		}
	}
	return defaultMessages[v.Severity]
}

func (cr compiledRule) matches(text, lower string) bool {
	if cr.regex != nil {
		return cr.regex.MatchString(text)
	}
	for _, k := range cr.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// apply replaces every matched span for a transform rule. Keyword rules
// replace each keyword occurrence, regex rules every regex match.
func (cr compiledRule) apply(text string) string {
	replacement := cr.rule.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}
	if cr.regex != nil {
		return cr.regex.ReplaceAllString(text, replacement)
	}
	for _, k := range cr.keywords {
		text = replaceInsensitive(text, k, replacement)
	}
	return text
}

// replaceInsensitive replaces occurrences of needle regardless of case
// while preserving the rest of the text as typed.
func replaceInsensitive(text, needle, replacement string) string {
	lower := strings.ToLower(text)
	needle = strings.ToLower(needle)
	var b strings.Builder
	for {
		idx := strings.Index(lower, needle)
		if idx < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:idx])
		b.WriteString(replacement)
		text = text[idx+len(needle):]
		lower = lower[idx+len(needle):]
	}
}
