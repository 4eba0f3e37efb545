package guardrails

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"finsight/internal/common/logger"
	"finsight/internal/common/metrics"
)

// compiledRule pairs a stored rule with its ready-to-run matcher so no
// compilation happens on the check path.
type compiledRule struct {
	rule     Rule
	regex    *regexp.Regexp // nil for keyword rules
	keywords []string       // lowercase, for keyword rules
}

// RuleSource abstracts where the cache loads rules from.
type RuleSource interface {
	ListActive(ctx context.Context) ([]Rule, error)
}

// Cache holds the compiled rule set behind a read lock. Rules live until
// Invalidate is called, there is no expiry. A reload builds the entire new
// set before swapping it in, so readers never observe a partial set.
type Cache struct {
	source RuleSource
	log    logger.Logger

	mu     sync.RWMutex
	rules  []compiledRule
	loaded bool
}

func NewCache(source RuleSource, log logger.Logger) *Cache {
	return &Cache{source: source, log: log}
}

// Rules returns the compiled rule set, loading it on first use.
func (c *Cache) Rules(ctx context.Context) ([]compiledRule, error) {
	c.mu.RLock()
	if c.loaded {
		rules := c.rules
		c.mu.RUnlock()
		return rules, nil
	}
	c.mu.RUnlock()

	return c.reload(ctx)
}

// Invalidate drops the cached set. The next check reloads from the source.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.rules = nil
	c.mu.Unlock()
}

func (c *Cache) reload(ctx context.Context) ([]compiledRule, error) {
	stored, err := c.source.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(stored))
	for _, r := range stored {
		cr := compiledRule{rule: r}
		switch r.RuleType {
		case RuleTypeRegex:
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				// An unparseable pattern must never take the engine
				// down, the rule simply never matches.
				c.log.Warn("skipping guardrail rule with invalid regex", map[string]interface{}{
					"rule_id":   r.ID,
					"rule_name": r.Name,
					"error":     err.Error(),
				})
				continue
			}
			cr.regex = re
		case RuleTypeKeyword:
			for _, k := range strings.Split(r.Pattern, ",") {
				k = strings.ToLower(strings.TrimSpace(k))
				if k != "" {
					cr.keywords = append(cr.keywords, k)
				}
			}
			if len(cr.keywords) == 0 {
				continue
			}
		default:
			c.log.Warn("skipping guardrail rule with unknown type", map[string]interface{}{
				"rule_id":   r.ID,
				"rule_type": r.RuleType,
			})
			continue
		}
		compiled = append(compiled, cr)
	}

	c.mu.Lock()
	c.rules = compiled
	c.loaded = true
	c.mu.Unlock()

	metrics.GuardrailCacheReloads.Inc()
	c.log.Info("guardrail rule cache rebuilt", map[string]interface{}{
		"rules": len(compiled),
	})
	return compiled, nil
}
