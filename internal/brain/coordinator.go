package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"finsight/internal/agents"
	"finsight/internal/common/config"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

const defaultAgentTimeout = 10 * time.Second

// RunResult aggregates one dispatch: the extracted context, which agents
// were activated, and every captured outcome split by success.
type RunResult struct {
	Context        *intent.QueryContext `json:"context"`
	ActiveAgents   []string             `json:"activeAgents"`
	Successes      []agents.Outcome     `json:"successes,omitempty"`
	Failures       []agents.Outcome     `json:"failures,omitempty"`
	TotalElapsedMs int64                `json:"totalElapsedMs"`
	FromCache      bool                 `json:"-"`
}

// Coordinator extracts a context and fans the activated agents out
// concurrently. A nil redis client disables result caching.
type Coordinator struct {
	extractor    intent.Extractor
	agentSet     []agents.Agent
	cache        *redis.Client
	cacheTTL     time.Duration
	agentTimeout time.Duration
	log          logger.Logger
}

func NewCoordinator(extractor intent.Extractor, agentSet []agents.Agent, cache *redis.Client, cfg config.BrainConfig, log logger.Logger) *Coordinator {
	agentTimeout := time.Duration(cfg.AgentTimeout) * time.Millisecond
	if agentTimeout <= 0 {
		agentTimeout = defaultAgentTimeout
	}
	cacheTTL := time.Duration(cfg.CacheTTL) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Coordinator{
		extractor:    extractor,
		agentSet:     agentSet,
		cache:        cache,
		cacheTTL:     cacheTTL,
		agentTimeout: agentTimeout,
		log:          log,
	}
}

// Dispatch answers one question end to end up to synthesis: extract the
// context, activate agents, run them concurrently and join all of them.
// An empty activation set activates every agent so a query is never
// silently dropped.
func (c *Coordinator) Dispatch(ctx context.Context, rawQuery, cif string) (*RunResult, error) {
	if strings.TrimSpace(cif) == "" {
		return nil, apperrors.New(apperrors.ErrCodeInputInvalid, "customer identifier is required")
	}
	start := time.Now()

	if cached := c.cachedResult(ctx, rawQuery, cif); cached != nil {
		return cached, nil
	}

	qc, err := c.extractor.Extract(ctx, rawQuery, cif)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInputInvalid, "failed to extract query context", err)
	}

	active := c.activate(qc)
	result := &RunResult{Context: qc}
	for _, a := range active {
		result.ActiveAgents = append(result.ActiveAgents, a.Name())
	}

	outcomes := make([]agents.Outcome, len(active))
	var wg sync.WaitGroup
	for i, a := range active {
		wg.Add(1)
		go func(i int, a agents.Agent) {
			defer wg.Done()
			runCtx, cancel := context.WithTimeout(ctx, c.agentTimeout)
			defer cancel()
			outcomes[i] = agents.Execute(runCtx, a, qc)
		}(i, a)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.Handled {
			result.Successes = append(result.Successes, out)
		} else {
			result.Failures = append(result.Failures, out)
		}
	}
	result.TotalElapsedMs = time.Since(start).Milliseconds()

	c.log.Info("dispatch completed", map[string]interface{}{
		"cif":       cif,
		"agents":    result.ActiveAgents,
		"successes": len(result.Successes),
		"failures":  len(result.Failures),
		"elapsedMs": result.TotalElapsedMs,
		"degraded":  qc.Degraded,
	})

	if len(result.Failures) == 0 {
		c.storeResult(ctx, rawQuery, cif, result)
	}
	return result, nil
}

// activate computes the agent set for a context, falling back to every
// agent when none claims the query.
func (c *Coordinator) activate(qc *intent.QueryContext) []agents.Agent {
	var active []agents.Agent
	for _, a := range c.agentSet {
		if a.CanHandle(qc) {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return c.agentSet
	}
	return active
}

func cacheKey(rawQuery, cif string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(rawQuery)), " ")
	return fmt.Sprintf("dispatch:%s:%s", cif, normalized)
}

// cachedOutcome shadows Outcome.Payload with raw JSON so the concrete
// payload type can be restored per agent on a cache hit.
type cachedOutcome struct {
	agents.Outcome
	Payload json.RawMessage `json:"payload,omitempty"`
}

type cachedRunResult struct {
	Context        *intent.QueryContext `json:"context"`
	ActiveAgents   []string             `json:"activeAgents"`
	Successes      []cachedOutcome      `json:"successes,omitempty"`
	Failures       []agents.Outcome     `json:"failures,omitempty"`
	TotalElapsedMs int64                `json:"totalElapsedMs"`
}

func (c *Coordinator) cachedResult(ctx context.Context, rawQuery, cif string) *RunResult {
	if c.cache == nil {
		return nil
	}
	data, err := c.cache.Get(ctx, cacheKey(rawQuery, cif)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("dispatch cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}

	var cached cachedRunResult
	if err := json.Unmarshal(data, &cached); err != nil {
		c.log.Warn("dispatch cache entry unreadable", map[string]interface{}{"error": err.Error()})
		return nil
	}

	result := &RunResult{
		Context:        cached.Context,
		ActiveAgents:   cached.ActiveAgents,
		Failures:       cached.Failures,
		TotalElapsedMs: cached.TotalElapsedMs,
		FromCache:      true,
	}
	for _, co := range cached.Successes {
		payload, err := decodePayload(co.AgentName, co.Payload)
		if err != nil {
			c.log.Warn("dispatch cache payload unreadable", map[string]interface{}{
				"agent": co.AgentName,
				"error": err.Error(),
			})
			return nil
		}
		out := co.Outcome
		out.Payload = payload
		result.Successes = append(result.Successes, out)
	}
	return result
}

func (c *Coordinator) storeResult(ctx context.Context, rawQuery, cif string, result *RunResult) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(rawQuery, cif), data, c.cacheTTL).Err(); err != nil {
		c.log.Warn("dispatch cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

func decodePayload(agentName string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch agentName {
	case "transactions":
		var p agents.TransactionsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "customers":
		var p agents.CustomerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "contact":
		var p agents.ContactsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown agent payload: %s", agentName)
	}
}
