package brain

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/agents"
	"finsight/internal/common/config"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/intent"
)

type stubAgent struct {
	name    string
	handles bool
	payload any
	err     error
	panics  bool
	delay   time.Duration
	runs    int
}

func (s *stubAgent) Name() string                          { return s.name }
func (s *stubAgent) CanHandle(_ *intent.QueryContext) bool { return s.handles }
func (s *stubAgent) Run(ctx context.Context, _ *intent.QueryContext) (any, error) {
	s.runs++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.ErrCodeQueryTimeout, "cancelled", ctx.Err())
		}
	}
	if s.panics {
		panic("boom")
	}
	return s.payload, s.err
}

func newTestCoordinator(t *testing.T, cache *redis.Client, agentSet ...agents.Agent) *Coordinator {
	t.Helper()
	extractor := intent.NewRuleBasedWithClock(func() time.Time {
		return time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)
	})
	return NewCoordinator(extractor, agentSet, cache, config.BrainConfig{AgentTimeout: 2000, CacheTTL: 60}, logger.NewTestLogger(t))
}

func TestDispatchRequiresCIF(t *testing.T) {
	coord := newTestCoordinator(t, nil, &stubAgent{name: "transactions", handles: true})

	_, err := coord.Dispatch(context.Background(), "my spending", "  ")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInputInvalid, apperrors.CodeOf(err))
}

func TestDispatchActivatesOnlyClaimingAgents(t *testing.T) {
	txn := &stubAgent{name: "transactions", handles: true, payload: &agents.TransactionsPayload{Kind: "summary"}}
	cust := &stubAgent{name: "customers", handles: false}
	coord := newTestCoordinator(t, nil, txn, cust)

	result, err := coord.Dispatch(context.Background(), "my spending", "CIF001")

	require.NoError(t, err)
	assert.Equal(t, []string{"transactions"}, result.ActiveAgents)
	assert.Equal(t, 1, txn.runs)
	assert.Zero(t, cust.runs)
}

func TestDispatchFailOpenAgentsDecline(t *testing.T) {
	txn := &stubAgent{name: "transactions", payload: &agents.TransactionsPayload{Kind: "search"}}
	cust := &stubAgent{name: "customers", payload: &agents.CustomerPayload{Kind: "profile"}}
	contact := &stubAgent{name: "contact", payload: &agents.ContactsPayload{Kind: "all"}}
	coord := newTestCoordinator(t, nil, txn, cust, contact)

	result, err := coord.Dispatch(context.Background(), "hello there", "CIF001")

	require.NoError(t, err)
	// Fail-open activation still names all three agents, but each one
	// re-checks its claim and declines, so a keyword-free question ends
	// with zero successes and synthesis reports no results.
	assert.Len(t, result.ActiveAgents, 3)
	assert.Empty(t, result.Successes)
	require.Len(t, result.Failures, 3)
	for _, f := range result.Failures {
		assert.Equal(t, string(apperrors.ErrCodeNoResults), f.ErrorKind)
	}
	assert.Zero(t, txn.runs)
	assert.Zero(t, cust.runs)
	assert.Zero(t, contact.runs)
}

func TestDispatchIsolatesAgentFailures(t *testing.T) {
	txn := &stubAgent{name: "transactions", handles: true, payload: &agents.TransactionsPayload{Kind: "summary"}}
	cust := &stubAgent{name: "customers", handles: true, err: apperrors.New(apperrors.ErrCodeQueryExecutionFailed, "db down")}
	contact := &stubAgent{name: "contact", handles: true, panics: true}
	coord := newTestCoordinator(t, nil, txn, cust, contact)

	result, err := coord.Dispatch(context.Background(), "everything about me", "CIF001")

	require.NoError(t, err)
	require.Len(t, result.Successes, 1)
	assert.Equal(t, "transactions", result.Successes[0].AgentName)
	require.Len(t, result.Failures, 2)

	kinds := map[string]string{}
	for _, f := range result.Failures {
		kinds[f.AgentName] = f.ErrorKind
	}
	assert.Equal(t, string(apperrors.ErrCodeQueryExecutionFailed), kinds["customers"])
	assert.Equal(t, string(apperrors.ErrCodeAgentFault), kinds["contact"])
}

func TestDispatchRecordsElapsedTime(t *testing.T) {
	txn := &stubAgent{name: "transactions", handles: true, delay: 20 * time.Millisecond,
		payload: &agents.TransactionsPayload{Kind: "summary"}}
	coord := newTestCoordinator(t, nil, txn)

	result, err := coord.Dispatch(context.Background(), "my spending", "CIF001")

	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.TotalElapsedMs, int64(20))
}

func TestDispatchServesCachedResult(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	txn := &stubAgent{name: "transactions", handles: true, payload: &agents.TransactionsPayload{
		Kind:    "summary",
		Summary: &agents.SpendingSummary{TotalSpent: 1500000, TransactionCount: 7},
	}}
	coord := newTestCoordinator(t, client, txn)

	first, err := coord.Dispatch(context.Background(), "My Spending  last month", "CIF001")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// Same query modulo case and spacing hits the cache, the agent does
	// not run again and the payload keeps its concrete type.
	second, err := coord.Dispatch(context.Background(), "my spending last month", "CIF001")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, txn.runs)

	require.Len(t, second.Successes, 1)
	tp, ok := second.Successes[0].Payload.(*agents.TransactionsPayload)
	require.True(t, ok)
	require.NotNil(t, tp.Summary)
	assert.Equal(t, 1500000.0, tp.Summary.TotalSpent)
}

func TestDispatchDoesNotCacheFailedRuns(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	txn := &stubAgent{name: "transactions", handles: true, err: apperrors.New(apperrors.ErrCodeQueryExecutionFailed, "db down")}
	coord := newTestCoordinator(t, client, txn)

	_, err := coord.Dispatch(context.Background(), "my spending", "CIF001")
	require.NoError(t, err)

	_, err = coord.Dispatch(context.Background(), "my spending", "CIF001")
	require.NoError(t, err)
	assert.Equal(t, 2, txn.runs)
}
