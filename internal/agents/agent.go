package agents

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/common/metrics"
	"finsight/internal/intent"
)

// Agent is one bounded data domain. CanHandle is a pure predicate over the
// extracted context, Run performs the data-store work. Run reports failures
// through its error return, it must not panic, and Execute catches a panic
// anyway so a buggy agent cannot abort its siblings.
type Agent interface {
	Name() string
	CanHandle(qc *intent.QueryContext) bool
	Run(ctx context.Context, qc *intent.QueryContext) (any, error)
}

// Outcome is the captured result of one agent run, success or failure.
type Outcome struct {
	AgentName    string `json:"agentName"`
	Handled      bool   `json:"handled"`
	Payload      any    `json:"payload,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ElapsedMs    int64  `json:"elapsedMs"`
}

// Execute runs one agent and captures every failure mode, including a
// panic, into an Outcome. The agent's claim is re-checked here: activation
// may be fail-open, and an agent that does not claim the query declines
// without touching the store.
func Execute(ctx context.Context, a Agent, qc *intent.QueryContext) (out Outcome) {
	out = Outcome{AgentName: a.Name()}
	if !a.CanHandle(qc) {
		out.ErrorKind = string(apperrors.ErrCodeNoResults)
		out.ErrorMessage = "query is outside this agent's domain"
		return out
	}
	start := time.Now()
	defer func() {
		out.ElapsedMs = time.Since(start).Milliseconds()
		metrics.AgentRunDuration.WithLabelValues(out.AgentName).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			out.Handled = false
			out.Payload = nil
			out.ErrorKind = string(apperrors.ErrCodeAgentFault)
			out.ErrorMessage = fmt.Sprintf("agent panicked: %v", r)
			metrics.AgentRunsFailed.WithLabelValues(out.AgentName, out.ErrorKind).Inc()
		}
	}()

	payload, err := a.Run(ctx, qc)
	if err != nil {
		out.ErrorKind = string(apperrors.CodeOf(err))
		out.ErrorMessage = err.Error()
		metrics.AgentRunsFailed.WithLabelValues(out.AgentName, out.ErrorKind).Inc()
		return out
	}

	out.Handled = true
	out.Payload = payload
	metrics.AgentRunsCompleted.WithLabelValues(out.AgentName).Inc()
	return out
}

// NewRegistry builds the fixed agent set. There is no dynamic discovery,
// adding an agent means adding it here.
func NewRegistry(db *sql.DB, log logger.Logger) []Agent {
	return []Agent{
		NewTransactionsAgent(db, log),
		NewCustomersAgent(db, log),
		NewContactsAgent(db, log),
	}
}

// wrapQueryError maps a data-store failure onto the shared error taxonomy,
// distinguishing deadline expiry from execution failures.
func wrapQueryError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.ErrCodeQueryTimeout, msg, ctx.Err())
	}
	return apperrors.Wrap(apperrors.ErrCodeQueryExecutionFailed, msg, err)
}
