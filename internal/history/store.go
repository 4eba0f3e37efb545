package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
)

const recentListSize = 20

// Entry is one answered question.
type Entry struct {
	ID           string    `json:"id"`
	CIF          string    `json:"cif"`
	Query        string    `json:"query"`
	Answer       string    `json:"answer"`
	Status       string    `json:"status"`
	ResponseKind string    `json:"responseKind,omitempty"`
	LatencyMs    int64     `json:"latencyMs"`
	TokensUsed   int       `json:"tokensUsed"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists answer history in Postgres and mirrors a short recent list
// per customer in redis. A nil redis client disables the recent list.
type Store struct {
	db    *sql.DB
	cache *redis.Client
	log   logger.Logger
}

func NewStore(db *sql.DB, cache *redis.Client, log logger.Logger) *Store {
	return &Store{db: db, cache: cache, log: log}
}

// Record stores one entry. The caller treats a failure here as
// non-fatal, an answer is never withheld because history could not be
// written.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO answer_history
			(id, cif, query, answer, status, response_kind, latency_ms, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.CIF, e.Query, e.Answer, e.Status, e.ResponseKind,
		e.LatencyMs, e.TokensUsed, e.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeQueryExecutionFailed, "failed to record history entry", err)
	}

	s.pushRecent(ctx, e)
	return nil
}

func recentKey(cif string) string {
	return "history:recent:" + cif
}

func (s *Store) pushRecent(ctx context.Context, e *Entry) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	pipe := s.cache.Pipeline()
	pipe.LPush(ctx, recentKey(e.CIF), data)
	pipe.LTrim(ctx, recentKey(e.CIF), 0, recentListSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("failed to update recent history list", map[string]interface{}{
			"cif":   e.CIF,
			"error": err.Error(),
		})
	}
}

// Recent returns the latest entries for a customer, served from redis when
// available and from Postgres otherwise.
func (s *Store) Recent(ctx context.Context, cif string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > recentListSize {
		limit = recentListSize
	}

	if s.cache != nil {
		values, err := s.cache.LRange(ctx, recentKey(cif), 0, int64(limit-1)).Result()
		if err == nil && len(values) > 0 {
			entries := make([]Entry, 0, len(values))
			for _, v := range values {
				var e Entry
				if err := json.Unmarshal([]byte(v), &e); err != nil {
					continue
				}
				entries = append(entries, e)
			}
			return entries, nil
		}
		if err != nil && err != redis.Nil {
			s.log.Warn("recent history list unavailable", map[string]interface{}{
				"cif":   cif,
				"error": err.Error(),
			})
		}
	}

	const query = `
		SELECT id, cif, query, answer, status, COALESCE(response_kind, ''),
		       latency_ms, tokens_used, created_at
		FROM answer_history
		WHERE cif = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, cif, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeQueryExecutionFailed, "failed to load history", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CIF, &e.Query, &e.Answer, &e.Status,
			&e.ResponseKind, &e.LatencyMs, &e.TokensUsed, &e.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeQueryExecutionFailed, "failed to scan history entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeQueryExecutionFailed, "failed to iterate history", err)
	}
	return entries, nil
}
