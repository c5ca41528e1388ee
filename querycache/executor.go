package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentcache/internal/metrics"
)

// Session executes SQL and returns rows as generic maps. It is the
// narrow seam between the cache layer and whatever owns the database
// connection.
type Session interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// GormSession adapts a *gorm.DB to Session. Parameters are passed as
// named arguments (@name placeholders).
type GormSession struct {
	db *gorm.DB
}

// NewGormSession creates a GormSession.
func NewGormSession(db *gorm.DB) *GormSession {
	return &GormSession{db: db}
}

// Execute implements Session.
func (s *GormSession) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	tx := s.db.WithContext(ctx)
	var rows *gorm.DB
	if len(params) > 0 {
		rows = tx.Raw(query, params)
	} else {
		rows = tx.Raw(query)
	}

	sqlRows, err := rows.Rows()
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer sqlRows.Close()

	cols, err := sqlRows.Columns()
	if err != nil {
		return nil, fmt.Errorf("column read failed: %w", err)
	}

	var out []map[string]any
	for sqlRows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return out, nil
}

// CachedQueryExecutor is a read-through wrapper: it serves query
// results from the cache and falls back to the session on a miss,
// caching the fresh rows on the way out. Cache problems never surface;
// only session errors do.
type CachedQueryExecutor struct {
	cache     *QueryCache
	session   Session
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewCachedQueryExecutor creates a CachedQueryExecutor. collector may
// be nil.
func NewCachedQueryExecutor(cache *QueryCache, session Session, logger *zap.Logger, collector *metrics.Collector) *CachedQueryExecutor {
	return &CachedQueryExecutor{
		cache:     cache,
		session:   session,
		logger:    logger.With(zap.String("component", "cached_query_executor")),
		collector: collector,
	}
}

// Execute returns rows for (query, params), consulting the cache
// first. Fresh results are cached under the given tags with the
// observed query duration feeding the adaptive TTL.
func (e *CachedQueryExecutor) Execute(ctx context.Context, query string, params map[string]any, tags []string) ([]map[string]any, error) {
	if raw, ok := e.cache.Get(ctx, query, params); ok {
		var rows []map[string]any
		err := json.Unmarshal(raw, &rows)
		if err == nil {
			return rows, nil
		}
		// Undecodable cached payload: recompute from the database.
		e.logger.Warn("cached rows undecodable, recomputing", zap.Error(err))
	}

	start := time.Now()
	rows, err := e.session.Execute(ctx, query, params)
	duration := time.Since(start)
	if e.collector != nil {
		e.collector.DBQuery(duration)
	}
	if err != nil {
		return nil, err
	}

	e.cache.Set(ctx, query, rows, params, duration, tags)
	return rows, nil
}
