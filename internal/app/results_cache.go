package app

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"live-survey-service/internal/domain"
)

// ResultsCache keeps the aggregation of each finalized session run so concurrent viewers share one
// computation. A run is identified by the session id and its creation time, so a session that
// was torn down elsewhere and recreated under the same id never sees the previous run's results.
type ResultsCache struct {
	sf singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedResults
}

type cachedResults struct {
	run     string
	results domain.Results
}

func NewResultsCache() *ResultsCache {
	return &ResultsCache{cache: make(map[string]cachedResults)}
}

// Get returns cached results for the run or runs compute once for all concurrent callers.
// compute outlives the caller that triggered it, so one disconnecting viewer does not fail the rest.
func (c *ResultsCache) Get(ctx context.Context, sessionID, run string, compute func(context.Context) (domain.Results, error)) (domain.Results, error) {
	if results, ok := c.lookup(sessionID, run); ok {
		return results, nil
	}

	result, err, _ := c.sf.Do(sessionID+"@"+run, func() (interface{}, error) {
		if results, ok := c.lookup(sessionID, run); ok {
			return results, nil
		}

		results, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return domain.Results{}, err
		}

		c.mu.Lock()
		c.cache[sessionID] = cachedResults{run: run, results: results}
		c.mu.Unlock()
		return results, nil
	})
	if err != nil {
		return domain.Results{}, err
	}
	return result.(domain.Results), nil
}

func (c *ResultsCache) lookup(sessionID, run string) (domain.Results, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[sessionID]
	if !ok || entry.run != run {
		return domain.Results{}, false
	}
	return entry.results, true
}

// Invalidate drops the cached results of a session, whatever run they belong to.
func (c *ResultsCache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.cache, sessionID)
	c.mu.Unlock()
}
