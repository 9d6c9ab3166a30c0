package app

import (
	"context"
	"sync"
	"testing"

	"live-survey-service/internal/domain"
)

func TestResultsCacheSurvivesCanceledCaller(t *testing.T) {
	cache := NewResultsCache()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (domain.Results, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return domain.Results{}, err
		}
		return domain.Results{SessionID: "s1"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		_, err := cache.Get(ctx, "s1", "run", compute)
		errs <- err
	}()
	<-started
	go func() {
		results, err := cache.Get(context.Background(), "s1", "run", compute)
		if err == nil && results.SessionID != "s1" {
			t.Errorf("unexpected results %+v", results)
		}
		errs <- err
	}()

	cancel()
	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("expected results despite the canceled caller, got %v", err)
		}
	}
}

func TestResultsCacheSeparatesRuns(t *testing.T) {
	cache := NewResultsCache()
	ctx := context.Background()
	calls := 0
	compute := func(run string) func(context.Context) (domain.Results, error) {
		return func(context.Context) (domain.Results, error) {
			calls++
			return domain.Results{SurveyID: run}, nil
		}
	}

	if got, _ := cache.Get(ctx, "s1", "first", compute("first")); got.SurveyID != "first" {
		t.Fatalf("expected first run, got %+v", got)
	}
	if got, _ := cache.Get(ctx, "s1", "first", compute("other")); got.SurveyID != "first" || calls != 1 {
		t.Fatalf("expected a cache hit, got %+v after %d calls", got, calls)
	}
	if got, _ := cache.Get(ctx, "s1", "second", compute("second")); got.SurveyID != "second" {
		t.Fatalf("expected a recreated session to recompute, got %+v", got)
	}

	cache.Invalidate("s1")
	if got, _ := cache.Get(ctx, "s1", "second", compute("again")); got.SurveyID != "again" || calls != 3 {
		t.Fatalf("expected invalidation to drop the entry, got %+v after %d calls", got, calls)
	}
}
