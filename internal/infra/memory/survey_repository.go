package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-survey-service/internal/domain"
)

// missTTL bounds how long an unknown survey id is remembered. Joins against a session whose
// survey was never seeded would otherwise hit the loader on every frame.
const missTTL = 5 * time.Second

// SurveyLoader fetches survey content from a backing store (e.g., Postgres).
type SurveyLoader interface {
	LoadSurvey(ctx context.Context, surveyID string) (domain.Survey, error)
}

// SurveyRepository is the process-local survey cache used when no Redis is configured.
// Loaded surveys live for the TTL plus jitter, unknown ids for missTTL.
type SurveyRepository struct {
	loader SurveyLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu      sync.Mutex
	rnd     *rand.Rand
	entries map[string]surveyEntry
}

type surveyEntry struct {
	survey    domain.Survey
	missing   bool
	expiresAt time.Time
}

func NewSurveyRepository(loader SurveyLoader, ttl time.Duration) *SurveyRepository {
	return &SurveyRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]surveyEntry),
	}
}

// GetSurvey returns the survey with questions in id order.
func (r *SurveyRepository) GetSurvey(ctx context.Context, surveyID string) (domain.Survey, error) {
	if entry, ok := r.lookup(surveyID); ok {
		return entry.result()
	}

	result, err, _ := r.sf.Do(surveyID, func() (interface{}, error) {
		if entry, ok := r.lookup(surveyID); ok {
			survey, err := entry.result()
			return survey, err
		}

		survey, err := r.loader.LoadSurvey(ctx, surveyID)
		switch {
		case errors.Is(err, domain.ErrSurveyNotFound):
			r.store(surveyID, surveyEntry{missing: true}, missTTL)
			return domain.Survey{}, err
		case err != nil:
			return domain.Survey{}, err
		}
		domain.SortQuestions(survey.Questions)
		r.store(surveyID, surveyEntry{survey: survey}, r.ttl)
		return survey, nil
	})
	if err != nil {
		return domain.Survey{}, err
	}
	return result.(domain.Survey), nil
}

// Invalidate drops a cached survey or a remembered miss, e.g. after the survey was re-seeded.
func (r *SurveyRepository) Invalidate(_ context.Context, surveyID string) error {
	r.mu.Lock()
	delete(r.entries, surveyID)
	r.mu.Unlock()
	r.sf.Forget(surveyID)
	return nil
}

func (r *SurveyRepository) lookup(surveyID string) (surveyEntry, bool) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[surveyID]
	if !ok || !entry.expiresAt.After(now) {
		return surveyEntry{}, false
	}
	return entry, true
}

// store keeps nothing when caching is disabled by a zero TTL.
func (r *SurveyRepository) store(surveyID string, entry surveyEntry, ttl time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if ttl > r.ttl {
		ttl = r.ttl
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// up to 10% jitter spreads reloads of surveys loaded together
	entry.expiresAt = r.clock().Add(ttl + time.Duration(r.rnd.Int63n(int64(ttl)/10+1)))
	r.entries[surveyID] = entry
}

func (e surveyEntry) result() (domain.Survey, error) {
	if e.missing {
		return domain.Survey{}, domain.ErrSurveyNotFound
	}
	return e.survey, nil
}

// StaticSurveyLoader serves surveys read from YAML files at startup.
type StaticSurveyLoader struct {
	surveys map[string]domain.Survey
}

func NewStaticSurveyLoader(surveys map[string]domain.Survey) *StaticSurveyLoader {
	return &StaticSurveyLoader{surveys: surveys}
}

func (l *StaticSurveyLoader) LoadSurvey(_ context.Context, surveyID string) (domain.Survey, error) {
	survey, ok := l.surveys[surveyID]
	if !ok {
		return domain.Survey{}, domain.ErrSurveyNotFound
	}
	// callers sort the questions in place
	survey.Questions = append([]domain.Question(nil), survey.Questions...)
	return survey, nil
}
