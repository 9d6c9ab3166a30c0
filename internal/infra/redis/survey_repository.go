package redis

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-survey-service/internal/domain"
)

// SurveyLoader fetches survey content from a backing store (e.g., Postgres).
type SurveyLoader interface {
	LoadSurvey(ctx context.Context, surveyID string) (domain.Survey, error)
}

// SurveyRepository caches whole surveys in Redis and falls back to a loader on cache miss.
// Surveys are stored as: SET survey:{surveyID} {json}
type SurveyRepository struct {
	client *redis.Client
	loader SurveyLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewSurveyRepository(client *redis.Client, loader SurveyLoader, ttl time.Duration) *SurveyRepository {
	return &SurveyRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SurveyRepository) GetSurvey(ctx context.Context, surveyID string) (domain.Survey, error) {
	if survey, ok := r.cached(ctx, surveyID); ok {
		return survey, nil
	}

	result, err, _ := r.sf.Do(surveyID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if survey, ok := r.cached(ctx, surveyID); ok {
			return survey, nil
		}

		survey, err := r.loader.LoadSurvey(ctx, surveyID)
		if err != nil {
			return domain.Survey{}, err
		}
		domain.SortQuestions(survey.Questions)

		data, err := json.Marshal(survey)
		if err != nil {
			return domain.Survey{}, err
		}
		if err := r.client.Set(ctx, r.key(surveyID), data, r.ttlWithJitter()).Err(); err != nil {
			log.Printf("cache survey %s: %v", surveyID, err)
		}
		return survey, nil
	})
	if err != nil {
		return domain.Survey{}, err
	}
	return result.(domain.Survey), nil
}

// Invalidate drops a cached survey, e.g. after it was re-seeded.
func (r *SurveyRepository) Invalidate(ctx context.Context, surveyID string) error {
	return r.client.Del(ctx, r.key(surveyID)).Err()
}

func (r *SurveyRepository) cached(ctx context.Context, surveyID string) (domain.Survey, bool) {
	data, err := r.client.Get(ctx, r.key(surveyID)).Bytes()
	if err != nil {
		return domain.Survey{}, false
	}
	var survey domain.Survey
	if err := json.Unmarshal(data, &survey); err != nil {
		return domain.Survey{}, false
	}
	return survey, true
}

func (r *SurveyRepository) key(surveyID string) string {
	return "survey:" + surveyID
}

func (r *SurveyRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
