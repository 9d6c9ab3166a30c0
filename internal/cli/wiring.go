package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"live-survey-service/internal/app"
	"live-survey-service/internal/config"
	"live-survey-service/internal/domain"
	"live-survey-service/internal/infra/memory"
	"live-survey-service/internal/infra/postgres"
	redisstore "live-survey-service/internal/infra/redis"
)

// runtime holds the wired service plus the connections it owns.
type runtime struct {
	service *app.SessionService
	surveys app.SurveyRepository

	redis *redis.Client
	pool  *pgxpool.Pool
}

func (r *runtime) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{}

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.pool = pool
	}

	var loader memory.SurveyLoader
	if rt.pool != nil {
		loader = postgres.NewSurveyLoader(rt.pool)
	} else {
		surveys, err := readSurveyFiles(cfg.Survey.Files)
		if err != nil {
			rt.Close()
			return nil, err
		}
		loader = memory.NewStaticSurveyLoader(surveys)
	}

	surveyTTL := config.TTLDuration(cfg.Survey.TTL, 10*time.Minute)
	var store app.SessionStore
	if rt.redis != nil {
		rt.surveys = redisstore.NewSurveyRepository(rt.redis, loader, surveyTTL)
		store = redisstore.NewSessionStore(rt.redis, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	} else {
		rt.surveys = memory.NewSurveyRepository(loader, surveyTTL)
		store = memory.NewSessionStore()
	}

	opts := []app.Option{
		app.WithTransitionDelay(config.TTLDuration(cfg.Session.TransitionDelay, 10*time.Second)),
	}
	if cfg.Session.MaxRetries > 0 {
		opts = append(opts, app.WithMaxRetries(cfg.Session.MaxRetries))
	}
	rt.service = app.NewSessionService(store, rt.surveys, opts...)
	return rt, nil
}

func readSurveyFiles(paths []string) (map[string]domain.Survey, error) {
	surveys := make(map[string]domain.Survey, len(paths))
	for _, path := range paths {
		survey, err := readSurveyFile(path)
		if err != nil {
			return nil, err
		}
		surveys[survey.ID] = survey
		log.Printf("loaded survey %s (%d questions) from %s", survey.ID, len(survey.Questions), path)
	}
	return surveys, nil
}

func readSurveyFile(path string) (domain.Survey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Survey{}, err
	}
	var survey domain.Survey
	if err := yaml.Unmarshal(data, &survey); err != nil {
		return domain.Survey{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if survey.ID == "" {
		return domain.Survey{}, fmt.Errorf("%s: survey id is required", path)
	}
	for _, q := range survey.Questions {
		if !q.Type.Valid() {
			return domain.Survey{}, fmt.Errorf("%s: question %s has unknown type %q", path, q.ID, q.Type)
		}
	}
	domain.SortQuestions(survey.Questions)
	return survey, nil
}
