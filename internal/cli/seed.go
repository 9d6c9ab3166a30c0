package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-survey-service/internal/app"
	"live-survey-service/internal/config"
	"live-survey-service/internal/domain"
	"live-survey-service/internal/infra/postgres"
	redisstore "live-survey-service/internal/infra/redis"
)

// surveyWriter is the Postgres side of seeding.
type surveyWriter interface {
	SaveSurvey(ctx context.Context, survey domain.Survey) error
	DeleteSurvey(ctx context.Context, surveyID string) error
}

// NewSeedCmd writes YAML surveys into Postgres, or deletes surveys by id, and drops stale
// copies from the Redis cache.
func NewSeedCmd(configPath *string) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "seed <survey.yaml>... | seed --delete <survey-id>...",
		Short: "Load surveys from YAML files into Postgres",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			db := postgres.OpenDB(cfg.Postgres.URL)
			defer db.Close()

			var cache app.SurveyInvalidator
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				cache = redisstore.NewSurveyRepository(client, nil, 0)
			}

			writer := postgres.NewSurveyWriter(db)
			if remove {
				return deleteSurveys(cmd.Context(), writer, cache, args)
			}
			return seedSurveys(cmd.Context(), writer, cache, args)
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "treat arguments as survey ids and delete them")
	return cmd
}

func seedSurveys(ctx context.Context, writer surveyWriter, cache app.SurveyInvalidator, paths []string) error {
	for _, path := range paths {
		survey, err := readSurveyFile(path)
		if err != nil {
			return err
		}
		if err := writer.SaveSurvey(ctx, survey); err != nil {
			return fmt.Errorf("seed %s: %w", survey.ID, err)
		}
		invalidate(ctx, cache, survey.ID)
		log.Printf("seeded survey %s with %d questions", survey.ID, len(survey.Questions))
	}
	return nil
}

func deleteSurveys(ctx context.Context, writer surveyWriter, cache app.SurveyInvalidator, ids []string) error {
	for _, id := range ids {
		if err := writer.DeleteSurvey(ctx, id); err != nil {
			return fmt.Errorf("delete survey %s: %w", id, err)
		}
		invalidate(ctx, cache, id)
		log.Printf("deleted survey %s", id)
	}
	return nil
}

func invalidate(ctx context.Context, cache app.SurveyInvalidator, surveyID string) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx, surveyID); err != nil {
		log.Printf("invalidate cached survey %s: %v", surveyID, err)
	}
}
