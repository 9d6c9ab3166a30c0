package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-survey-service/internal/domain"
)

type surveyRow struct {
	bun.BaseModel `bun:"table:surveys"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:survey_questions"`

	SurveyID string          `bun:"survey_id,pk"`
	ID       string          `bun:"id,pk"`
	Data     json.RawMessage `bun:"data,type:jsonb"`
}

// OpenDB opens a bun handle over the pg driver.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// SurveyWriter upserts surveys. Questions are replaced wholesale so a re-seed never leaves
// stale questions behind.
type SurveyWriter struct {
	db *bun.DB
}

func NewSurveyWriter(db *bun.DB) *SurveyWriter {
	return &SurveyWriter{db: db}
}

func (w *SurveyWriter) SaveSurvey(ctx context.Context, survey domain.Survey) error {
	if survey.ID == "" {
		return fmt.Errorf("survey id is required")
	}
	questions := make([]questionRow, 0, len(survey.Questions))
	for _, q := range survey.Questions {
		if q.ID == "" {
			return fmt.Errorf("question without id in survey %s", survey.ID)
		}
		if !q.Type.Valid() {
			return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
		}
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		questions = append(questions, questionRow{SurveyID: survey.ID, ID: q.ID, Data: data})
	}

	return w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &surveyRow{ID: survey.ID, Name: survey.Name}
		if _, err := tx.NewInsert().Model(row).
			On("CONFLICT (id) DO UPDATE").
			Set("name = EXCLUDED.name").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert survey: %w", err)
		}
		if _, err := tx.NewDelete().Model((*questionRow)(nil)).
			Where("survey_id = ?", survey.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}
		if len(questions) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&questions).Exec(ctx); err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
		return nil
	})
}

// DeleteSurvey removes a survey and, through the foreign key, its questions.
func (w *SurveyWriter) DeleteSurvey(ctx context.Context, surveyID string) error {
	_, err := w.db.NewDelete().Model((*surveyRow)(nil)).Where("id = ?", surveyID).Exec(ctx)
	return err
}
