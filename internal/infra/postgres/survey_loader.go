package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-survey-service/internal/domain"
)

// SurveyLoader loads surveys and their JSONB questions from Postgres.
type SurveyLoader struct {
	pool *pgxpool.Pool
}

func NewSurveyLoader(pool *pgxpool.Pool) *SurveyLoader {
	return &SurveyLoader{pool: pool}
}

func (l *SurveyLoader) LoadSurvey(ctx context.Context, surveyID string) (domain.Survey, error) {
	survey := domain.Survey{ID: surveyID}
	err := l.pool.QueryRow(ctx, `SELECT name FROM surveys WHERE id=$1`, surveyID).Scan(&survey.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Survey{}, domain.ErrSurveyNotFound
	}
	if err != nil {
		return domain.Survey{}, fmt.Errorf("load survey: %w", err)
	}

	rows, err := l.pool.Query(ctx, `SELECT id, data FROM survey_questions WHERE survey_id=$1 ORDER BY id`, surveyID)
	if err != nil {
		return domain.Survey{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return domain.Survey{}, fmt.Errorf("scan question: %w", err)
		}
		var question domain.Question
		if err := json.Unmarshal(raw, &question); err != nil {
			return domain.Survey{}, fmt.Errorf("unmarshal question %s: %w", id, err)
		}
		question.ID = id
		survey.Questions = append(survey.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return domain.Survey{}, fmt.Errorf("load questions: %w", err)
	}
	// ORDER BY uses the database collation; the sequence index is defined by byte order.
	domain.SortQuestions(survey.Questions)
	return survey, nil
}
