package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"live-survey-service/internal/config"
	"live-survey-service/internal/domain"
)

func TestReadSurveyFileSortsQuestions(t *testing.T) {
	survey, err := readSurveyFile(filepath.Join("..", "..", "config", "sample_survey.yaml"))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if survey.ID != "team-night" || len(survey.Questions) != 4 {
		t.Fatalf("unexpected sample survey %+v", survey)
	}
	for i := 1; i < len(survey.Questions); i++ {
		if survey.Questions[i-1].ID > survey.Questions[i].ID {
			t.Fatalf("questions not ordered by id: %v", survey.Questions)
		}
	}
}

func TestReadSurveyFileRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	raw := "id: bad\nquestions:\n  - id: q1\n    type: free-text\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readSurveyFile(path); err == nil {
		t.Fatalf("expected unknown question type to be rejected")
	}
}

func TestBuildRuntimeInMemory(t *testing.T) {
	var cfg config.Config
	cfg.Survey.Files = []string{filepath.Join("..", "..", "config", "sample_survey.yaml")}

	rt, err := buildRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	session, err := rt.service.CreateSession(ctx, "", "team-night")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	res, err := rt.service.Join(ctx, session.ID, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Role != domain.RoleAdmin || res.State.Total != 4 {
		t.Fatalf("unexpected join result %+v", res)
	}
}
