package app

import (
	"sort"

	"live-survey-service/internal/domain"
)

// Aggregate computes per-question statistics from a finalized set of participants. It is pure:
// the same inputs always produce the same output. Answers that do not fit their question are
// excluded from the tallies and counted in Excluded.
func Aggregate(sessionID string, survey domain.Survey, participants []domain.Participant) domain.Results {
	ordered := make([]domain.Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	results := domain.Results{
		SessionID: sessionID,
		SurveyID:  survey.ID,
		Questions: make([]domain.QuestionStats, 0, len(survey.Questions)),
	}
	for idx, question := range survey.Questions {
		answers, excluded := validAnswers(idx, question, ordered)
		stats := domain.QuestionStats{
			Index:      idx,
			QuestionID: question.ID,
			Type:       question.Type,
			Excluded:   excluded,
		}
		switch question.Type {
		case domain.SingleChoiceType:
			stats.Choice = tallyChoices(question, answers)
		case domain.RankedOrderType:
			stats.Ranking = averageRankings(question, answers)
		case domain.PairedAssociationType:
			stats.Pairs = countPairs(answers)
		case domain.BinaryCategorizationType:
			stats.Categories = countCategories(question, answers)
		}
		results.Excluded += excluded
		results.Questions = append(results.Questions, stats)
	}
	return results
}

func validAnswers(idx int, question domain.Question, participants []domain.Participant) ([]domain.Answer, int) {
	answers := make([]domain.Answer, 0, len(participants))
	excluded := 0
	for _, p := range participants {
		answer, ok := p.Answers[idx]
		if !ok || answer == nil {
			continue
		}
		if err := question.Validate(answer); err != nil {
			excluded++
			continue
		}
		answers = append(answers, answer)
	}
	return answers, excluded
}

func tallyChoices(question domain.Question, answers []domain.Answer) *domain.ChoiceStats {
	stats := &domain.ChoiceStats{Votes: make(map[int]int, len(question.Options))}
	for i := range question.Options {
		stats.Votes[i] = 0
	}
	for _, answer := range answers {
		stats.Votes[int(answer.(domain.SingleChoice))]++
		stats.TotalVotes++
	}
	stats.Tally = make([]domain.OptionVotes, 0, len(stats.Votes))
	for option, votes := range stats.Votes {
		stats.Tally = append(stats.Tally, domain.OptionVotes{Option: option, Votes: votes})
	}
	sort.Slice(stats.Tally, func(i, j int) bool {
		if stats.Tally[i].Votes != stats.Tally[j].Votes {
			return stats.Tally[i].Votes > stats.Tally[j].Votes
		}
		return stats.Tally[i].Option < stats.Tally[j].Option
	})
	return stats
}

func averageRankings(question domain.Question, answers []domain.Answer) *domain.RankingStats {
	n := len(question.Options)
	positions := make([][]int, n)
	for _, answer := range answers {
		for pos, option := range answer.(domain.RankedOrder) {
			positions[option] = append(positions[option], pos)
		}
	}

	stats := &domain.RankingStats{Entries: make([]domain.RankEntry, 0, n), Total: len(answers)}
	for option := 0; option < n; option++ {
		entry := domain.RankEntry{
			Option:    option,
			Count:     len(positions[option]),
			Positions: positions[option],
		}
		if entry.Positions == nil {
			entry.Positions = []int{}
		}
		if entry.Count == 0 {
			// unranked options sort as the worst possible position
			entry.AveragePosition = float64(n - 1)
		} else {
			sum := 0
			for _, p := range entry.Positions {
				sum += p
			}
			entry.AveragePosition = float64(sum) / float64(entry.Count)
		}
		stats.Entries = append(stats.Entries, entry)
	}
	sort.SliceStable(stats.Entries, func(i, j int) bool {
		if stats.Entries[i].AveragePosition != stats.Entries[j].AveragePosition {
			return stats.Entries[i].AveragePosition < stats.Entries[j].AveragePosition
		}
		return stats.Entries[i].Option < stats.Entries[j].Option
	})
	return stats
}

func countPairs(answers []domain.Answer) *domain.PairStats {
	counts := make(map[domain.Pair]int)
	for _, answer := range answers {
		seen := make(map[domain.Pair]struct{})
		for _, pair := range answer.(domain.PairedAssociation).Pairs() {
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			counts[pair]++
		}
	}

	stats := &domain.PairStats{Pairs: make([]domain.PairCount, 0, len(counts)), Total: len(answers)}
	for pair, count := range counts {
		stats.Pairs = append(stats.Pairs, domain.PairCount{Pair: pair, Count: count})
	}
	sort.Slice(stats.Pairs, func(i, j int) bool {
		a, b := stats.Pairs[i], stats.Pairs[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.A != b.A {
			return a.A < b.A
		}
		return a.B < b.B
	})
	return stats
}

func countCategories(question domain.Question, answers []domain.Answer) *domain.CategoryStats {
	stats := &domain.CategoryStats{
		CategoryA: question.CategoryA,
		CategoryB: question.CategoryB,
		Options:   make([]domain.CategoryCount, len(question.Options)),
		Total:     len(answers),
	}
	for i := range stats.Options {
		stats.Options[i].Option = i
	}
	for _, answer := range answers {
		for option, category := range answer.(domain.BinaryCategorization) {
			if category == 0 {
				stats.Options[option].A++
			} else {
				stats.Options[option].B++
			}
		}
	}
	return stats
}
