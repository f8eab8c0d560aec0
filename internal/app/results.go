package app

import (
	"math"
	"sort"

	"crowdplay-room-service/internal/domain"
)

// buildLeaderboard ranks standings by score descending, breaking ties by
// join order so repeated snapshots of the same scores agree.
func buildLeaderboard(standings []playerStanding, limit int) []domain.LeaderboardEntry {
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].player.Score != standings[j].player.Score {
			return standings[i].player.Score > standings[j].player.Score
		}
		return standings[i].order < standings[j].order
	})

	if limit > 0 && len(standings) > limit {
		standings = standings[:limit]
	}
	entries := make([]domain.LeaderboardEntry, len(standings))
	for i, st := range standings {
		entries[i] = domain.LeaderboardEntry{
			Rank:        i + 1,
			PlayerID:    st.player.PlayerID,
			DisplayName: st.player.DisplayName,
			Score:       st.player.Score,
			Streak:      st.player.Streak,
		}
	}
	return entries
}

// buildQuestionStats recomputes a question's statistics from the full answer
// set. Option counts only apply to choice questions.
func buildQuestionStats(question domain.Question, answers []domain.Answer) domain.QuestionStats {
	stats := domain.QuestionStats{TotalAnswers: len(answers)}

	choiceType := question.Type == domain.QuestionMC ||
		question.Type == domain.QuestionIMG ||
		question.Type == domain.QuestionPoll
	if choiceType {
		stats.OptionCounts = make(map[string]int)
	}

	var totalLatency int64
	for _, answer := range answers {
		if answer.IsCorrect {
			stats.CorrectAnswers++
		}
		totalLatency += answer.LatencyMs
		if choiceType {
			if resp, ok := answer.Response.(domain.OptionResponse); ok {
				stats.OptionCounts[resp.OptionID]++
			}
		}
	}
	if stats.TotalAnswers > 0 {
		stats.AverageLatencyMs = int64(math.Round(float64(totalLatency) / float64(stats.TotalAnswers)))
	}
	return stats
}

// buildGameStats summarizes an ended room. Zero players means a zero average.
func buildGameStats(summary endSummary, totalQuestions int) domain.GameStats {
	stats := domain.GameStats{
		PlayerCount:    len(summary.standings),
		TotalQuestions: totalQuestions,
		TotalAnswers:   summary.totalAnswers,
	}

	totalScore := 0
	for _, st := range summary.standings {
		totalScore += st.player.Score
		if st.player.Score > stats.TopScore {
			stats.TopScore = st.player.Score
		}
	}
	if stats.PlayerCount > 0 {
		stats.AverageScore = int(math.Round(float64(totalScore) / float64(stats.PlayerCount)))
	}
	if !summary.room.StartedAt.IsZero() {
		stats.DurationMs = summary.room.EndedAt.Sub(summary.room.StartedAt).Milliseconds()
	}
	return stats
}
