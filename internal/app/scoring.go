package app

import (
	"math"
	"time"

	"crowdplay-room-service/internal/domain"
)

// Grade checks a response against a question's correctness rule. A response
// variant that does not match the question type grades as incorrect, and
// polls are never graded.
func Grade(q domain.Question, resp domain.Response) bool {
	switch q.Type {
	case domain.QuestionMC, domain.QuestionIMG:
		r, ok := resp.(domain.OptionResponse)
		return ok && r.OptionID == q.CorrectOptionID
	case domain.QuestionTF:
		r, ok := resp.(domain.BoolResponse)
		return ok && r.Value == (q.CorrectOptionID == "true")
	case domain.QuestionNum:
		r, ok := resp.(domain.NumberResponse)
		if !ok || q.NumRule == nil {
			return false
		}
		return math.Abs(r.Value-q.NumRule.ExactValue) <= q.NumRule.Tolerance
	case domain.QuestionPoll:
		return false
	}
	return false
}

// Points computes the award for one answer. Incorrect answers earn zero.
// Correct answers earn basePoints plus a speed bonus that decays linearly
// with latency, so the result stays within
// [basePoints, basePoints*(1+speedFactor)] and a submission at or past the
// time limit earns exactly basePoints.
func Points(correct bool, basePoints int, speedFactor float64, latency, timeLimit time.Duration) int {
	if !correct {
		return 0
	}
	if timeLimit <= 0 {
		return basePoints
	}
	timeRatio := float64(timeLimit-latency) / float64(timeLimit)
	if timeRatio < 0 {
		timeRatio = 0
	}
	speedBonus := int(math.Floor(float64(basePoints) * speedFactor * timeRatio))
	return basePoints + speedBonus
}
