// internal/game/scoring.go
package game

// Score returns the points for one answer. Incorrect answers score 0. A
// correct answer earns floor(basePoints * max(0.5, 1 - elapsed/limit)), so
// an instant answer gets full points and anything at or past the limit gets
// half. The computation stays in integers so exact fractions floor exactly.
func Score(isCorrect bool, timeToAnswerMs, basePoints, timeLimitMs int64) int {
	if !isCorrect {
		return 0
	}
	if timeLimitMs <= 0 {
		return int(basePoints)
	}
	if timeToAnswerMs < 0 {
		timeToAnswerMs = 0
	}
	floor := basePoints / 2
	remaining := timeLimitMs - timeToAnswerMs
	if remaining <= 0 {
		return int(floor)
	}
	scaled := basePoints * remaining / timeLimitMs
	if scaled < floor {
		return int(floor)
	}
	return int(scaled)
}
