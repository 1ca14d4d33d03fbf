// Package rating implements the leaderboard score adjustment applied when a
// game is won. Draws leave both ratings unchanged.
package rating

import "math"

// Initial is the rating of a player who has never finished a game.
const Initial = 1000

// Adjust returns the new ratings of winner and loser.
//
// The winner's expected share is w/(w+l); the points exchanged are
// 100^(1-expected), so beating a stronger player moves more points.
func Adjust(winner, loser int) (int, int) {
	delta := Delta(winner, loser)
	return winner + delta, loser - delta
}

// Delta is the number of points a win by winner over loser transfers.
func Delta(winner, loser int) int {
	expected := 0.5
	if sum := float64(winner) + float64(loser); sum > 0 {
		expected = float64(winner) / sum
	}
	return int(math.Round(math.Pow(100, 1-expected)))
}
