package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustEvenPlayers(t *testing.T) {
	w, l := Adjust(Initial, Initial)
	assert.Equal(t, 1010, w)
	assert.Equal(t, 990, l)
}

func TestUpsetMovesMorePoints(t *testing.T) {
	favourite := Delta(1200, 800)
	upset := Delta(800, 1200)
	assert.Less(t, favourite, upset)
	assert.Equal(t, 6, favourite)
	assert.Equal(t, 16, upset)
}

func TestAdjustConservesPoints(t *testing.T) {
	w, l := Adjust(1037, 963)
	assert.Equal(t, 1037+963, w+l)
}

func TestDeltaZeroRatings(t *testing.T) {
	assert.Equal(t, 10, Delta(0, 0))
}
