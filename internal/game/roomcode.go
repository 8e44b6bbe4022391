package game

import (
	"math/rand"
	"strconv"
)

const (
	roomCodeMin = 100000
	roomCodeMax = 999999
)

// RoomCodeGenerator draws six digit numeric room codes. Uniqueness against
// live sessions is enforced by SessionStore.Create, which calls Next under
// its lock until it finds a free code.
type RoomCodeGenerator struct {
	// intN returns a value in [0, n). Overridable in tests.
	intN func(n int) int
}

func NewRoomCodeGenerator() *RoomCodeGenerator {
	return &RoomCodeGenerator{intN: rand.Intn}
}

// Next returns a candidate code in [100000, 999999].
func (g *RoomCodeGenerator) Next() string {
	return strconv.Itoa(roomCodeMin + g.intN(roomCodeMax-roomCodeMin+1))
}
