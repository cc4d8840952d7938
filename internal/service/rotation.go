package service

import (
	"math/rand/v2"

	"github.com/porkli/link-rotator/internal/models"
)

// selectDestination picks the destination to serve for a link and
// proposes the cursor update. It is pure: the returned advance flag
// tells the caller whether the proposed cursor must be applied to the
// store (via compare-and-swap), which is never the case for random
// rotation since it keeps no state.
func selectDestination(link *models.Link) (url string, next int, advance bool) {
	dests := link.Destinations

	if link.RotationPolicy == models.RotationRandom {
		return dests[rand.IntN(len(dests))], 0, false
	}

	cursor := link.Cursor
	if cursor < 0 || cursor >= len(dests) {
		// The cursor is reset to 0 whenever destinations are replaced,
		// but guard against a stale read racing that reset.
		cursor = 0
	}

	return dests[cursor], (cursor + 1) % len(dests), true
}
