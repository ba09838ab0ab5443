package game

import (
	"math"

	"gamehub/server/internal/protocol"
)

// Distance returns the euclidean distance between two points.
func Distance(a, b protocol.Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Gain computes the linear positional attenuation for a listener at distance
// d: 1 inside minDist, 0 at or beyond maxDist, linear falloff in between. A
// zero gain means the listener should be skipped entirely.
func Gain(d, minDist, maxDist float64) float64 {
	switch {
	case d <= minDist:
		return 1
	case d >= maxDist:
		return 0
	}
	return 1 - (d-minDist)/(maxDist-minDist)
}
