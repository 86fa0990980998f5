package command

import "math"

// Obstacle is a static circular exclusion zone on the x/z plane.
type Obstacle struct {
	X      float64 `json:"x" yaml:"x"`
	Z      float64 `json:"z" yaml:"z"`
	Radius float64 `json:"radius" yaml:"radius"`
}

const (
	obstacleEps      = 1e-9
	maxResolvePasses = 8
)

func (o Obstacle) contains(x, z float64) bool {
	return math.Hypot(x-o.X, z-o.Z) < o.Radius-obstacleEps
}

// pushOut projects (x,z) onto the obstacle boundary. When the point sits on
// the center, the escape runs back along the travel direction (fromX,fromZ)
// toward the center; without a usable direction it escapes along +X.
func (o Obstacle) pushOut(x, z, fromX, fromZ float64, hasFrom bool) (float64, float64) {
	dx, dz := x-o.X, z-o.Z
	d := math.Hypot(dx, dz)
	if d > obstacleEps {
		return o.X + dx/d*o.Radius, o.Z + dz/d*o.Radius
	}
	if hasFrom {
		bx, bz := fromX-o.X, fromZ-o.Z
		if bd := math.Hypot(bx, bz); bd > obstacleEps {
			return o.X + bx/bd*o.Radius, o.Z + bz/bd*o.Radius
		}
	}
	return o.X + o.Radius, o.Z
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResolvePosition clamps (x,z) to the square room bounds and pushes it out of
// every obstacle it falls inside. from is the last accepted position, used as
// the direction of travel for a dead-center hit.
func ResolvePosition(x, z, halfExtent float64, obstacles []Obstacle, fromX, fromZ float64, hasFrom bool) (float64, float64) {
	if halfExtent > 0 {
		x = clamp(x, -halfExtent, halfExtent)
		z = clamp(z, -halfExtent, halfExtent)
	}
	for pass := 0; pass < maxResolvePasses; pass++ {
		moved := false
		for _, o := range obstacles {
			if !o.contains(x, z) {
				continue
			}
			x, z = o.pushOut(x, z, fromX, fromZ, hasFrom)
			moved = true
		}
		if halfExtent > 0 {
			x = clamp(x, -halfExtent, halfExtent)
			z = clamp(z, -halfExtent, halfExtent)
		}
		if !moved {
			break
		}
	}
	return x, z
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
