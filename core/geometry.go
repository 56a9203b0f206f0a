package core

import (
	"math"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Vec2 is a point or displacement on the simulation plane, in
// simulation units.
type Vec2 struct {
	X, Y float64
}

// VecOf converts an integer node position into a Vec2.
func VecOf(p model.Position) Vec2 {
	return Vec2{X: float64(p.X), Y: float64(p.Y)}
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec2) DistanceTo(other Vec2) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// Sub returns v - other.
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Dot returns the dot product of two vectors.
func (v Vec2) Dot(other Vec2) float64 {
	return v.X*other.X + v.Y*other.Y
}

// Distance returns the Euclidean distance between two node positions.
func Distance(a, b model.Position) float64 {
	return VecOf(a).DistanceTo(VecOf(b))
}

// withinRange reports whether b lies inside the disc of radius r
// centred on a. The comparison is exact on integer coordinates.
func withinRange(a, b model.Position, r int) bool {
	if r < 0 {
		return false
	}
	dx := int64(a.X) - int64(b.X)
	dy := int64(a.Y) - int64(b.Y)
	rr := int64(r)
	return dx*dx+dy*dy <= rr*rr
}

// distanceSq returns the squared distance between two positions.
func distanceSq(a, b model.Position) int64 {
	dx := int64(a.X) - int64(b.X)
	dy := int64(a.Y) - int64(b.Y)
	return dx*dx + dy*dy
}
