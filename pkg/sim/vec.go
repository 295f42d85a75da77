package sim

import "math"

// Vec3 is a 3-component float32 vector.
type Vec3 struct {
	X, Y, Z float32
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float32) Vec3 {
	return Vec3{a.X * s, a.Y * s, a.Z * s}
}
func (a Vec3) Dot(b Vec3) float32 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) LengthSq() float32  { return a.Dot(a) }
func (a Vec3) Length() float32 {
	return float32(math.Sqrt(float64(a.LengthSq())))
}

// Normalized returns a unit vector, or fallback for a zero vector.
func (a Vec3) Normalized(fallback Vec3) Vec3 {
	l := a.Length()
	if l == 0 {
		return fallback
	}
	return a.Scale(1 / l)
}
