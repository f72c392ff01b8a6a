package game

import "math"

// Wrap maps a coordinate into [0, size) on the torus.
func Wrap(v, size float64) float64 {
	if size <= 0 {
		return v
	}
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	return v
}

// ToroidalDistance returns the shortest distance between two points on the
// torus: the minimum over the wrapped offsets on each axis.
func ToroidalDistance(x1, y1, x2, y2, width, height float64) float64 {
	dx := math.Abs(x1 - x2)
	if dx > width/2 {
		dx = width - dx
	}
	dy := math.Abs(y1 - y2)
	if dy > height/2 {
		dy = height - dy
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// AdvanceObject moves one object along its heading for the time elapsed
// since its last position update, wrapping toroidally. Objects flagged as
// in battle hold position. Idempotent for a fixed now.
func AdvanceObject(o *SpaceObject, nowMs int64, width, height float64) {
	dt := float64(nowMs-o.LastPositionUpdateMs) / 1000.0
	if dt <= 0 {
		return
	}
	o.LastPositionUpdateMs = nowMs
	if o.InBattle || o.Speed == 0 {
		return
	}
	rad := o.Angle * math.Pi / 180.0
	o.X = Wrap(o.X+o.Speed*dt*math.Cos(rad), width)
	o.Y = Wrap(o.Y+o.Speed*dt*math.Sin(rad), height)
}
