package physics

import "math"

// MotionModel is the traction and braking behaviour of a train. Distances are
// in meters, speeds in m/s, accelerations in m/s².
type MotionModel interface {
	// VMax returns the train's top speed.
	VMax() float64
	// Acceleration returns the traction acceleration available below VMax.
	Acceleration() float64
	// Deceleration returns the service braking rate, positive.
	Deceleration() float64
}

// ConstantAcceleration implements MotionModel with fixed rates.
type ConstantAcceleration struct {
	AAcc    float64 `json:"a_acc" yaml:"a_acc"` // traction acceleration, m/s²
	ADcc    float64 `json:"a_dcc" yaml:"a_dcc"` // service braking deceleration, m/s² (positive)
	VMaxVal float64 `json:"v_max" yaml:"v_max"` // maximum speed, m/s
}

func (c ConstantAcceleration) VMax() float64         { return c.VMaxVal }
func (c ConstantAcceleration) Acceleration() float64 { return c.AAcc }
func (c ConstantAcceleration) Deceleration() float64 { return c.ADcc }

// BrakingDistance returns the distance needed to slow from v to targetV.
func BrakingDistance(m MotionModel, v, targetV float64) float64 {
	if v <= targetV {
		return 0
	}
	if m.Deceleration() <= 0 {
		return math.Inf(1)
	}
	return (v*v - targetV*targetV) / (2 * m.Deceleration())
}

// SpeedAfterBraking returns the speed reached after braking from v over dist.
func SpeedAfterBraking(m MotionModel, v, dist float64) float64 {
	return math.Sqrt(math.Max(0, v*v-2*m.Deceleration()*dist))
}

// SpeedAfterAccelerating returns the speed reached after accelerating from v
// over dist, ignoring VMax.
func SpeedAfterAccelerating(m MotionModel, v, dist float64) float64 {
	return math.Sqrt(math.Max(0, v*v+2*m.Acceleration()*dist))
}

// MaxSpeedBefore returns the highest speed from which the train can still
// brake down to targetV within dist.
func MaxSpeedBefore(m MotionModel, targetV, dist float64) float64 {
	return math.Sqrt(targetV*targetV + 2*m.Deceleration()*dist)
}
