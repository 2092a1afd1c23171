package physics

import "math"

// MinAllowanceSpeed is the lowest speed an engineering allowance may impose,
// in m/s (30 km/h).
const MinAllowanceSpeed = 30 / 3.6

const allowanceIterations = 50

// EngineeringAllowance slows env down so that it takes extra more seconds,
// without changing its begin and end speeds. The train cruises below a speed
// cap, brakes down to it after the start and accelerates back before the end.
// It returns false when even MinAllowanceSpeed cannot add enough time.
func EngineeringAllowance(env *Envelope, extra float64, m MotionModel) (*Envelope, bool) {
	if extra <= 0 {
		return env, true
	}
	target := env.TotalTime() + extra
	length := env.Length()
	v0, v1 := env.BeginSpeed(), env.EndSpeed()
	a, d := m.Acceleration(), m.Deceleration()

	capped := func(vcap float64) *Envelope {
		return clampBelow(env, func(x float64) float64 {
			brakeDown := v0*v0 - 2*d*x
			speedUp := v1*v1 - 2*a*(length-x)
			return math.Max(vcap*vcap, math.Max(brakeDown, speedUp))
		})
	}

	lo, hi := MinAllowanceSpeed, env.MaxSpeed()
	if hi <= lo {
		return nil, false
	}
	slowest := capped(lo)
	if slowest == nil || slowest.TotalTime() < target {
		return nil, false
	}
	for range allowanceIterations {
		mid := (lo + hi) / 2
		if c := capped(mid); c != nil && c.TotalTime() >= target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return capped(lo), true
}

// AddFinalBraking brings env to rest at its end with the service braking rate
// of m. The braking curve stays below env and above zero.
func AddFinalBraking(env *Envelope, m MotionModel) *Envelope {
	length := env.Length()
	d := m.Deceleration()
	out := clampBelow(env, func(x float64) float64 { return 2 * d * (length - x) })
	if out == nil {
		return env
	}
	return out
}

// clampBelow returns env limited to the squared speed curve ceilSq, adding a
// sample wherever env crosses the curve between two samples.
func clampBelow(env *Envelope, ceilSq func(x float64) float64) *Envelope {
	n := len(env.pos)
	pos := make([]float64, 0, n)
	speed := make([]float64, 0, n)
	diff := func(i int) float64 { return env.speed[i]*env.speed[i] - ceilSq(env.pos[i]) }

	for i := 0; i < n; i++ {
		x := env.pos[i]
		v2 := math.Min(env.speed[i]*env.speed[i], math.Max(0, ceilSq(x)))
		if i > 0 {
			d0, d1 := diff(i-1), diff(i)
			if (d0 < 0 && d1 > 0) || (d0 > 0 && d1 < 0) {
				r := d0 / (d0 - d1)
				cx := env.pos[i-1] + r*(x-env.pos[i-1])
				if cx > pos[len(pos)-1] && cx < x {
					pos = append(pos, cx)
					speed = append(speed, math.Sqrt(math.Max(0, ceilSq(cx))))
				}
			}
		}
		pos = append(pos, x)
		speed = append(speed, math.Sqrt(v2))
	}
	out, err := NewEnvelope(pos, speed)
	if err != nil {
		return nil
	}
	return out
}
