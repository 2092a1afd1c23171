// Package constraints decides which routes a set of trains may use.
//
// Each constructor returns a closure over a private memo: build one per
// request, since the verdict depends on the trains.
package constraints

import (
	"rail_router/pkg/infra"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/rollingstock"
)

// LoadingGauge rejects a route if any track it crosses is built for a
// smaller gauge than one of the trains.
func LoadingGauge(in *infra.Infra, stocks []*rollingstock.RollingStock) pathfinding.Constraint[infra.RouteID] {
	if len(stocks) == 0 {
		return nil
	}
	var widest infra.LoadingGauge
	for _, rs := range stocks {
		widest = max(widest, rs.LoadingGauge)
	}
	return memoize(func(r infra.RouteID) bool {
		for _, tr := range in.Route(r).Path {
			t, err := in.Track(tr.Track)
			if err != nil || !t.LoadingGauge.Admits(widest) {
				return false
			}
		}
		return true
	})
}

// Electrification rejects a route crossing a track whose electrification is
// not supported by one of the electric-only trains. Thermal trains are never
// blocked, and neither is a range lying entirely in neutral sections.
func Electrification(in *infra.Infra, stocks []*rollingstock.RollingStock) pathfinding.Constraint[infra.RouteID] {
	var electric []*rollingstock.RollingStock
	for _, rs := range stocks {
		if !rs.Thermal {
			electric = append(electric, rs)
		}
	}
	if len(electric) == 0 {
		return nil
	}
	return memoize(func(r infra.RouteID) bool {
		for _, tr := range in.Route(r).Path {
			if tr.Length() <= 0 {
				continue
			}
			t, err := in.Track(tr.Track)
			if err != nil {
				return false
			}
			if t.Neutral(tr.Begin, tr.End) {
				continue
			}
			for _, rs := range electric {
				if !rs.SupportsMode(t.Electrification) {
					return false
				}
			}
		}
		return true
	})
}

// ForTrains combines every admissibility rule for stocks.
func ForTrains(in *infra.Infra, stocks []*rollingstock.RollingStock) pathfinding.Constraint[infra.RouteID] {
	return pathfinding.All(LoadingGauge(in, stocks), Electrification(in, stocks))
}

func memoize(f func(infra.RouteID) bool) pathfinding.Constraint[infra.RouteID] {
	memo := make(map[infra.RouteID]bool)
	return func(r infra.RouteID) bool {
		if v, ok := memo[r]; ok {
			return v
		}
		v := f(r)
		memo[r] = v
		return v
	}
}
