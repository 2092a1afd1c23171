package occupancy

import (
	"fmt"

	"rail_router/pkg/infra"
)

// TrackSpan is the part [Begin, End] of a track section, in either direction.
type TrackSpan struct {
	Track string  `json:"track" yaml:"track"`
	Begin float64 `json:"begin" yaml:"begin"`
	End   float64 `json:"end" yaml:"end"`
}

// WorkSchedule closes track spans to traffic for a time interval.
type WorkSchedule struct {
	ID       string      `json:"id,omitempty" yaml:"id,omitempty"`
	Spans    []TrackSpan `json:"spans" yaml:"spans"`
	Interval `yaml:",inline"`
}

// Reservations expands w into one reservation per block crossing its spans.
func (w WorkSchedule) Reservations(in *infra.Infra) ([]Reservation, error) {
	seen := make(map[infra.RouteID]bool)
	var out []Reservation
	for _, s := range w.Spans {
		routes, err := in.RoutesOnTrackRange(s.Track, s.Begin, s.End)
		if err != nil {
			return nil, fmt.Errorf("work schedule %q: %w", w.ID, err)
		}
		for _, r := range routes {
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, Reservation{Block: in.Route(r).ID, Interval: w.Interval, Train: w.ID})
		}
	}
	return out, nil
}
