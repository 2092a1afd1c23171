package api

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"rail_router/pkg/infra"
	"rail_router/pkg/physics"
	"rail_router/pkg/rollingstock"
	"rail_router/pkg/routing"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusNoPath  = "no_path"
	StatusError   = "error"
)

// LatLngJSON represents a lat/lng pair in JSON.
type LatLngJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationJSON is a waypoint: a track location, or coordinates to snap.
type LocationJSON struct {
	Track       string          `json:"track,omitempty"`
	Offset      float64         `json:"offset,omitempty"`
	Direction   infra.Direction `json:"direction,omitempty"`
	Coordinates *LatLngJSON     `json:"coordinates,omitempty"`
}

// RoutesRequest is the JSON body for POST /api/v1/pathfinding/routes.
type RoutesRequest struct {
	RollingStocks []string         `json:"rolling_stocks"`
	Steps         [][]LocationJSON `json:"steps"`
}

// STDCMStepJSON is a step of a STDCM request.
type STDCMStepJSON struct {
	Locations    []LocationJSON `json:"locations"`
	Stop         bool           `json:"stop,omitempty"`
	StopDuration float64        `json:"stop_duration,omitempty"`
}

// STDCMRequest is the JSON body for POST /api/v1/stdcm. Times are seconds.
type STDCMRequest struct {
	RollingStock      string               `json:"rolling_stock"`
	Comfort           rollingstock.Comfort `json:"comfort,omitempty"`
	StartTime         float64              `json:"start_time"`
	Steps             []STDCMStepJSON      `json:"steps"`
	MaxDepartureDelay float64              `json:"maximum_departure_delay,omitempty"`
	MaxRunTime        float64              `json:"maximum_run_time,omitempty"`
	TimeStep          float64              `json:"time_step,omitempty"`
	SpeedLimitTag     string               `json:"speed_limit_tag,omitempty"`
	StandardAllowance float64              `json:"standard_allowance,omitempty"`
	TimeGapBefore     float64              `json:"time_gap_before,omitempty"`
	TimeGapAfter      float64              `json:"time_gap_after,omitempty"`
}

// Response is the tagged union every endpoint and the queue worker answer
// with. Exactly one of Routes, STDCM or Error is set, matching Status.
type Response struct {
	Status    string       `json:"status"`
	RequestID string       `json:"request_id,omitempty"`
	Routes    *RoutesJSON  `json:"routes,omitempty"`
	STDCM     *STDCMJSON   `json:"stdcm,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

// RouteRangeJSON is the part [begin, end] of a route on a path.
type RouteRangeJSON struct {
	Route string  `json:"route"`
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

// TrackLocationJSON is a point on a track.
type TrackLocationJSON struct {
	Track  string  `json:"track"`
	Offset float64 `json:"offset"`
}

// RoutesJSON is a successful routes result.
type RoutesJSON struct {
	Path      []RouteRangeJSON    `json:"path"`
	Waypoints []TrackLocationJSON `json:"waypoints"`
	Length    float64             `json:"length"`
	Geometry  *geojson.Geometry   `json:"geometry,omitempty"`
}

// BlockJSON is the schedule of one block traversal. Slack and
// NextOccupancy are omitted when nothing constrains them.
type BlockJSON struct {
	Block         string   `json:"block"`
	Begin         float64  `json:"begin"`
	End           float64  `json:"end"`
	TimeStart     float64  `json:"time_start"`
	TimeEnd       float64  `json:"time_end"`
	AddedDelay    float64  `json:"added_delay"`
	Slack         *float64 `json:"slack,omitempty"`
	NextOccupancy *float64 `json:"next_occupancy,omitempty"`
}

// StopJSON is a stop of the scheduled train.
type StopJSON struct {
	Block     string  `json:"block"`
	Offset    float64 `json:"offset"`
	Arrival   float64 `json:"arrival"`
	Departure float64 `json:"departure"`
}

// STDCMJSON is a successful STDCM result.
type STDCMJSON struct {
	Path          []RouteRangeJSON  `json:"path"`
	Length        float64           `json:"length"`
	DepartureTime float64           `json:"departure_time"`
	ArrivalTime   float64           `json:"arrival_time"`
	Geometry      *geojson.Geometry `json:"geometry,omitempty"`
	Speeds        []physics.Point   `json:"speeds"`
	Blocks        []BlockJSON       `json:"blocks"`
	Stops         []StopJSON        `json:"stops"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Infra            string `json:"infra"`
	NumRoutes        int    `json:"num_routes"`
	NumTracks        int    `json:"num_tracks"`
	NumSwitches      int    `json:"num_switches"`
	NumBufferStops   int    `json:"num_buffer_stops"`
	NumRollingStocks int    `json:"num_rolling_stocks"`
	NumReservations  int    `json:"num_reservations"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// FieldError is a request validation failure on one field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

// ToRouting validates r and converts it for the routing engine.
func (r RoutesRequest) ToRouting() (routing.RoutesRequest, error) {
	if len(r.Steps) < 2 {
		return routing.RoutesRequest{}, &FieldError{Field: "steps", Reason: "need at least 2 steps"}
	}
	out := routing.RoutesRequest{RollingStocks: r.RollingStocks}
	for _, step := range r.Steps {
		locs, err := toLocations(step)
		if err != nil {
			return routing.RoutesRequest{}, err
		}
		out.Steps = append(out.Steps, locs)
	}
	return out, nil
}

// ToRouting validates r and converts it for the routing engine.
func (r STDCMRequest) ToRouting() (routing.STDCMRequest, error) {
	switch {
	case r.RollingStock == "":
		return routing.STDCMRequest{}, &FieldError{Field: "rolling_stock", Reason: "required"}
	case len(r.Steps) < 2:
		return routing.STDCMRequest{}, &FieldError{Field: "steps", Reason: "need at least 2 steps"}
	case !finite(r.StartTime):
		return routing.STDCMRequest{}, &FieldError{Field: "start_time", Reason: "must be finite"}
	}
	for field, v := range map[string]float64{
		"maximum_departure_delay": r.MaxDepartureDelay,
		"maximum_run_time":        r.MaxRunTime,
		"time_step":               r.TimeStep,
		"standard_allowance":      r.StandardAllowance,
		"time_gap_before":         r.TimeGapBefore,
		"time_gap_after":          r.TimeGapAfter,
	} {
		if !finite(v) || v < 0 {
			return routing.STDCMRequest{}, &FieldError{Field: field, Reason: "must be a non-negative number"}
		}
	}
	out := routing.STDCMRequest{
		RollingStock:      r.RollingStock,
		Comfort:           r.Comfort,
		StartTime:         r.StartTime,
		MaxDepartureDelay: r.MaxDepartureDelay,
		MaxRunTime:        r.MaxRunTime,
		TimeStep:          r.TimeStep,
		Tag:               r.SpeedLimitTag,
		StandardAllowance: r.StandardAllowance,
		TimeGapBefore:     r.TimeGapBefore,
		TimeGapAfter:      r.TimeGapAfter,
	}
	for _, s := range r.Steps {
		locs, err := toLocations(s.Locations)
		if err != nil {
			return routing.STDCMRequest{}, err
		}
		if !finite(s.StopDuration) || s.StopDuration < 0 {
			return routing.STDCMRequest{}, &FieldError{Field: "stop_duration", Reason: "must be a non-negative number"}
		}
		out.Steps = append(out.Steps, routing.STDCMStep{Locations: locs, Stop: s.Stop, Duration: s.StopDuration})
	}
	return out, nil
}

func toLocations(in []LocationJSON) ([]routing.Location, error) {
	if len(in) == 0 {
		return nil, &FieldError{Field: "steps", Reason: "every step needs a location"}
	}
	out := make([]routing.Location, 0, len(in))
	for _, l := range in {
		loc := routing.Location{Track: l.Track, Offset: l.Offset, Direction: l.Direction}
		switch {
		case l.Coordinates != nil:
			if err := validateCoord(*l.Coordinates); err != nil {
				return nil, &FieldError{Field: "coordinates", Reason: err.Error()}
			}
			loc.Point = &orb.Point{l.Coordinates.Lng, l.Coordinates.Lat}
		case l.Track == "":
			return nil, &FieldError{Field: "track", Reason: "a location needs a track or coordinates"}
		case !finite(l.Offset) || l.Offset < 0:
			return nil, &FieldError{Field: "offset", Reason: "must be a non-negative number"}
		}
		out = append(out, loc)
	}
	return out, nil
}

func validateCoord(ll LatLngJSON) error {
	if !finite(ll.Lat) || !finite(ll.Lng) {
		return errors.New("coordinates must be finite numbers")
	}
	if ll.Lat < -90 || ll.Lat > 90 || ll.Lng < -180 || ll.Lng > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// NewRoutesJSON converts an engine result.
func NewRoutesJSON(res *routing.RoutesResult) *RoutesJSON {
	out := &RoutesJSON{Path: rangesJSON(res.Ranges), Length: res.Length, Geometry: lineJSON(res.Geometry)}
	for _, w := range res.Waypoints {
		out.Waypoints = append(out.Waypoints, TrackLocationJSON{Track: w.Track, Offset: w.Offset})
	}
	return out
}

// NewSTDCMJSON converts an engine result.
func NewSTDCMJSON(res *routing.STDCMResult) *STDCMJSON {
	out := &STDCMJSON{
		Path:          rangesJSON(res.Ranges),
		Length:        res.Length,
		DepartureTime: res.DepartureTime,
		ArrivalTime:   res.ArrivalTime,
		Geometry:      lineJSON(res.Geometry),
		Speeds:        res.Speeds,
	}
	for _, e := range res.Edges {
		out.Blocks = append(out.Blocks, BlockJSON{
			Block:         e.Block,
			Begin:         e.Begin,
			End:           e.End,
			TimeStart:     e.TimeStart,
			TimeEnd:       e.TimeEnd,
			AddedDelay:    e.AddedDelay,
			Slack:         finitePtr(e.Slack),
			NextOccupancy: finitePtr(e.NextOccupancy),
		})
	}
	for _, s := range res.Stops {
		out.Stops = append(out.Stops, StopJSON(s))
	}
	return out
}

func rangesJSON(rs []routing.RouteRange) []RouteRangeJSON {
	out := make([]RouteRangeJSON, len(rs))
	for i, r := range rs {
		out[i] = RouteRangeJSON{Route: r.Route, Begin: r.Begin, End: r.End}
	}
	return out
}

func lineJSON(ls orb.LineString) *geojson.Geometry {
	if len(ls) < 2 {
		return nil
	}
	return geojson.NewGeometry(ls)
}

func finitePtr(f float64) *float64 {
	if !finite(f) {
		return nil
	}
	return &f
}
