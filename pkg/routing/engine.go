// Package routing is the service layer shared by the HTTP API and the queue
// worker: it resolves user waypoints, runs route and STDCM searches over the
// loaded infrastructure, and reports them through logs, metrics and traces.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"

	"rail_router/pkg/constraints"
	"rail_router/pkg/infra"
	"rail_router/pkg/metrics"
	"rail_router/pkg/occupancy"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/physics"
	"rail_router/pkg/rollingstock"
	"rail_router/pkg/stdcm"
)

// ErrNoPath is returned when no path satisfies the request.
var ErrNoPath = errors.New("no path found")

// Location is a requested waypoint: either a track location, or a
// coordinate snapped to the nearest track when Point is set.
type Location struct {
	Track     string
	Offset    float64
	Direction infra.Direction
	Point     *orb.Point
}

// RouteRange is the part [Begin, End] of a route on a path.
type RouteRange struct {
	Route      string
	Begin, End float64
}

// RoutesRequest asks for the shortest path through Steps, each step listing
// alternative locations.
type RoutesRequest struct {
	RollingStocks []string
	Steps         [][]Location
}

// RoutesResult is a path over routes.
type RoutesResult struct {
	Ranges    []RouteRange
	Waypoints []infra.TrackLocation
	Length    float64
	Geometry  orb.LineString
	Expanded  int
}

// STDCMStep is a step of a STDCM request.
type STDCMStep struct {
	Locations []Location
	Stop      bool
	Duration  float64
}

// STDCMRequest asks for a conflict-free schedule. Zero TimeStep,
// MaxDepartureDelay and MaxRunTime take the engine defaults.
type STDCMRequest struct {
	RollingStock      string
	Comfort           rollingstock.Comfort
	StartTime         float64
	Steps             []STDCMStep
	MaxDepartureDelay float64
	MaxRunTime        float64
	TimeStep          float64
	Tag               string
	StandardAllowance float64
	TimeGapBefore     float64
	TimeGapAfter      float64
}

// STDCMResult is a scheduled path.
type STDCMResult struct {
	Ranges        []RouteRange
	Length        float64
	DepartureTime float64
	ArrivalTime   float64
	Geometry      orb.LineString
	Speeds        []physics.Point
	Edges         []stdcm.EdgeTiming
	Stops         []stdcm.StopTiming
	Expanded      int
}

// Router answers route and STDCM queries.
type Router interface {
	Routes(ctx context.Context, req RoutesRequest) (*RoutesResult, error)
	STDCM(ctx context.Context, req STDCMRequest) (*STDCMResult, error)
}

// Defaults apply to requests leaving a setting at zero.
type Defaults struct {
	TimeStep          float64
	MaxDepartureDelay float64
	MaxRunTime        float64
	Timeout           time.Duration
	MaxExpansions     int
}

// Options configure an Engine. Every field is optional.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Defaults Defaults
}

// Engine implements Router over one infrastructure. It is safe for
// concurrent use; the occupancy can be swapped while searches run.
type Engine struct {
	in      *infra.Infra
	snapper *infra.Snapper
	catalog *rollingstock.Catalog
	occ     atomic.Pointer[occupancy.Table]

	log      *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	defaults Defaults
}

// NewEngine creates an engine. occ may be nil for an empty timetable.
func NewEngine(in *infra.Infra, catalog *rollingstock.Catalog, occ *occupancy.Table, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	d := opts.Defaults
	if d.TimeStep <= 0 {
		d.TimeStep = 2
	}
	e := &Engine{
		in:       in,
		snapper:  infra.NewSnapper(in),
		catalog:  catalog,
		log:      log.With("component", "routing"),
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("rail_router/routing"),
		defaults: d,
	}
	e.SetOccupancy(occ)
	return e
}

// SetOccupancy replaces the occupancy used by later STDCM searches.
func (e *Engine) SetOccupancy(t *occupancy.Table) {
	e.occ.Store(t)
	e.metrics.SetDataset(e.in.NumRoutes(), e.in.NumTracks(), t.Count())
}

// Infra returns the engine's infrastructure.
func (e *Engine) Infra() *infra.Infra { return e.in }

// Routes implements Router.
func (e *Engine) Routes(ctx context.Context, req RoutesRequest) (res *RoutesResult, err error) {
	ctx, span := e.tracer.Start(ctx, "routing.Engine.Routes", trace.WithAttributes(
		attribute.Int("steps", len(req.Steps)),
		attribute.StringSlice("rolling_stocks", req.RollingStocks),
	))
	start := time.Now()
	var expanded int
	defer func() { e.finish(ctx, span, "routes", start, expanded, err) }()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	stocks := make([]*rollingstock.RollingStock, 0, len(req.RollingStocks))
	for _, name := range req.RollingStocks {
		rs, err := e.catalog.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pathfinding.ErrInvalidInput, err)
		}
		stocks = append(stocks, rs)
	}
	steps := make([][]Waypoint, len(req.Steps))
	for i, step := range req.Steps {
		for _, loc := range step {
			w, err := e.waypoint(loc)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			steps[i] = append(steps[i], w)
		}
	}

	path, err := FindRoutes(ctx, e.in, steps, stocks, pathfinding.Options{MaxExpansions: e.defaults.MaxExpansions})
	if err != nil {
		return nil, err
	}
	if path == nil {
		return nil, ErrNoPath
	}
	expanded = path.Expanded

	res = &RoutesResult{Length: path.Length, Expanded: path.Expanded}
	for _, r := range path.Ranges {
		res.Ranges = append(res.Ranges, RouteRange{Route: e.in.Route(r.Edge).ID, Begin: r.Begin, End: r.End})
		res.Geometry = appendLine(res.Geometry, e.in.Geometry(r.Edge, r.Begin, r.End))
	}
	for _, w := range path.Waypoints {
		res.Waypoints = append(res.Waypoints, e.in.TrackLocationAt(w.Edge, w.Offset))
	}
	span.SetAttributes(attribute.Float64("length", res.Length))
	return res, nil
}

// STDCM implements Router.
func (e *Engine) STDCM(ctx context.Context, req STDCMRequest) (res *STDCMResult, err error) {
	ctx, span := e.tracer.Start(ctx, "routing.Engine.STDCM", trace.WithAttributes(
		attribute.Int("steps", len(req.Steps)),
		attribute.String("rolling_stock", req.RollingStock),
		attribute.Float64("start_time", req.StartTime),
	))
	start := time.Now()
	var expanded int
	defer func() { e.finish(ctx, span, "stdcm", start, expanded, err) }()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rs, err := e.catalog.Get(req.RollingStock)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pathfinding.ErrInvalidInput, err)
	}
	sreq := stdcm.Request{
		RollingStock:      rs,
		Comfort:           req.Comfort,
		StartTime:         req.StartTime,
		Occupancy:         e.occ.Load(),
		TimeStep:          orDefault(req.TimeStep, e.defaults.TimeStep),
		MaxDepartureDelay: orDefault(req.MaxDepartureDelay, e.defaults.MaxDepartureDelay),
		MaxRunTime:        orDefault(req.MaxRunTime, e.defaults.MaxRunTime),
		Tag:               req.Tag,
		StandardAllowance: req.StandardAllowance,
		TimeGapBefore:     req.TimeGapBefore,
		TimeGapAfter:      req.TimeGapAfter,
		Constraint:        constraints.ForTrains(e.in, []*rollingstock.RollingStock{rs}),
		MaxExpansions:     e.defaults.MaxExpansions,
	}
	for i, step := range req.Steps {
		s := stdcm.Step{Stop: step.Stop, Duration: step.Duration}
		for _, loc := range step.Locations {
			w, err := e.waypoint(loc)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			locs, err := e.in.ResolveWaypoint(w.Track, w.Offset, w.Direction)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			s.Locations = append(s.Locations, locs...)
		}
		if len(s.Locations) == 0 && len(step.Locations) > 0 {
			return nil, fmt.Errorf("%w: step %d matches no route", pathfinding.ErrInvalidInput, i)
		}
		sreq.Steps = append(sreq.Steps, s)
	}

	sched, err := stdcm.FindPath(ctx, e.in, sreq)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, ErrNoPath
	}
	expanded = sched.Expanded

	res = &STDCMResult{
		Length:        sched.Length,
		DepartureTime: sched.DepartureTime,
		ArrivalTime:   sched.ArrivalTime,
		Speeds:        sched.Envelope.Points(),
		Edges:         sched.Edges,
		Stops:         sched.Stops,
		Expanded:      sched.Expanded,
	}
	for _, r := range sched.Ranges {
		res.Ranges = append(res.Ranges, RouteRange{Route: e.in.Route(r.Edge).ID, Begin: r.Begin, End: r.End})
		res.Geometry = appendLine(res.Geometry, e.in.Geometry(r.Edge, r.Begin, r.End))
	}
	e.metrics.ObserveDepartureDelay(sched.DepartureTime - req.StartTime)
	span.SetAttributes(
		attribute.Float64("departure_time", res.DepartureTime),
		attribute.Float64("arrival_time", res.ArrivalTime),
	)
	return res, nil
}

// waypoint snaps loc to a track if it is given as a coordinate.
func (e *Engine) waypoint(loc Location) (Waypoint, error) {
	if loc.Point == nil {
		return Waypoint{Track: loc.Track, Offset: loc.Offset, Direction: loc.Direction}, nil
	}
	snap, err := e.snapper.Snap(*loc.Point)
	if err != nil {
		return Waypoint{}, err
	}
	return Waypoint{Track: snap.Track, Offset: snap.Offset, Direction: loc.Direction}, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.defaults.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.defaults.Timeout)
}

// finish records the outcome of a search in the span, the metrics and the log.
func (e *Engine) finish(ctx context.Context, span trace.Span, kind string, start time.Time, expanded int, err error) {
	defer span.End()
	elapsed := time.Since(start)
	outcome := Outcome(err)
	e.metrics.ObserveSearch(kind, outcome, elapsed, expanded)

	attrs := []any{"kind", kind, "outcome", outcome, "elapsed", elapsed.Round(time.Microsecond), "expanded", expanded}
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	switch outcome {
	case metrics.OutcomeFound, metrics.OutcomeNoPath:
		span.SetStatus(codes.Ok, outcome)
		e.log.Info("search", attrs...)
	case metrics.OutcomeInvalid:
		span.SetStatus(codes.Error, "invalid input")
		e.log.Info("search", append(attrs, "err", err)...)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn("search", append(attrs, "err", err)...)
	}
}

// Outcome classifies the error of a search for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeFound
	case errors.Is(err, ErrNoPath):
		return metrics.OutcomeNoPath
	case errors.Is(err, pathfinding.ErrInvalidInput), errors.Is(err, infra.ErrPointTooFar):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func appendLine(dst, src orb.LineString) orb.LineString {
	if len(dst) > 0 && len(src) > 0 && dst[len(dst)-1].Equal(src[0]) {
		src = src[1:]
	}
	return append(dst, src...)
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx for the search logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
