package infra

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/paulmach/orb"
)

// rangeEpsilon absorbs rounding when a range ends exactly at the track end.
const rangeEpsilon = 1e-6

// Build validates desc and creates the immutable Infra.
func Build(desc *Description) (*Infra, error) {
	in := &Infra{
		Name:       desc.Name,
		trackIndex: make(map[string]int, len(desc.Tracks)),
		routeIndex: make(map[string]RouteID, len(desc.Routes)),
		onTrack:    make(map[dirTrack][]routeOnTrack),
	}

	// Step 1: Track sections.
	for _, td := range desc.Tracks {
		if _, dup := in.trackIndex[td.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate track section %q", ErrInvalidInfra, td.ID)
		}
		if td.Length <= 0 {
			return nil, fmt.Errorf("%w: track section %q has length %v", ErrInvalidInfra, td.ID, td.Length)
		}
		gauge := GaugeGLOTT
		if td.LoadingGauge != "" {
			g, err := ParseLoadingGauge(td.LoadingGauge)
			if err != nil {
				return nil, fmt.Errorf("%w: track section %q: %v", ErrInvalidInfra, td.ID, err)
			}
			gauge = g
		}
		neutral := slices.Clone(td.NeutralSections)
		for _, ns := range neutral {
			if ns.Begin < 0 || ns.End <= ns.Begin || ns.End > td.Length+rangeEpsilon {
				return nil, fmt.Errorf("%w: track section %q: neutral section [%v, %v] outside the track",
					ErrInvalidInfra, td.ID, ns.Begin, ns.End)
			}
		}
		slices.SortFunc(neutral, func(a, b NeutralSection) int { return cmp.Compare(a.Begin, b.Begin) })
		var geom orb.LineString
		for _, p := range td.Geometry {
			geom = append(geom, orb.Point{p[0], p[1]})
		}
		in.trackIndex[td.ID] = len(in.tracks)
		in.tracks = append(in.tracks, TrackSection{
			ID:               td.ID,
			Length:           td.Length,
			LoadingGauge:     gauge,
			Electrification:  td.Electrification,
			MaxSpeed:         td.MaxSpeed,
			SpeedLimitsByTag: td.SpeedLimitsByTag,
			NeutralSections:  neutral,
			Geometry:         geom,
		})
	}

	// Step 2: Routes, and where each one lies on the directed tracks.
	for _, rd := range desc.Routes {
		if _, dup := in.routeIndex[rd.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate route %q", ErrInvalidInfra, rd.ID)
		}
		if len(rd.Path) == 0 {
			return nil, fmt.Errorf("%w: route %q has an empty path", ErrInvalidInfra, rd.ID)
		}
		id := RouteID(len(in.routes))
		route := Route{ID: rd.ID, EntryDetector: rd.EntryDetector, ExitDetector: rd.ExitDetector}
		for _, tr := range rd.Path {
			ti, ok := in.trackIndex[tr.Track]
			if !ok {
				return nil, fmt.Errorf("%w: route %q: %w: %q", ErrInvalidInfra, rd.ID, ErrUnknownTrack, tr.Track)
			}
			length := in.tracks[ti].Length
			if tr.Begin < 0 || tr.End <= tr.Begin || tr.End > length+rangeEpsilon {
				return nil, fmt.Errorf("%w: route %q: range [%v, %v] outside track %q of length %v",
					ErrInvalidInfra, rd.ID, tr.Begin, tr.End, tr.Track, length)
			}
			begin, end := tr.Begin, tr.End
			if tr.Direction == StopToStart {
				begin, end = length-tr.End, length-tr.Begin
			}
			key := dirTrack{ti, tr.Direction}
			in.onTrack[key] = append(in.onTrack[key], routeOnTrack{
				route:       id,
				begin:       begin,
				end:         end,
				routeOffset: route.Length,
			})
			route.Path = append(route.Path, TrackRange(tr))
			route.Length += tr.End - tr.Begin
		}
		in.routeIndex[rd.ID] = id
		in.routes = append(in.routes, route)
	}

	// Step 3: Route adjacency through shared detectors.
	byEntry := make(map[string][]RouteID)
	for i := range in.routes {
		r := &in.routes[i]
		byEntry[r.EntryDetector] = append(byEntry[r.EntryDetector], RouteID(i))
	}
	type link struct{ from, to RouteID }
	var links []link
	for i := range in.routes {
		from := RouteID(i)
		for _, to := range byEntry[in.routes[i].ExitDetector] {
			if to == from || in.reverses(from, to) {
				continue
			}
			links = append(links, link{from, to})
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].from != links[j].from {
			return links[i].from < links[j].from
		}
		return links[i].to < links[j].to
	})

	// Step 4: Switches and buffer stops.
	for _, sd := range desc.Switches {
		switch sd.Type {
		case PointSwitch, CrossSwitch:
		default:
			return nil, fmt.Errorf("%w: switch %q has unknown type %q", ErrInvalidInfra, sd.ID, sd.Type)
		}
		for _, t := range sd.Tracks {
			if _, ok := in.trackIndex[t]; !ok {
				return nil, fmt.Errorf("%w: switch %q: %w: %q", ErrInvalidInfra, sd.ID, ErrUnknownTrack, t)
			}
		}
		in.switches = append(in.switches, Switch{ID: sd.ID, Type: sd.Type, Tracks: sd.Tracks})
	}
	for _, bd := range desc.BufferStops {
		ti, ok := in.trackIndex[bd.Track]
		if !ok {
			return nil, fmt.Errorf("%w: buffer stop %q: %w: %q", ErrInvalidInfra, bd.ID, ErrUnknownTrack, bd.Track)
		}
		if bd.Position < 0 || bd.Position > in.tracks[ti].Length+rangeEpsilon {
			return nil, fmt.Errorf("%w: buffer stop %q at %v outside track %q", ErrInvalidInfra, bd.ID, bd.Position, bd.Track)
		}
		in.bufferStops = append(in.bufferStops, BufferStop(bd))
	}

	// Step 5: CSR arrays via counting and prefix sum.
	numRoutes := len(in.routes)
	in.firstOut = make([]uint32, numRoutes+1)
	in.head = make([]RouteID, len(links))
	for i, l := range links {
		in.head[i] = l.to
		in.firstOut[l.from+1]++
	}
	for i := 1; i <= numRoutes; i++ {
		in.firstOut[i] += in.firstOut[i-1]
	}

	return in, nil
}

// reverses reports whether going from route a to route b would turn the train
// around on a's last track.
func (in *Infra) reverses(a, b RouteID) bool {
	pa := in.routes[a].Path
	last := pa[len(pa)-1]
	first := in.routes[b].Path[0]
	return last.Track == first.Track && last.Direction != first.Direction
}
