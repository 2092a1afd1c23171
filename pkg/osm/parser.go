// Package osm imports railway infrastructure from OpenStreetMap PBF
// extracts.
package osm

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"golang.org/x/exp/slog"
)

// Way is a railway way kept by the parser.
type Way struct {
	ID      osm.WayID
	NodeIDs []osm.NodeID
	// MaxSpeed is in m/s, zero when untagged.
	MaxSpeed float64
	// Electrification is the supply voltage such as "25000V", empty when
	// the way is not electrified.
	Electrification string
	// SpeedLimitsByTag holds the maxspeed:<tag> limits in m/s.
	SpeedLimitsByTag map[string]float64
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Ways    []Way
	NodeLat map[osm.NodeID]float64
	NodeLon map[osm.NodeID]float64
}

// railways lists the railway tag values carrying trains.
var railways = map[string]bool{
	"rail":         true,
	"light_rail":   true,
	"narrow_gauge": true,
}

// isRailway returns true if the way is an operational track.
func isRailway(tags osm.Tags) bool {
	if !railways[tags.Find("railway")] {
		return false
	}
	if tags.Find("area") == "yes" {
		return false
	}
	switch tags.Find("service") {
	case "crossover", "siding", "spur", "yard", "":
	default:
		return false
	}
	return true
}

// parseSpeed reads an OSM maxspeed value in m/s. Values are km/h unless
// suffixed with mph.
func parseSpeed(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	factor := 1 / 3.6
	if s, ok := strings.CutSuffix(v, "mph"); ok {
		v = strings.TrimSpace(s)
		factor = 1609.344 / 3600
	} else if s, ok := strings.CutSuffix(v, "km/h"); ok {
		v = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return 0, false
	}
	return f * factor, true
}

// electrification returns the supply of an electrified way, or "" when the
// way has none or an unknown voltage. Several voltages separated by ";"
// keep the first one.
func electrification(tags osm.Tags) string {
	switch tags.Find("electrified") {
	case "", "no":
		return ""
	}
	v, _, _ := strings.Cut(tags.Find("voltage"), ";")
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return ""
	}
	return strconv.Itoa(n) + "V"
}

// speedLimitsByTag collects maxspeed:<tag> keys. Directional keys
// (maxspeed:forward, maxspeed:backward) are not train categories and are
// skipped.
func speedLimitsByTag(tags osm.Tags) map[string]float64 {
	var out map[string]float64
	for _, t := range tags {
		tag, ok := strings.CutPrefix(t.Key, "maxspeed:")
		if !ok || tag == "forward" || tag == "backward" {
			continue
		}
		s, ok := parseSpeed(t.Value)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[tag] = s
	}
	return out
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only ways with every node inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox   BBox // if non-zero, filter ways to this bounding box
	Logger *slog.Logger
}

// Parse reads an OSM PBF file and returns its railway ways.
// The reader is consumed twice (seeks back to start for the second pass),
// so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	return parse(ctx, rs, opts, func(ways bool) osm.Scanner {
		scanner := osmpbf.New(ctx, rs, 1)
		scanner.SkipNodes = ways
		scanner.SkipWays = !ways
		scanner.SkipRelations = true
		return scanner
	})
}

// ParseXML is Parse for OSM XML files.
func ParseXML(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	return parse(ctx, rs, opts, func(bool) osm.Scanner {
		return osmxml.New(ctx, rs)
	})
}

// parse runs the two passes, opening a fresh scanner for each: first over
// ways, then over nodes.
func parse(ctx context.Context, rs io.ReadSeeker, opts []ParseOptions, open func(ways bool) osm.Scanner) (*ParseResult, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}

	// Pass 1: Scan ways to collect referenced node IDs and way info.
	referencedNodes := make(map[osm.NodeID]struct{})
	var ways []Way

	scanner := open(true)
	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok || len(w.Nodes) < 2 || !isRailway(w.Tags) {
			continue
		}
		way := wayFromOSM(w)
		for _, id := range way.NodeIDs {
			referencedNodes[id] = struct{}{}
		}
		ways = append(ways, way)
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	log.Info("pass 1 complete", "ways", len(ways), "nodes", len(referencedNodes))

	// Pass 2: Scan nodes to collect coordinates for referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	nodeLat := make(map[osm.NodeID]float64, len(referencedNodes))
	nodeLon := make(map[osm.NodeID]float64, len(referencedNodes))

	scanner = open(false)
	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		nodeLat[n.ID] = n.Lat
		nodeLon[n.ID] = n.Lon
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	log.Info("pass 2 complete", "coordinates", len(nodeLat))

	kept, dropped := filterWays(ways, nodeLat, nodeLon, opt.BBox)
	if dropped > 0 {
		log.Warn("dropped ways with missing or out-of-box nodes", "count", dropped)
	}
	return &ParseResult{Ways: kept, NodeLat: nodeLat, NodeLon: nodeLon}, nil
}

// filterWays keeps the ways whose every node has coordinates inside bbox.
func filterWays(ways []Way, lat, lon map[osm.NodeID]float64, bbox BBox) (kept []Way, dropped int) {
	useBBox := !bbox.IsZero()
	for _, w := range ways {
		ok := true
		for _, id := range w.NodeIDs {
			la, found := lat[id]
			if !found || (useBBox && !bbox.Contains(la, lon[id])) {
				ok = false
				break
			}
		}
		if !ok {
			dropped++
			continue
		}
		kept = append(kept, w)
	}
	return kept, dropped
}

func wayFromOSM(w *osm.Way) Way {
	way := Way{
		ID:               w.ID,
		NodeIDs:          make([]osm.NodeID, len(w.Nodes)),
		Electrification:  electrification(w.Tags),
		SpeedLimitsByTag: speedLimitsByTag(w.Tags),
	}
	for i, wn := range w.Nodes {
		way.NodeIDs[i] = wn.ID
	}
	if s, ok := parseSpeed(w.Tags.Find("maxspeed")); ok {
		way.MaxSpeed = s
	}
	return way
}
