package infra

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Description is the serialized form of an infra, as written by the OSM
// preprocessor and read by the server.
type Description struct {
	Name   string      `yaml:"name"`
	Tracks []TrackDesc `yaml:"track_sections"`
	Routes []RouteDesc `yaml:"routes"`

	Switches    []SwitchDesc     `yaml:"switches,omitempty"`
	BufferStops []BufferStopDesc `yaml:"buffer_stops,omitempty"`
}

// SwitchDesc describes a switch joining the ends of several track sections.
type SwitchDesc struct {
	ID     string     `yaml:"id"`
	Type   SwitchType `yaml:"type"`
	Tracks []string   `yaml:"tracks,flow"`
}

// BufferStopDesc describes the end of a line.
type BufferStopDesc struct {
	ID       string  `yaml:"id"`
	Track    string  `yaml:"track"`
	Position float64 `yaml:"position"`
}

// TrackDesc describes one track section.
type TrackDesc struct {
	ID               string             `yaml:"id"`
	Length           float64            `yaml:"length"`
	LoadingGauge     string             `yaml:"loading_gauge,omitempty"`
	Electrification  string             `yaml:"electrification,omitempty"`
	MaxSpeed         float64            `yaml:"max_speed,omitempty"`
	SpeedLimitsByTag map[string]float64 `yaml:"speed_limits_by_tag,omitempty"`
	NeutralSections  []NeutralSection   `yaml:"neutral_sections,omitempty"`
	// Geometry is a list of [lon, lat] pairs from the track start to its end.
	Geometry [][2]float64 `yaml:"geometry,omitempty,flow"`
}

// RouteDesc describes one route.
type RouteDesc struct {
	ID            string           `yaml:"id"`
	EntryDetector string           `yaml:"entry_detector"`
	ExitDetector  string           `yaml:"exit_detector"`
	Path          []TrackRangeDesc `yaml:"path"`
}

// TrackRangeDesc describes one directed track range of a route.
type TrackRangeDesc struct {
	Track     string    `yaml:"track"`
	Direction Direction `yaml:"direction"`
	Begin     float64   `yaml:"begin"`
	End       float64   `yaml:"end"`
}

// DecodeYAML reads a description from r.
func DecodeYAML(r io.Reader) (*Description, error) {
	var desc Description
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode infra: %w", err)
	}
	return &desc, nil
}

// EncodeYAML writes desc to w.
func EncodeYAML(w io.Writer, desc *Description) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(desc); err != nil {
		return fmt.Errorf("encode infra: %w", err)
	}
	return enc.Close()
}

// Load reads and builds the infra stored at path.
func Load(path string) (*Infra, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open infra: %w", err)
	}
	defer f.Close()

	desc, err := DecodeYAML(f)
	if err != nil {
		return nil, err
	}
	return Build(desc)
}
