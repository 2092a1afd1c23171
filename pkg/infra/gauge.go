package infra

import (
	"fmt"
	"strings"
)

// LoadingGauge is a loading gauge class. Classes are ordered: a track built
// for a gauge admits every train of that gauge or a smaller one.
type LoadingGauge uint8

const (
	GaugeG1 LoadingGauge = iota
	GaugeG2
	GaugeGA
	GaugeGB
	GaugeGB1
	GaugeGC
	GaugeFR33
	GaugeFR33GBG2
	GaugeGLOTT
)

var gaugeNames = [...]string{
	GaugeG1:       "G1",
	GaugeG2:       "G2",
	GaugeGA:       "GA",
	GaugeGB:       "GB",
	GaugeGB1:      "GB1",
	GaugeGC:       "GC",
	GaugeFR33:     "FR3.3",
	GaugeFR33GBG2: "FR3.3/GB/G2",
	GaugeGLOTT:    "GLOTT",
}

func (g LoadingGauge) String() string {
	if int(g) < len(gaugeNames) {
		return gaugeNames[g]
	}
	return fmt.Sprintf("LoadingGauge(%d)", g)
}

// Admits reports whether a track of gauge g can carry a train of gauge train.
func (g LoadingGauge) Admits(train LoadingGauge) bool { return train <= g }

// ParseLoadingGauge parses a gauge name. An empty name is the smallest class.
func ParseLoadingGauge(s string) (LoadingGauge, error) {
	if s == "" {
		return GaugeG1, nil
	}
	for i, name := range gaugeNames {
		if strings.EqualFold(name, s) {
			return LoadingGauge(i), nil
		}
	}
	return 0, fmt.Errorf("invalid loading gauge %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (g LoadingGauge) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *LoadingGauge) UnmarshalText(b []byte) error {
	v, err := ParseLoadingGauge(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
