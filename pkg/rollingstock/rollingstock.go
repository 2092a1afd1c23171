// Package rollingstock describes the trains a path is computed for.
package rollingstock

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"rail_router/pkg/infra"
	"rail_router/pkg/physics"
)

// ErrUnknownRollingStock is returned when a catalog has no stock of that name.
var ErrUnknownRollingStock = errors.New("unknown rolling stock")

// Comfort is the on-board comfort setting, which can change the traction
// available to the train.
type Comfort uint8

const (
	ComfortStandard Comfort = iota
	ComfortAirConditioning
	ComfortHeating
)

func (c Comfort) String() string {
	switch c {
	case ComfortAirConditioning:
		return "AIR_CONDITIONING"
	case ComfortHeating:
		return "HEATING"
	}
	return "STANDARD"
}

// ParseComfort parses a comfort name; the empty string is STANDARD.
func ParseComfort(s string) (Comfort, error) {
	switch strings.ToUpper(s) {
	case "", "STANDARD":
		return ComfortStandard, nil
	case "AIR_CONDITIONING":
		return ComfortAirConditioning, nil
	case "HEATING":
		return ComfortHeating, nil
	}
	return 0, fmt.Errorf("invalid comfort %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Comfort) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Comfort) UnmarshalText(b []byte) error {
	v, err := ParseComfort(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RollingStock holds the static parameters of a train.
type RollingStock struct {
	Name         string
	Length       float64 // metres
	MaxSpeed     float64 // m/s, zero means the kinematics top speed
	LoadingGauge infra.LoadingGauge
	// Modes lists the electrification modes the train can draw power from.
	Modes []string
	// Thermal trains carry their own power and run on any track.
	Thermal    bool
	Kinematics physics.MotionModel
	// ComfortKinematics overrides Kinematics for some comfort settings.
	ComfortKinematics map[Comfort]physics.MotionModel
}

// SupportsMode reports whether the train can run under electrification mode.
func (rs *RollingStock) SupportsMode(mode string) bool {
	return slices.Contains(rs.Modes, mode)
}

// Model returns the motion model used with comfort c, capped at MaxSpeed.
func (rs *RollingStock) Model(c Comfort) physics.MotionModel {
	m := rs.Kinematics
	if o, ok := rs.ComfortKinematics[c]; ok {
		m = o
	}
	if rs.MaxSpeed > 0 && (m.VMax() <= 0 || m.VMax() > rs.MaxSpeed) {
		return capped{MotionModel: m, vmax: rs.MaxSpeed}
	}
	return m
}

type capped struct {
	physics.MotionModel
	vmax float64
}

func (c capped) VMax() float64 { return c.vmax }

// Kinematics model names, read from the "model" key of a kinematics object.
const ConstantModelName = "constant"

// decodeKinematics resolves a kinematics model from its discriminator. decode
// fills a value from the raw kinematics object.
func decodeKinematics(model string, decode func(any) error) (physics.MotionModel, error) {
	switch model {
	case ConstantModelName, "":
		var k physics.ConstantAcceleration
		if err := decode(&k); err != nil {
			return nil, fmt.Errorf("parsing constant kinematics: %w", err)
		}
		if k.AAcc <= 0 || k.ADcc <= 0 {
			return nil, fmt.Errorf("constant kinematics needs positive a_acc and a_dcc, got %v and %v", k.AAcc, k.ADcc)
		}
		return k, nil
	}
	return nil, fmt.Errorf("unknown kinematics model %q", model)
}

type kinematicsDisc struct {
	Model string `json:"model" yaml:"model"`
}

// rollingStockJSON is the raw shape of a RollingStock, before the kinematics
// models are resolved.
type rollingStockJSON struct {
	Name         string                     `json:"name"`
	Length       float64                    `json:"length"`
	MaxSpeed     float64                    `json:"max_speed"`
	LoadingGauge string                     `json:"loading_gauge"`
	Modes        []string                   `json:"modes"`
	Thermal      bool                       `json:"thermal"`
	Kinem        json.RawMessage            `json:"kinematics"`
	Comfort      map[string]json.RawMessage `json:"comfort"`
}

// UnmarshalJSON implements json.Unmarshaler. The "kinematics" object carries
// a "model" discriminator selecting the concrete physics.MotionModel; so does
// every entry of the optional "comfort" map.
func (rs *RollingStock) UnmarshalJSON(data []byte) error {
	var aux rollingStockJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fromRaw := func(raw *json.RawMessage) (physics.MotionModel, error) {
		var disc kinematicsDisc
		if err := json.Unmarshal(*raw, &disc); err != nil {
			return nil, fmt.Errorf("reading kinematics model discriminator: %w", err)
		}
		return decodeKinematics(disc.Model, func(v any) error { return json.Unmarshal(*raw, v) })
	}
	if len(aux.Kinem) == 0 {
		return fmt.Errorf("rolling stock %q: missing \"kinematics\" field", aux.Name)
	}
	comfort := make(map[string]*json.RawMessage, len(aux.Comfort))
	for k := range aux.Comfort {
		raw := aux.Comfort[k]
		comfort[k] = &raw
	}
	out, err := build(aux.Name, aux.LoadingGauge, &aux.Kinem, comfort, fromRaw)
	if err != nil {
		return err
	}
	out.Length, out.MaxSpeed = aux.Length, aux.MaxSpeed
	out.Modes, out.Thermal = aux.Modes, aux.Thermal
	*rs = *out
	return nil
}

// build resolves the gauge and every kinematics model of a decoded stock.
func build[R any](name, gauge string, kinem *R, comfort map[string]*R, resolve func(*R) (physics.MotionModel, error)) (*RollingStock, error) {
	out := &RollingStock{Name: name}
	var err error
	if out.LoadingGauge, err = infra.ParseLoadingGauge(gauge); err != nil {
		return nil, fmt.Errorf("rolling stock %q: %w", name, err)
	}
	if out.Kinematics, err = resolve(kinem); err != nil {
		return nil, fmt.Errorf("rolling stock %q: %w", name, err)
	}
	for key, raw := range comfort {
		c, err := ParseComfort(key)
		if err != nil {
			return nil, fmt.Errorf("rolling stock %q: %w", name, err)
		}
		m, err := resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("rolling stock %q, comfort %s: %w", name, c, err)
		}
		if out.ComfortKinematics == nil {
			out.ComfortKinematics = make(map[Comfort]physics.MotionModel)
		}
		out.ComfortKinematics[c] = m
	}
	return out, nil
}

type rollingStockYAML struct {
	Name         string               `yaml:"name"`
	Length       float64              `yaml:"length"`
	MaxSpeed     float64              `yaml:"max_speed"`
	LoadingGauge string               `yaml:"loading_gauge"`
	Modes        []string             `yaml:"modes"`
	Thermal      bool                 `yaml:"thermal"`
	Kinem        yaml.Node            `yaml:"kinematics"`
	Comfort      map[string]yaml.Node `yaml:"comfort"`
}

// UnmarshalYAML implements yaml.Unmarshaler with the same layout as
// UnmarshalJSON.
func (rs *RollingStock) UnmarshalYAML(value *yaml.Node) error {
	var aux rollingStockYAML
	if err := value.Decode(&aux); err != nil {
		return err
	}
	fromNode := func(n *yaml.Node) (physics.MotionModel, error) {
		var disc kinematicsDisc
		if err := n.Decode(&disc); err != nil {
			return nil, fmt.Errorf("reading kinematics model discriminator: %w", err)
		}
		return decodeKinematics(disc.Model, n.Decode)
	}
	if aux.Kinem.Kind == 0 {
		return fmt.Errorf("rolling stock %q: missing \"kinematics\" field", aux.Name)
	}
	comfort := make(map[string]*yaml.Node, len(aux.Comfort))
	for k := range aux.Comfort {
		n := aux.Comfort[k]
		comfort[k] = &n
	}
	out, err := build(aux.Name, aux.LoadingGauge, &aux.Kinem, comfort, fromNode)
	if err != nil {
		return err
	}
	out.Length, out.MaxSpeed = aux.Length, aux.MaxSpeed
	out.Modes, out.Thermal = aux.Modes, aux.Thermal
	*rs = *out
	return nil
}
