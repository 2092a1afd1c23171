package rollingstock

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"rail_router/pkg/infra"
	"rail_router/pkg/physics"
)

const catalogYAML = `
rolling_stocks:
  - name: regio
    length: 80
    max_speed: 33.3
    loading_gauge: GB
    modes: ["25000V", "1500V"]
    kinematics: {model: constant, a_acc: 0.6, a_dcc: 0.8, v_max: 44}
    comfort:
      AIR_CONDITIONING: {model: constant, a_acc: 0.4, a_dcc: 0.8, v_max: 44}
  - name: freight
    length: 600
    loading_gauge: GC
    thermal: true
    kinematics: {a_acc: 0.2, a_dcc: 0.3, v_max: 25}
`

func TestDecodeCatalog(t *testing.T) {
	c, err := DecodeCatalog(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	if got := c.Names(); len(got) != 2 || got[0] != "freight" || got[1] != "regio" {
		t.Fatalf("Names = %v, want [freight regio]", got)
	}

	regio, err := c.Get("regio")
	if err != nil {
		t.Fatal(err)
	}
	if regio.LoadingGauge != infra.GaugeGB {
		t.Errorf("LoadingGauge = %v, want GB", regio.LoadingGauge)
	}
	if !regio.SupportsMode("1500V") || regio.SupportsMode("15000V") {
		t.Errorf("Modes = %v", regio.Modes)
	}
	if regio.Thermal {
		t.Error("regio should not be thermal")
	}

	std := regio.Model(ComfortStandard)
	if std.VMax() != 33.3 {
		t.Errorf("standard VMax = %v, want capped 33.3", std.VMax())
	}
	if std.Acceleration() != 0.6 {
		t.Errorf("standard Acceleration = %v, want 0.6", std.Acceleration())
	}
	if ac := regio.Model(ComfortAirConditioning); ac.Acceleration() != 0.4 {
		t.Errorf("air conditioning Acceleration = %v, want 0.4", ac.Acceleration())
	}
	if h := regio.Model(ComfortHeating); h.Acceleration() != 0.6 {
		t.Errorf("heating falls back to %v, want 0.6", h.Acceleration())
	}

	freight, _ := c.Get("freight")
	if !freight.Thermal {
		t.Error("freight should be thermal")
	}
	if freight.Model(ComfortStandard).VMax() != 25 {
		t.Errorf("freight VMax = %v, want 25", freight.Model(ComfortStandard).VMax())
	}

	if _, err := c.Get("tgv"); !errors.Is(err, ErrUnknownRollingStock) {
		t.Errorf("Get(tgv) err = %v, want ErrUnknownRollingStock", err)
	}
}

func TestDecodeCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing kinematics", "rolling_stocks: [{name: a}]"},
		{"unknown model", "rolling_stocks: [{name: a, kinematics: {model: davis}}]"},
		{"no braking", "rolling_stocks: [{name: a, kinematics: {a_acc: 1, v_max: 10}}]"},
		{"bad gauge", "rolling_stocks: [{name: a, loading_gauge: XL, kinematics: {a_acc: 1, a_dcc: 1}}]"},
		{"bad comfort", "rolling_stocks: [{name: a, kinematics: {a_acc: 1, a_dcc: 1}, comfort: {COLD: {a_acc: 1, a_dcc: 1}}}]"},
		{"duplicate", "rolling_stocks: [{name: a, kinematics: {a_acc: 1, a_dcc: 1}}, {name: a, kinematics: {a_acc: 1, a_dcc: 1}}]"},
		{"unnamed", "rolling_stocks: [{kinematics: {a_acc: 1, a_dcc: 1}}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCatalog(strings.NewReader(tt.yaml)); err == nil {
				t.Error("DecodeCatalog succeeded, want error")
			}
		})
	}
}

func TestUnmarshalJSON(t *testing.T) {
	data := `{
		"name": "tram-train",
		"length": 40,
		"loading_gauge": "G1",
		"modes": ["750V"],
		"kinematics": {"model": "constant", "a_acc": 1.0, "a_dcc": 1.2, "v_max": 27.8},
		"comfort": {"HEATING": {"model": "constant", "a_acc": 0.9, "a_dcc": 1.2, "v_max": 27.8}}
	}`
	var rs RollingStock
	if err := json.Unmarshal([]byte(data), &rs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := physics.ConstantAcceleration{AAcc: 1.0, ADcc: 1.2, VMaxVal: 27.8}
	if rs.Kinematics != want {
		t.Errorf("Kinematics = %+v, want %+v", rs.Kinematics, want)
	}
	if rs.Model(ComfortHeating).Acceleration() != 0.9 {
		t.Errorf("heating Acceleration = %v, want 0.9", rs.Model(ComfortHeating).Acceleration())
	}
	if rs.LoadingGauge != infra.GaugeG1 || rs.Length != 40 {
		t.Errorf("got gauge %v length %v", rs.LoadingGauge, rs.Length)
	}

	bad := `{"name": "x", "kinematics": {"model": "linear"}}`
	if err := json.Unmarshal([]byte(bad), &rs); err == nil || !strings.Contains(err.Error(), `"linear"`) {
		t.Errorf("err = %v, want unknown model error", err)
	}
}

func TestParseComfort(t *testing.T) {
	tests := []struct {
		in   string
		want Comfort
	}{
		{"", ComfortStandard},
		{"standard", ComfortStandard},
		{"AIR_CONDITIONING", ComfortAirConditioning},
		{"Heating", ComfortHeating},
	}
	for _, tt := range tests {
		got, err := ParseComfort(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseComfort(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseComfort("COLD"); err == nil {
		t.Error("ParseComfort(COLD) succeeded")
	}
}
