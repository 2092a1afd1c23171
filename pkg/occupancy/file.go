package occupancy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"rail_router/pkg/infra"
)

// Snapshot is the raw content of an occupancy source.
type Snapshot struct {
	Reservations  []Reservation  `json:"reservations" yaml:"reservations"`
	WorkSchedules []WorkSchedule `json:"work_schedules" yaml:"work_schedules"`
}

// Table builds the occupancy table of the snapshot on in, with work schedules
// expanded to block reservations.
func (s *Snapshot) Table(in *infra.Infra) (*Table, error) {
	all := append([]Reservation(nil), s.Reservations...)
	for _, w := range s.WorkSchedules {
		rs, err := w.Reservations(in)
		if err != nil {
			return nil, err
		}
		all = append(all, rs...)
	}
	return NewTable(in, all)
}

// DecodeYAML reads a snapshot. Unknown keys are rejected.
func DecodeYAML(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode occupancy: %w", err)
	}
	return &s, nil
}

// LoadFile reads a YAML occupancy file.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeYAML(f)
}
