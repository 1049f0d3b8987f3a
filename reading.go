package gateway

import (
	"fmt"
	"strings"
	"time"
)

// PivotDatapointName is the name of a reading datapoint that carries a Pivot document.
const PivotDatapointName = "PIVOT"

// Reading is a set of named datapoints produced by the owning system.
type Reading struct {
	AssetName  string
	Timestamp  time.Time
	Datapoints []*ReadingDatapoint
}

// ReadingDatapoint is one labeled value of a reading. Value is a scalar for
// flat datapoints, or a nested map for a Pivot document.
type ReadingDatapoint struct {
	Name  string
	Value any
}

// NewReading builds a reading with flat datapoints, one per identifier.
func NewReading(asset string, values map[string]any) *Reading {
	r := &Reading{AssetName: asset, Timestamp: time.Now()}
	for name, v := range values {
		r.Datapoints = append(r.Datapoints, &ReadingDatapoint{Name: name, Value: v})
	}
	return r
}

// Measurements extracts the values of a reading. Pivot datapoints carry their
// own identifier, quality and timestamp; flat datapoints use their name as
// identifier. Datapoints that cannot be parsed are returned as errors and
// do not stop extraction of the others.
func (r *Reading) Measurements() ([]*Measurement, []error) {
	var out []*Measurement
	var errs []error
	for _, d := range r.Datapoints {
		if d == nil {
			continue
		}
		if strings.EqualFold(d.Name, PivotDatapointName) {
			m, err := parsePivotMeasurement(d.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("reading %q: %w", r.AssetName, err))
				continue
			}
			out = append(out, m)
			continue
		}
		out = append(out, &Measurement{ID: d.Name, Value: d.Value})
	}
	return out, errs
}
