package der

import (
	"fmt"
	"sort"
	"time"

	gateway "github.com/marrasen/iec61850-gateway"
)

// Schedule is one configured schedule with its times resolved.
type Schedule struct {
	Name     string
	Target   string
	Priority int
	Start    time.Time
	Interval time.Duration
	Values   []any
	Cyclic   bool

	order int
}

// Slot is the value a schedule holds at some instant.
type Slot struct {
	Schedule string
	Target   string
	Index    int
	Value    any
	// Since is the instant the slot became active.
	Since time.Time
}

// NewSchedules resolves the enabled schedules of cfg. Relative start times
// ("" or "now") are taken from now.
func NewSchedules(cfg *gateway.SchedulerConfig, now time.Time) ([]*Schedule, error) {
	var out []*Schedule
	for i, sc := range cfg.Schedules {
		if !sc.Enabled {
			continue
		}
		start, err := sc.StartTime(now)
		if err != nil {
			return nil, fmt.Errorf("schedule %q start: %w", sc.Name, err)
		}
		interval, err := sc.IntervalDuration()
		if err != nil {
			return nil, fmt.Errorf("schedule %q interval: %w", sc.Name, err)
		}
		if len(sc.Values) == 0 {
			return nil, fmt.Errorf("schedule %q has no values", sc.Name)
		}
		out = append(out, &Schedule{
			Name:     sc.Name,
			Target:   sc.Target,
			Priority: sc.Priority,
			Start:    start,
			Interval: interval,
			Values:   sc.Values,
			Cyclic:   sc.Cyclic,
			order:    i,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out, nil
}

// At returns the slot active at t, if any.
func (s *Schedule) At(t time.Time) (Slot, bool) {
	if t.Before(s.Start) {
		return Slot{}, false
	}
	n := int64(t.Sub(s.Start) / s.Interval)
	if n >= int64(len(s.Values)) && !s.Cyclic {
		return Slot{}, false
	}
	idx := int(n % int64(len(s.Values)))
	return Slot{
		Schedule: s.Name,
		Target:   s.Target,
		Index:    idx,
		Value:    s.Values[idx],
		Since:    s.Start.Add(time.Duration(n) * s.Interval),
	}, true
}

// End returns the instant the schedule stops holding values, zero when cyclic.
func (s *Schedule) End() time.Time {
	if s.Cyclic {
		return time.Time{}
	}
	return s.Start.Add(time.Duration(len(s.Values)) * s.Interval)
}

// Resolve returns the winning slot per target at t. schedules must be ordered
// by priority as returned by NewSchedules.
func Resolve(schedules []*Schedule, t time.Time) map[string]Slot {
	out := make(map[string]Slot)
	for _, s := range schedules {
		if _, taken := out[s.Target]; taken {
			continue
		}
		if slot, ok := s.At(t); ok {
			out[s.Target] = slot
		}
	}
	return out
}
