package gateway

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/spf13/cast"
)

// ExchangeMap maps external identifiers to datapoints and their object
// references. It is filled once during configuration and frozen afterwards;
// lookups on a frozen map take no lock.
type ExchangeMap struct {
	byID     map[string]*Datapoint
	byObjRef map[string]*Datapoint
	frozen   atomic.Bool
}

func NewExchangeMap() *ExchangeMap {
	return &ExchangeMap{
		byID:     make(map[string]*Datapoint),
		byObjRef: make(map[string]*Datapoint),
	}
}

// BuildExchangeMap creates the datapoints of an exchanged_data document.
// Datapoints without an iec61850 protocol entry are skipped.
func BuildExchangeMap(cfg *ExchangeConfig) (*ExchangeMap, error) {
	m := NewExchangeMap()
	for _, d := range cfg.Datapoints {
		proto, ok := d.iec61850Protocol()
		if !ok {
			continue
		}
		if proto.ObjRef == "" {
			return nil, fmt.Errorf("datapoint %q: objref missing", d.PivotID)
		}
		typeName := proto.CDC
		if typeName == "" {
			typeName = d.PivotType
		}
		cdc, err := ParseCDCType(typeName)
		if err != nil {
			return nil, fmt.Errorf("datapoint %q: %w", d.PivotID, err)
		}
		dp := &Datapoint{
			ID:       d.PivotID,
			Label:    d.Label,
			ObjRef:   proto.ObjRef,
			CDC:      cdc,
			Writable: proto.Writable,
			quality:  QUALITY_VALIDITY_INVALID | QUALITY_DETAIL_OLD_DATA,
		}
		if dp.Min, err = optionalFloat(proto.Min); err != nil {
			return nil, fmt.Errorf("datapoint %q min: %w", d.PivotID, err)
		}
		if dp.Max, err = optionalFloat(proto.Max); err != nil {
			return nil, fmt.Errorf("datapoint %q max: %w", d.PivotID, err)
		}
		if err := m.Add(dp); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func optionalFloat(v any) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Add registers a datapoint. Two datapoints may share neither an identifier nor
// an object reference.
func (m *ExchangeMap) Add(dp *Datapoint) error {
	if m.frozen.Load() {
		return ErrExchangeMapFrozen
	}
	if _, ok := m.byID[dp.ID]; ok {
		return fmt.Errorf("identifier %q: %w", dp.ID, ErrDuplicateIdentifier)
	}
	if other, ok := m.byObjRef[dp.ObjRef]; ok {
		return fmt.Errorf("%q used by %q and %q: %w", dp.ObjRef, other.ID, dp.ID, ErrDuplicateObjectReference)
	}
	m.byID[dp.ID] = dp
	m.byObjRef[dp.ObjRef] = dp
	return nil
}

// rekey replaces the object reference of dp with the backend's full reference.
// Only valid before Freeze.
func (m *ExchangeMap) rekey(dp *Datapoint, objRef string) error {
	if m.frozen.Load() {
		return ErrExchangeMapFrozen
	}
	if objRef == dp.ObjRef {
		return nil
	}
	if other, ok := m.byObjRef[objRef]; ok && other != dp {
		return fmt.Errorf("%q used by %q and %q: %w", objRef, other.ID, dp.ID, ErrDuplicateObjectReference)
	}
	delete(m.byObjRef, dp.ObjRef)
	dp.ObjRef = objRef
	m.byObjRef[objRef] = dp
	return nil
}

// Freeze publishes the map. Add fails afterwards.
func (m *ExchangeMap) Freeze() {
	m.frozen.Store(true)
}

func (m *ExchangeMap) Frozen() bool {
	return m.frozen.Load()
}

// Resolve returns the datapoint configured for id.
func (m *ExchangeMap) Resolve(id string) (*Datapoint, error) {
	dp, ok := m.byID[id]
	if !ok {
		return nil, &ResolutionError{ID: id, Err: ErrNotFound}
	}
	return dp, nil
}

// ObjectReferenceFor returns the object reference configured for id.
func (m *ExchangeMap) ObjectReferenceFor(id string) (string, error) {
	dp, err := m.Resolve(id)
	if err != nil {
		return "", err
	}
	return dp.ObjRef, nil
}

// ByObjectReference returns the datapoint bound to a data object reference.
func (m *ExchangeMap) ByObjectReference(ref string) (*Datapoint, error) {
	dp, ok := m.byObjRef[ref]
	if !ok {
		return nil, &ResolutionError{ID: ref, Err: ErrNotFound}
	}
	return dp, nil
}

// Datapoints returns all datapoints ordered by identifier.
func (m *ExchangeMap) Datapoints() []*Datapoint {
	out := make([]*Datapoint, 0, len(m.byID))
	for _, dp := range m.byID {
		out = append(out, dp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *ExchangeMap) Len() int {
	return len(m.byID)
}
