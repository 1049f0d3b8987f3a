package gateway

import (
	"fmt"
	"strings"
)

// CDCType is the common data class of a data object, named after the Pivot type
// that carries it.
type CDCType int

const (
	CDC_UNKNOWN CDCType = iota
	// status and measurement classes
	CDC_SPS
	CDC_DPS
	CDC_INS
	CDC_ENS
	CDC_MV
	// controllable classes
	CDC_SPC
	CDC_DPC
	CDC_INC
	CDC_ENC
	CDC_BSC
	CDC_APC
	CDC_VSG
)

var cdcPivotNames = map[CDCType]string{
	CDC_SPS: "SpsTyp",
	CDC_DPS: "DpsTyp",
	CDC_INS: "InsTyp",
	CDC_ENS: "EnsTyp",
	CDC_MV:  "MvTyp",
	CDC_SPC: "SpcTyp",
	CDC_DPC: "DpcTyp",
	CDC_INC: "IncTyp",
	CDC_ENC: "EncTyp",
	CDC_BSC: "BscTyp",
	CDC_APC: "ApcTyp",
	CDC_VSG: "VsgTyp",
}

// ParseCDCType accepts both the Pivot type name ("SpcTyp") and the plain class
// name ("SPC"), case-insensitive.
func ParseCDCType(s string) (CDCType, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "typ")
	for t, pivot := range cdcPivotNames {
		if strings.TrimSuffix(strings.ToLower(pivot), "typ") == name {
			return t, nil
		}
	}
	return CDC_UNKNOWN, fmt.Errorf("%q: %w", s, ErrUnsupportedType)
}

// PivotName returns the Pivot type name, e.g. "SpcTyp".
func (t CDCType) PivotName() string {
	if s, ok := cdcPivotNames[t]; ok {
		return s
	}
	return "UnknownTyp"
}

func (t CDCType) String() string {
	if s, ok := cdcPivotNames[t]; ok {
		return strings.ToUpper(strings.TrimSuffix(s, "Typ"))
	}
	return "UNKNOWN"
}

// IsControllable reports whether the class accepts control commands.
func (t CDCType) IsControllable() bool {
	return t >= CDC_SPC && t <= CDC_VSG
}

// AttributeSpec names an attribute relative to its data object together with the
// functional constraint and MMS type the gateway expects there.
type AttributeSpec struct {
	Name string
	FC   FC
	Type MmsType
}

// StatusAttribute returns the attribute that carries the data object's current
// state or measured value.
func (t CDCType) StatusAttribute() (AttributeSpec, bool) {
	switch t {
	case CDC_SPS, CDC_SPC:
		return AttributeSpec{"stVal", ST, Boolean}, true
	case CDC_DPS, CDC_DPC:
		return AttributeSpec{"stVal", ST, BitString}, true
	case CDC_INS, CDC_ENS, CDC_INC, CDC_ENC:
		return AttributeSpec{"stVal", ST, Integer}, true
	case CDC_MV:
		return AttributeSpec{"mag.f", MX, Float}, true
	case CDC_APC:
		return AttributeSpec{"mxVal.f", MX, Float}, true
	case CDC_BSC:
		return AttributeSpec{"valWTr.posVal", ST, Integer}, true
	case CDC_VSG:
		return AttributeSpec{"setVal", SP, VisibleString}, true
	}
	return AttributeSpec{}, false
}

// ControlAttribute returns the ctlVal attribute of the Oper structure.
func (t CDCType) ControlAttribute() (AttributeSpec, bool) {
	switch t {
	case CDC_SPC, CDC_DPC:
		return AttributeSpec{"Oper.ctlVal", CO, Boolean}, true
	case CDC_INC, CDC_ENC:
		return AttributeSpec{"Oper.ctlVal", CO, Integer}, true
	case CDC_BSC:
		return AttributeSpec{"Oper.ctlVal", CO, BitString}, true
	case CDC_APC:
		return AttributeSpec{"Oper.ctlVal.f", CO, Float}, true
	case CDC_VSG:
		return AttributeSpec{"Oper.ctlVal", CO, VisibleString}, true
	}
	return AttributeSpec{}, false
}

// Dbpos is the double point position used by DPS and DPC.
type Dbpos uint32

const (
	DBPOS_INTERMEDIATE_STATE Dbpos = iota
	DBPOS_OFF
	DBPOS_ON
	DBPOS_BAD_STATE
)

var dbposNames = [...]string{"intermediate-state", "off", "on", "bad-state"}

func (d Dbpos) String() string {
	if int(d) < len(dbposNames) {
		return dbposNames[d]
	}
	return "bad-state"
}

// ParseDbpos accepts the Pivot names ("on", "off", ...) or the numeric value.
func ParseDbpos(s string) (Dbpos, bool) {
	for i, n := range dbposNames {
		if strings.EqualFold(n, s) {
			return Dbpos(i), true
		}
	}
	return DBPOS_BAD_STATE, false
}

// Tcmd is the step command used by BSC.
type Tcmd uint32

const (
	TCMD_STOP Tcmd = iota
	TCMD_LOWER
	TCMD_HIGHER
	TCMD_RESERVED
)

var tcmdNames = [...]string{"stop", "lower", "higher", "reserved"}

func (c Tcmd) String() string {
	if int(c) < len(tcmdNames) {
		return tcmdNames[c]
	}
	return "reserved"
}

// Datapoint is one data object of the information model as seen by the gateway.
// Value, quality and timestamp are guarded by the owning session's lock.
type Datapoint struct {
	ID       string
	Label    string
	ObjRef   string
	CDC      CDCType
	Writable bool

	// Optional bounds for setpoint classes, checked by the default interlock.
	Min *float64
	Max *float64

	value     *MmsValue
	quality   Quality
	timestamp Timestamp
	// seq counts the states written to the model.
	seq uint64

	// node is the backend's handle for ObjRef, set when the session is configured.
	node ModelNode
}

// Value returns the last value applied to the datapoint.
func (dp *Datapoint) Value() *MmsValue {
	return dp.value
}

func (dp *Datapoint) Quality() Quality {
	return dp.quality
}

func (dp *Datapoint) Timestamp() Timestamp {
	return dp.timestamp
}

// Node returns the backend handle of the data object, nil before configuration.
func (dp *Datapoint) Node() ModelNode {
	return dp.node
}

// StatusRef returns the full reference of the attribute carrying the state.
func (dp *Datapoint) StatusRef() string {
	spec, ok := dp.CDC.StatusAttribute()
	if !ok {
		return ""
	}
	return dp.ObjRef + "." + spec.Name
}

// set stores a new state. Callers hold the session lock.
func (dp *Datapoint) set(value *MmsValue, q Quality, ts Timestamp) {
	dp.value = value
	dp.quality = q
	dp.timestamp = ts
}

func (dp *Datapoint) String() string {
	return fmt.Sprintf("%s(%s %s)", dp.ID, dp.CDC, dp.ObjRef)
}
