package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// CauseOfTransmission of a forwarded command.
type CauseOfTransmission string

const (
	CauseOperate CauseOfTransmission = "op"
	CauseTest    CauseOfTransmission = "test"
)

// causeActivation is the Pivot Cause.stVal for an activation request.
const causeActivation = 6

// ComingFrom is the Pivot ComingFrom value set on every command.
const ComingFrom = "iec61850"

// OperationName is the operation name under which commands are forwarded.
const OperationName = "PivotCommand"

// PivotCommand is the vendor-neutral control command document handed to the
// owning system. It is built once per control action and never modified.
type PivotCommand struct {
	Identifier          string
	CDC                 CDCType
	CauseOfTransmission CauseOfTransmission
	Select              bool
	Value               any
	Timestamp           Timestamp
}

// Test reports whether the command was issued with the test flag.
func (c *PivotCommand) Test() bool {
	return c.CauseOfTransmission == CauseTest
}

// Fields returns the flat form of the document.
func (c *PivotCommand) Fields() map[string]any {
	return map[string]any{
		"identifier":          c.Identifier,
		"type":                c.CDC.PivotName(),
		"causeOfTransmission": string(c.CauseOfTransmission),
		"select":              c.Select,
		"value":               c.Value,
		"timestamp": map[string]any{
			"SecondSinceEpoch": c.Timestamp.Seconds,
			"FractionOfSecond": c.Timestamp.Fraction,
		},
	}
}

type pivotTimestamp struct {
	SecondSinceEpoch int64  `json:"SecondSinceEpoch"`
	FractionOfSecond uint32 `json:"FractionOfSecond"`
}

type pivotStVal struct {
	StVal any `json:"stVal"`
}

type pivotCommandQuality struct {
	Test bool `json:"test"`
}

type pivotCommandValue struct {
	CtlVal any                 `json:"ctlVal"`
	Q      pivotCommandQuality `json:"q"`
	T      pivotTimestamp      `json:"t"`
}

// MarshalJSON encodes the document in the Pivot GTIC layout:
//
//	{"PIVOT":{"GTIC":{"ComingFrom":"iec61850","Identifier":"brk1","Cause":{"stVal":6},
//	 "Select":{"stVal":false},"SpcTyp":{"ctlVal":false,"q":{"test":false},"t":{...}}}}}
func (c *PivotCommand) MarshalJSON() ([]byte, error) {
	gtic := map[string]any{
		"ComingFrom": ComingFrom,
		"Identifier": c.Identifier,
		"Cause":      pivotStVal{StVal: causeActivation},
		"Select":     pivotStVal{StVal: c.Select},
		c.CDC.PivotName(): pivotCommandValue{
			CtlVal: c.Value,
			Q:      pivotCommandQuality{Test: c.Test()},
			T: pivotTimestamp{
				SecondSinceEpoch: c.Timestamp.Seconds,
				FractionOfSecond: c.Timestamp.Fraction,
			},
		},
	}
	return json.Marshal(map[string]any{"PIVOT": map[string]any{"GTIC": gtic}})
}

// BuildPivotOperation maps a control value of a given data class into a Pivot
// command document. Classes that cannot be controlled, and values that do not
// fit the class, are rejected with ErrUnsupportedType.
func BuildPivotOperation(typ CDCType, value *MmsValue, test bool, isSelect bool, label string, seconds int64, fraction uint32) (*PivotCommand, error) {
	if value == nil {
		return nil, fmt.Errorf("build pivot %s for %q: nil value", typ, label)
	}
	ctlVal, err := pivotControlValue(typ, value)
	if err != nil {
		return nil, fmt.Errorf("build pivot %s for %q: %w", typ, label, err)
	}
	cause := CauseOperate
	if test {
		cause = CauseTest
	}
	return &PivotCommand{
		Identifier:          label,
		CDC:                 typ,
		CauseOfTransmission: cause,
		Select:              isSelect,
		Value:               ctlVal,
		Timestamp:           Timestamp{Seconds: seconds, Fraction: fraction},
	}, nil
}

// ControlActionToPivot builds the command document of a control action on dp.
// The timestamp is the action's control time, the time of the triggering event.
func ControlActionToPivot(action *ControlAction, value *MmsValue, test bool, dp *Datapoint) (*PivotCommand, error) {
	if action == nil || dp == nil {
		return nil, fmt.Errorf("control action to pivot: missing action or datapoint")
	}
	ts := action.ControlTime
	return BuildPivotOperation(dp.CDC, value, test, action.Phase.IsSelect(), dp.ID, ts.Seconds, ts.Fraction)
}

func pivotControlValue(typ CDCType, value *MmsValue) (any, error) {
	switch typ {
	case CDC_SPC, CDC_DPC:
		b, err := value.Bool()
		if err != nil {
			return nil, err
		}
		return b, nil
	case CDC_INC, CDC_ENC:
		i, err := value.Int64()
		if err != nil {
			return nil, err
		}
		return i, nil
	case CDC_BSC:
		i, err := value.Int64()
		if err != nil {
			return nil, err
		}
		if i < int64(TCMD_STOP) || i > int64(TCMD_HIGHER) {
			return nil, fmt.Errorf("step command %d out of range", i)
		}
		return Tcmd(i).String(), nil
	case CDC_APC:
		f, err := value.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case CDC_VSG:
		if value.Type != VisibleString && value.Type != String {
			return nil, fmt.Errorf("string setpoint from %s", value.Type)
		}
		s, err := value.Text()
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// statusValueFromControl returns the status value the server model takes once
// a control value of class typ has been executed.
func statusValueFromControl(typ CDCType, value *MmsValue, current *MmsValue) (*MmsValue, error) {
	switch typ {
	case CDC_SPC:
		b, err := value.Bool()
		if err != nil {
			return nil, err
		}
		return NewBoolean(b), nil
	case CDC_DPC:
		b, err := value.Bool()
		if err != nil {
			return nil, err
		}
		if b {
			return NewBitString(uint32(DBPOS_ON)), nil
		}
		return NewBitString(uint32(DBPOS_OFF)), nil
	case CDC_INC, CDC_ENC:
		i, err := value.Int64()
		if err != nil {
			return nil, err
		}
		return NewInteger(i), nil
	case CDC_APC:
		f, err := value.Float64()
		if err != nil {
			return nil, err
		}
		return NewFloat(f), nil
	case CDC_BSC:
		step, err := value.Int64()
		if err != nil {
			return nil, err
		}
		pos := int64(0)
		if current != nil {
			pos, _ = current.Int64()
		}
		switch Tcmd(step) {
		case TCMD_LOWER:
			pos--
		case TCMD_HIGHER:
			pos++
		}
		return NewInteger(pos), nil
	case CDC_VSG:
		s, err := value.Text()
		if err != nil {
			return nil, err
		}
		return NewVisibleString(s), nil
	}
	return nil, ErrUnsupportedType
}

// Measurement is one value extracted from a reading.
type Measurement struct {
	ID        string
	Value     any
	Quality   *Quality
	Timestamp *Timestamp
}

// parsePivotMeasurement extracts a measurement from a Pivot document of the form
// {"GTIS":{"Identifier":..,"SpsTyp":{"stVal":..,"q":{..},"t":{..}}}}.
func parsePivotMeasurement(doc any) (*Measurement, error) {
	root, err := cast.ToStringMapE(doc)
	if err != nil {
		return nil, fmt.Errorf("pivot document: %w", err)
	}
	var body map[string]any
	for _, key := range []string{"GTIS", "GTIM", "GTIC"} {
		if v, ok := root[key]; ok {
			if body, err = cast.ToStringMapE(v); err != nil {
				return nil, fmt.Errorf("pivot %s: %w", key, err)
			}
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("pivot document without GTIS/GTIM/GTIC")
	}
	id := cast.ToString(body["Identifier"])
	if id == "" {
		return nil, fmt.Errorf("pivot document without Identifier")
	}
	// Classes are tried in declaration order, so a document is decoded the
	// same way on every call.
	for typ := CDC_SPS; typ <= CDC_VSG; typ++ {
		name := typ.PivotName()
		raw, ok := body[name]
		if !ok {
			continue
		}
		tv, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("pivot %s: %w", name, err)
		}
		m := &Measurement{ID: id}
		if m.Value, err = pivotStatusValue(typ, tv); err != nil {
			return nil, fmt.Errorf("pivot %s of %q: %w", name, id, err)
		}
		if q, ok := tv["q"]; ok {
			pq := parsePivotQuality(q)
			m.Quality = &pq
		}
		if t, ok := tv["t"]; ok {
			tm := cast.ToStringMap(t)
			ts := Timestamp{
				Seconds:  cast.ToInt64(tm["SecondSinceEpoch"]),
				Fraction: cast.ToUint32(tm["FractionOfSecond"]),
			}
			m.Timestamp = &ts
		}
		return m, nil
	}
	return nil, fmt.Errorf("pivot document %q without known type", id)
}

func pivotStatusValue(typ CDCType, tv map[string]any) (any, error) {
	switch typ {
	case CDC_MV, CDC_APC:
		key := "mag"
		if typ == CDC_APC {
			key = "mxVal"
		}
		inner := cast.ToStringMap(tv[key])
		if v, ok := inner["f"]; ok {
			return v, nil
		}
		if v, ok := inner["i"]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("%s without f or i", key)
	case CDC_BSC:
		inner := cast.ToStringMap(tv["valWTr"])
		if v, ok := inner["posVal"]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("valWTr without posVal")
	case CDC_VSG:
		if v, ok := tv["setVal"]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("missing setVal")
	case CDC_DPS, CDC_DPC:
		v, ok := tv["stVal"]
		if !ok {
			return nil, fmt.Errorf("missing stVal")
		}
		if s, isString := v.(string); isString {
			pos, ok := ParseDbpos(s)
			if !ok {
				return nil, fmt.Errorf("unknown double point %q", s)
			}
			return uint32(pos), nil
		}
		return v, nil
	default:
		v, ok := tv["stVal"]
		if !ok {
			return nil, fmt.Errorf("missing stVal")
		}
		return v, nil
	}
}

func parsePivotQuality(v any) Quality {
	m := cast.ToStringMap(v)
	var q Quality
	switch strings.ToLower(cast.ToString(m["Validity"])) {
	case "invalid":
		q = q.Set(QUALITY_VALIDITY_INVALID)
	case "questionable":
		q = q.Set(QUALITY_VALIDITY_QUESTIONABLE)
	case "reserved":
		q = q.Set(QUALITY_VALIDITY_RESERVED)
	}
	detail := cast.ToStringMap(m["DetailQuality"])
	for _, d := range qualityDetailNames {
		if cast.ToBool(detail[d.name]) {
			q = q.Set(d.flag)
		}
	}
	if strings.EqualFold(cast.ToString(m["Source"]), "substituted") {
		q = q.Set(QUALITY_SOURCE_SUBSTITUTED)
	}
	if cast.ToBool(m["test"]) || cast.ToBool(m["Test"]) {
		q = q.Set(QUALITY_TEST)
	}
	if cast.ToBool(m["operatorBlocked"]) || cast.ToBool(m["OperatorBlocked"]) {
		q = q.Set(QUALITY_OPERATOR_BLOCKED)
	}
	return q
}
