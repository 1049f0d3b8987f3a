package gateway

import (
	"fmt"
	"strings"
)

// String implements fmt.Stringer for MmsValue.
// It prints a human-readable representation for all MMS data types.
// Composite types (Array/Structure) are formatted recursively.
func (v MmsValue) String() string {
	var b strings.Builder
	writeMmsValue(&b, v, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeMmsValue(b *strings.Builder, v MmsValue, level int) {
	switch v.Type {
	case Array, Structure:
		// Expect Value to be []*MmsValue
		if v.Type == Structure {
			b.WriteString("{")
		} else {
			b.WriteString("[")
		}
		if children, ok := v.Value.([]*MmsValue); ok {
			for i, child := range children {
				if i > 0 {
					b.WriteString(", ")
				}
				if child == nil {
					b.WriteString("<nil>")
					continue
				}
				writeMmsValue(b, *child, level+1)
			}
		}
		if v.Type == Structure {
			b.WriteString("}")
		} else {
			b.WriteString("]")
		}
	case Boolean, Integer, Unsigned, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32:
		fmt.Fprintf(b, "%s(%v)", mmsTypeName(v.Type), v.Value)
	case Float:
		fmt.Fprintf(b, "Float(%g)", v.Value)
	case String, VisibleString:
		fmt.Fprintf(b, "%s(%q)", mmsTypeName(v.Type), v.Value)
	case BitString:
		fmt.Fprintf(b, "BitString(0b%b)", v.Value)
	case OctetString:
		if bs, ok := v.Value.([]byte); ok {
			fmt.Fprintf(b, "OctetString(% X)", bs)
		} else {
			fmt.Fprintf(b, "OctetString(%v)", v.Value)
		}
	case UTCTime:
		if ts, ok := v.Value.(Timestamp); ok {
			fmt.Fprintf(b, "UTCTime(%s)", ts)
		} else {
			fmt.Fprintf(b, "UTCTime(%v)", v.Value)
		}
	case DataAccessError:
		fmt.Fprintf(b, "DataAccessError(%v)", v.Value)
	default:
		fmt.Fprintf(b, "%s(%v)", mmsTypeName(v.Type), v.Value)
	}
}

func mmsTypeName(t MmsType) string {
	switch t {
	case Array:
		return "Array"
	case Structure:
		return "Structure"
	case Boolean:
		return "Boolean"
	case BitString:
		return "BitString"
	case Integer:
		return "Integer"
	case Unsigned:
		return "Unsigned"
	case Float:
		return "Float"
	case OctetString:
		return "OctetString"
	case VisibleString:
		return "VisibleString"
	case GeneralizedTime:
		return "GeneralizedTime"
	case BinaryTime:
		return "BinaryTime"
	case Bcd:
		return "Bcd"
	case ObjId:
		return "ObjId"
	case String:
		return "String"
	case UTCTime:
		return "UTCTime"
	case DataAccessError:
		return "DataAccessError"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	default:
		return fmt.Sprintf("MmsType(%d)", int(t))
	}
}

func (mt MmsType) String() string {
	return mmsTypeName(mt)
}

var fcNames = map[FC]string{
	ST: "ST", MX: "MX", SP: "SP", SV: "SV", CF: "CF", DC: "DC", SG: "SG", SE: "SE",
	SR: "SR", OR: "OR", BL: "BL", EX: "EX", CO: "CO", US: "US", MS: "MS", RP: "RP",
	BR: "BR", LG: "LG", GO: "GO",
}

// String implements fmt.Stringer for FC. It returns the short IEC 61850
// abbreviation like "ST", "MX", etc.
func (f FC) String() string {
	if s, ok := fcNames[f]; ok {
		return s
	}
	return "NONE"
}

// FunctionalConstraintFromString parses an FC abbreviation. Unknown strings map to NONE.
func FunctionalConstraintFromString(s string) FC {
	for fc, name := range fcNames {
		if strings.EqualFold(name, s) {
			return fc
		}
	}
	return NONE
}
