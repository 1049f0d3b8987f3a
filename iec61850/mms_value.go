package iec61850

// #include "bridge.h"
import "C"

import (
	"fmt"

	gateway "github.com/marrasen/iec61850-gateway"
)

// Double point positions are 2-bit strings with the first bit as the most
// significant one; every other bit string (Quality) counts from bit 0.
const dbposBits = 2

// toGoValue copies a C value. It never takes ownership of v.
func toGoValue(v *C.MmsValue) *gateway.MmsValue {
	if v == nil {
		return nil
	}
	t := gateway.MmsType(C.MmsValue_getType(v))
	switch t {
	case gateway.Boolean:
		return gateway.NewBoolean(bool(C.MmsValue_getBoolean(v)))
	case gateway.Integer:
		return gateway.NewInteger(int64(C.MmsValue_toInt64(v)))
	case gateway.Unsigned:
		return gateway.NewUnsigned(uint64(C.MmsValue_toUint32(v)))
	case gateway.Float:
		return gateway.NewFloat(float64(C.MmsValue_toDouble(v)))
	case gateway.VisibleString:
		return &gateway.MmsValue{Type: gateway.VisibleString, Value: C2GoStr(C.MmsValue_toString(v))}
	case gateway.String:
		return gateway.NewString(C2GoStr(C.MmsValue_toString(v)))
	case gateway.BitString:
		if C.MmsValue_getBitStringSize(v) == dbposBits {
			return gateway.NewBitString(uint32(C.MmsValue_getBitStringAsIntegerBigEndian(v)))
		}
		return gateway.NewBitString(uint32(C.MmsValue_getBitStringAsInteger(v)))
	case gateway.UTCTime:
		return gateway.NewUTCTime(gateway.TimestampFromMillis(int64(C.MmsValue_getUtcTimeInMs(v))))
	case gateway.Array, gateway.Structure:
		n := int(C.MmsValue_getArraySize(v))
		children := make([]*gateway.MmsValue, n)
		for i := range children {
			children[i] = toGoValue(C.MmsValue_getElement(v, C.int(i)))
		}
		return &gateway.MmsValue{Type: t, Value: children}
	default:
		return &gateway.MmsValue{Type: t}
	}
}

// setValue stores value in dst, keeping the type and size of dst.
func setValue(dst *C.MmsValue, value *gateway.MmsValue) error {
	if value == nil {
		return fmt.Errorf("nil value")
	}
	t := gateway.MmsType(C.MmsValue_getType(dst))
	switch t {
	case gateway.Boolean:
		b, err := value.Bool()
		if err != nil {
			return err
		}
		C.MmsValue_setBoolean(dst, C.bool(b))
	case gateway.Integer:
		i, err := value.Int64()
		if err != nil {
			return err
		}
		C.MmsValue_setInt64(dst, C.int64_t(i))
	case gateway.Unsigned:
		i, err := value.Int64()
		if err != nil {
			return err
		}
		if i < 0 {
			return fmt.Errorf("negative value %d for Unsigned", i)
		}
		C.MmsValue_setUint32(dst, C.uint32_t(i))
	case gateway.Float:
		f, err := value.Float64()
		if err != nil {
			return err
		}
		C.MmsValue_setDouble(dst, C.double(f))
	case gateway.VisibleString, gateway.String:
		s, err := value.Text()
		if err != nil {
			return err
		}
		cs := Go2CStr(s)
		defer freeCStr(cs)
		if t == gateway.VisibleString {
			C.MmsValue_setVisibleString(dst, cs)
		} else {
			C.MmsValue_setMmsString(dst, cs)
		}
	case gateway.BitString:
		i, err := value.Int64()
		if err != nil {
			return err
		}
		if C.MmsValue_getBitStringSize(dst) == dbposBits {
			C.MmsValue_setBitStringFromIntegerBigEndian(dst, C.uint32_t(i))
		} else {
			C.MmsValue_setBitStringFromInteger(dst, C.uint32_t(i))
		}
	case gateway.UTCTime:
		ts, ok := value.Value.(gateway.Timestamp)
		if !ok {
			return fmt.Errorf("value %v is not a timestamp", value.Value)
		}
		C.MmsValue_setUtcTimeMs(dst, C.uint64_t(ts.Millis()))
	default:
		return fmt.Errorf("%s: %w", t, gateway.ErrUnsupportedType)
	}
	return nil
}
