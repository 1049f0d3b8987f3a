package memserver

import (
	"fmt"

	gateway "github.com/marrasen/iec61850-gateway"
)

// AttributeType is the basic type of a data attribute. Values match
// libiec61850's DataAttributeType as written in .cfg model files.
type AttributeType int

const (
	TYPE_UNKNOWN            AttributeType = -1
	TYPE_BOOLEAN            AttributeType = 0
	TYPE_INT8               AttributeType = 1
	TYPE_INT16              AttributeType = 2
	TYPE_INT32              AttributeType = 3
	TYPE_INT64              AttributeType = 4
	TYPE_INT128             AttributeType = 5
	TYPE_INT8U              AttributeType = 6
	TYPE_INT16U             AttributeType = 7
	TYPE_INT24U             AttributeType = 8
	TYPE_INT32U             AttributeType = 9
	TYPE_FLOAT32            AttributeType = 10
	TYPE_FLOAT64            AttributeType = 11
	TYPE_ENUMERATED         AttributeType = 12
	TYPE_OCTET_STRING_64    AttributeType = 13
	TYPE_OCTET_STRING_6     AttributeType = 14
	TYPE_OCTET_STRING_8     AttributeType = 15
	TYPE_VISIBLE_STRING_32  AttributeType = 16
	TYPE_VISIBLE_STRING_64  AttributeType = 17
	TYPE_VISIBLE_STRING_65  AttributeType = 18
	TYPE_VISIBLE_STRING_129 AttributeType = 19
	TYPE_VISIBLE_STRING_255 AttributeType = 20
	TYPE_UNICODE_STRING_255 AttributeType = 21
	TYPE_TIMESTAMP          AttributeType = 22
	TYPE_QUALITY            AttributeType = 23
	TYPE_CHECK              AttributeType = 24
	TYPE_CODEDENUM          AttributeType = 25
	TYPE_GENERIC_BITSTRING  AttributeType = 26
	TYPE_CONSTRUCTED        AttributeType = 27
	TYPE_ENTRY_TIME         AttributeType = 28
	TYPE_PHYCOMADDR         AttributeType = 29
	TYPE_CURRENCY           AttributeType = 30
	TYPE_OPTFLDS            AttributeType = 31
	TYPE_TRGOPS             AttributeType = 32
)

// MmsType returns the MMS type used to hold values of the attribute.
func (t AttributeType) MmsType() gateway.MmsType {
	switch t {
	case TYPE_BOOLEAN:
		return gateway.Boolean
	case TYPE_INT8, TYPE_INT16, TYPE_INT32, TYPE_INT64, TYPE_INT128, TYPE_ENUMERATED:
		return gateway.Integer
	case TYPE_INT8U, TYPE_INT16U, TYPE_INT24U, TYPE_INT32U:
		return gateway.Unsigned
	case TYPE_FLOAT32, TYPE_FLOAT64:
		return gateway.Float
	case TYPE_OCTET_STRING_64, TYPE_OCTET_STRING_6, TYPE_OCTET_STRING_8, TYPE_PHYCOMADDR:
		return gateway.OctetString
	case TYPE_VISIBLE_STRING_32, TYPE_VISIBLE_STRING_64, TYPE_VISIBLE_STRING_65,
		TYPE_VISIBLE_STRING_129, TYPE_VISIBLE_STRING_255, TYPE_CURRENCY:
		return gateway.VisibleString
	case TYPE_UNICODE_STRING_255:
		return gateway.String
	case TYPE_TIMESTAMP:
		return gateway.UTCTime
	case TYPE_ENTRY_TIME:
		return gateway.BinaryTime
	case TYPE_QUALITY, TYPE_CHECK, TYPE_CODEDENUM, TYPE_GENERIC_BITSTRING, TYPE_OPTFLDS, TYPE_TRGOPS:
		return gateway.BitString
	case TYPE_CONSTRUCTED:
		return gateway.Structure
	}
	return gateway.DataAccessError
}

// size returns the width used in type specifications: bits for numbers and
// bit strings, characters or octets for strings.
func (t AttributeType) size() int {
	switch t {
	case TYPE_INT8, TYPE_INT8U:
		return 8
	case TYPE_INT16, TYPE_INT16U:
		return 16
	case TYPE_INT24U:
		return 24
	case TYPE_INT32, TYPE_INT32U, TYPE_FLOAT32:
		return 32
	case TYPE_INT64, TYPE_FLOAT64:
		return 64
	case TYPE_INT128:
		return 128
	case TYPE_ENUMERATED:
		return 8
	case TYPE_OCTET_STRING_64:
		return 64
	case TYPE_OCTET_STRING_6, TYPE_PHYCOMADDR:
		return 6
	case TYPE_OCTET_STRING_8:
		return 8
	case TYPE_VISIBLE_STRING_32:
		return 32
	case TYPE_VISIBLE_STRING_64:
		return 64
	case TYPE_VISIBLE_STRING_65:
		return 65
	case TYPE_VISIBLE_STRING_129:
		return 129
	case TYPE_VISIBLE_STRING_255, TYPE_UNICODE_STRING_255:
		return 255
	case TYPE_CURRENCY:
		return 3
	case TYPE_QUALITY:
		return 13
	case TYPE_CHECK, TYPE_CODEDENUM:
		return 2
	case TYPE_OPTFLDS:
		return 10
	case TYPE_TRGOPS:
		return 6
	case TYPE_ENTRY_TIME:
		return 6
	}
	return 0
}

// zero returns the value an attribute holds before anything is written.
func (t AttributeType) zero() *gateway.MmsValue {
	switch t.MmsType() {
	case gateway.Boolean:
		return gateway.NewBoolean(false)
	case gateway.Integer:
		return gateway.NewInteger(0)
	case gateway.Unsigned:
		return gateway.NewUnsigned(0)
	case gateway.Float:
		return gateway.NewFloat(0)
	case gateway.VisibleString:
		return gateway.NewVisibleString("")
	case gateway.String:
		return gateway.NewString("")
	case gateway.BitString:
		return gateway.NewBitString(0)
	case gateway.UTCTime:
		return gateway.NewUTCTime(gateway.Timestamp{})
	case gateway.OctetString:
		return &gateway.MmsValue{Type: gateway.OctetString, Value: []byte{}}
	case gateway.BinaryTime:
		return &gateway.MmsValue{Type: gateway.BinaryTime, Value: gateway.Timestamp{}}
	}
	return nil
}

// convert coerces v into a value of this attribute type.
func (t AttributeType) convert(v *gateway.MmsValue) (*gateway.MmsValue, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}
	want := t.MmsType()
	if v.Type == want {
		return v, nil
	}
	switch want {
	case gateway.UTCTime, gateway.BinaryTime, gateway.OctetString, gateway.Structure:
		return nil, fmt.Errorf("cannot store %s in %s attribute", v.Type, want)
	}
	return gateway.ConvertValue(want, v.Interface())
}
