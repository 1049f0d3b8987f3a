package gateway

import "strings"

// Quality is the IEC 61850 quality bit string. Bit values match libiec61850.
type Quality uint16

const (
	QUALITY_VALIDITY_GOOD         Quality = 0
	QUALITY_VALIDITY_INVALID      Quality = 2
	QUALITY_VALIDITY_RESERVED     Quality = 1
	QUALITY_VALIDITY_QUESTIONABLE Quality = 3

	QUALITY_DETAIL_OVERFLOW      Quality = 4
	QUALITY_DETAIL_OUT_OF_RANGE  Quality = 8
	QUALITY_DETAIL_BAD_REFERENCE Quality = 16
	QUALITY_DETAIL_OSCILLATORY   Quality = 32
	QUALITY_DETAIL_FAILURE       Quality = 64
	QUALITY_DETAIL_OLD_DATA      Quality = 128
	QUALITY_DETAIL_INCONSISTENT  Quality = 256
	QUALITY_DETAIL_INACCURATE    Quality = 512

	QUALITY_SOURCE_SUBSTITUTED Quality = 1024
	QUALITY_TEST               Quality = 2048
	QUALITY_OPERATOR_BLOCKED   Quality = 4096
	QUALITY_DERIVED            Quality = 8192
)

const qualityValidityMask Quality = 3

func (q Quality) Validity() Quality {
	return q & qualityValidityMask
}

func (q Quality) IsGood() bool {
	return q.Validity() == QUALITY_VALIDITY_GOOD
}

// IsOperable reports whether a control may act on a point with this quality.
// Invalid, questionable, blocked and test-flagged values are not operable.
func (q Quality) IsOperable() bool {
	return q.IsGood() && q&(QUALITY_OPERATOR_BLOCKED|QUALITY_TEST) == 0
}

// Set returns q with the given flag set.
func (q Quality) Set(flag Quality) Quality {
	if flag <= qualityValidityMask {
		return (q &^ qualityValidityMask) | flag
	}
	return q | flag
}

var qualityDetailNames = []struct {
	flag Quality
	name string
}{
	{QUALITY_DETAIL_OVERFLOW, "overflow"},
	{QUALITY_DETAIL_OUT_OF_RANGE, "outOfRange"},
	{QUALITY_DETAIL_BAD_REFERENCE, "badReference"},
	{QUALITY_DETAIL_OSCILLATORY, "oscillatory"},
	{QUALITY_DETAIL_FAILURE, "failure"},
	{QUALITY_DETAIL_OLD_DATA, "oldData"},
	{QUALITY_DETAIL_INCONSISTENT, "inconsistent"},
	{QUALITY_DETAIL_INACCURATE, "inaccurate"},
	{QUALITY_SOURCE_SUBSTITUTED, "substituted"},
	{QUALITY_TEST, "test"},
	{QUALITY_OPERATOR_BLOCKED, "operatorBlocked"},
	{QUALITY_DERIVED, "derived"},
}

func (q Quality) String() string {
	var parts []string
	switch q.Validity() {
	case QUALITY_VALIDITY_GOOD:
		parts = append(parts, "good")
	case QUALITY_VALIDITY_INVALID:
		parts = append(parts, "invalid")
	case QUALITY_VALIDITY_QUESTIONABLE:
		parts = append(parts, "questionable")
	default:
		parts = append(parts, "reserved")
	}
	for _, d := range qualityDetailNames {
		if q&d.flag != 0 {
			parts = append(parts, d.name)
		}
	}
	return strings.Join(parts, "|")
}
