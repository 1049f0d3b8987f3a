package gateway

import (
	"fmt"
	"time"
)

// fractionScale is the resolution of the IEC 61850 FractionOfSecond field (24 bit).
const fractionScale = 1 << 24

// Timestamp is an IEC 61850 UtcTime: whole seconds since the epoch plus a 24 bit
// binary fraction of a second.
type Timestamp struct {
	Seconds  int64
	Fraction uint32
}

// TimestampFromTime converts t into a Timestamp. Sub-fraction precision is truncated.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds:  t.Unix(),
		Fraction: uint32(uint64(t.Nanosecond()) * fractionScale / uint64(time.Second)),
	}
}

// TimestampFromMillis converts milliseconds since the epoch.
func TimestampFromMillis(ms int64) Timestamp {
	return TimestampFromTime(time.UnixMilli(ms))
}

// Time returns the timestamp as a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	nanos := int64(uint64(ts.Fraction) * uint64(time.Second) / fractionScale)
	return time.Unix(ts.Seconds, nanos).UTC()
}

// Millis returns milliseconds since the epoch.
func (ts Timestamp) Millis() int64 {
	return ts.Time().UnixMilli()
}

func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Fraction == 0
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%06d", ts.Seconds, uint64(ts.Fraction)*1_000_000/fractionScale)
}

// Before reports whether ts is earlier than o.
func (ts Timestamp) Before(o Timestamp) bool {
	if ts.Seconds != o.Seconds {
		return ts.Seconds < o.Seconds
	}
	return ts.Fraction < o.Fraction
}
