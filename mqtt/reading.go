package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"

	gateway "github.com/marrasen/iec61850-gateway"
)

type readingMessage struct {
	Asset     string         `json:"asset"`
	Timestamp any            `json:"timestamp"`
	Readings  map[string]any `json:"readings"`
	Pivot     map[string]any `json:"PIVOT"`
}

// DecodeReading decodes a reading message. Two shapes are accepted:
//
//	{"asset":"feeder1","timestamp":"2026-03-01T12:00:00Z","readings":{"brk1":1,"mv1":12.5}}
//	{"PIVOT":{"GTIS":{"Identifier":"brk1","SpsTyp":{"stVal":true}}}}
//
// A numeric timestamp is taken as milliseconds since the epoch.
func DecodeReading(payload []byte) (*gateway.Reading, error) {
	var msg readingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	r := &gateway.Reading{AssetName: msg.Asset, Timestamp: time.Now()}
	if msg.Timestamp != nil {
		ts, err := readingTime(msg.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode reading timestamp: %w", err)
		}
		r.Timestamp = ts
	}
	if msg.Pivot != nil {
		r.Datapoints = append(r.Datapoints, &gateway.ReadingDatapoint{Name: gateway.PivotDatapointName, Value: msg.Pivot})
	}
	names := make([]string, 0, len(msg.Readings))
	for name := range msg.Readings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.Datapoints = append(r.Datapoints, &gateway.ReadingDatapoint{Name: name, Value: msg.Readings[name]})
	}
	if len(r.Datapoints) == 0 {
		return nil, fmt.Errorf("decode reading: no datapoints")
	}
	return r, nil
}

func readingTime(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		return cast.ToTimeE(s)
	}
	ms, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
