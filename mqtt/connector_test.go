package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
)

type fakePublisher struct {
	resp *paho.PublishResponse
	err  error
	got  []*paho.Publish
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.got = append(f.got, p)
	return f.resp, f.err
}

type fakeSink struct {
	readings []*gateway.Reading
}

func (f *fakeSink) Send(readings []*gateway.Reading) uint32 {
	f.readings = append(f.readings, readings...)
	return uint32(len(readings))
}

func newTestConnector(t *testing.T, sink ReadingSink) *Connector {
	t.Helper()
	c, err := NewConnector(&Config{BrokerURL: "mqtt://localhost:1883"}, sink, nil)
	require.NoError(t, err)
	return c
}

func TestNewConnector(t *testing.T) {
	c := newTestConnector(t, nil)
	cfg := c.Config()
	assert.Equal(t, DefaultCommandTopic, cfg.CommandTopic)
	assert.Equal(t, DefaultReadingTopic, cfg.ReadingTopic)
	assert.Equal(t, uint16(defaultKeepAlive), cfg.KeepAlive)
	assert.Contains(t, cfg.ClientID, "iec61850-gateway-")
	assert.NotEqual(t, cfg.ClientID, newTestConnector(t, nil).Config().ClientID, "client ids are unique")

	c, err := NewConnector(&Config{BrokerURL: "tcp://broker:1883", ClientID: "gw1", CommandTopic: "cmd"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "gw1", c.Config().ClientID)
	assert.Equal(t, "cmd", c.Config().CommandTopic)

	_, err = NewConnector(&Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewConnector(&Config{BrokerURL: "://broker"}, nil, nil)
	assert.Error(t, err)
}

func TestForwardCommand(t *testing.T) {
	c := newTestConnector(t, nil)
	cmd, err := gateway.BuildPivotOperation(gateway.CDC_SPC, gateway.NewBoolean(false), false, false, "brk1", 1700000000, 0)
	require.NoError(t, err)

	assert.Equal(t, gateway.CommandRejected, c.ForwardCommand(context.Background(), cmd), "not connected")

	pub := &fakePublisher{resp: &paho.PublishResponse{}}
	c.pub = pub
	assert.Equal(t, gateway.CommandAccepted, c.ForwardCommand(context.Background(), cmd))
	require.Len(t, pub.got, 1)
	assert.Equal(t, DefaultCommandTopic, pub.got[0].Topic)
	assert.Equal(t, byte(1), pub.got[0].QoS)

	var doc map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(pub.got[0].Payload, &doc))
	assert.Equal(t, "brk1", doc["PIVOT"]["GTIC"]["Identifier"])

	pub.resp = &paho.PublishResponse{ReasonCode: 0x87}
	assert.Equal(t, gateway.CommandRejected, c.ForwardCommand(context.Background(), cmd), "not authorized")

	pub.resp, pub.err = nil, errors.New("connection lost")
	assert.Equal(t, gateway.CommandRejected, c.ForwardCommand(context.Background(), cmd))
}

func TestHandleReading(t *testing.T) {
	sink := &fakeSink{}
	c := newTestConnector(t, sink)

	c.handleReading(&paho.Publish{Topic: DefaultReadingTopic, Payload: []byte(`{"asset":"a","readings":{"brk1":1}}`)})
	c.handleReading(&paho.Publish{Topic: DefaultReadingTopic, Payload: []byte(`not json`)})

	require.Len(t, sink.readings, 1)
	assert.Equal(t, "a", sink.readings[0].AssetName)
}

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading([]byte(`{"asset":"feeder1","timestamp":"2026-03-01T12:00:00Z","readings":{"mv1":12.5,"brk1":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "feeder1", r.AssetName)
	assert.True(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Equal(r.Timestamp))
	require.Len(t, r.Datapoints, 2)
	assert.Equal(t, "brk1", r.Datapoints[0].Name, "sorted by name")
	assert.Equal(t, 1.0, r.Datapoints[0].Value)

	r, err = DecodeReading([]byte(`{"timestamp":1772366400000,"PIVOT":{"GTIS":{"Identifier":"ind1","SpsTyp":{"stVal":true}}}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1772366400000), r.Timestamp.UnixMilli())
	require.Len(t, r.Datapoints, 1)
	assert.Equal(t, gateway.PivotDatapointName, r.Datapoints[0].Name)
	ms, errs := r.Measurements()
	require.Empty(t, errs)
	require.Len(t, ms, 1)
	assert.Equal(t, "ind1", ms[0].ID)

	for _, payload := range []string{`[]`, `{"asset":"a"}`, `{"timestamp":"yesterday","readings":{"a":1}}`, `{`} {
		_, err := DecodeReading([]byte(payload))
		assert.Error(t, err, payload)
	}
}
