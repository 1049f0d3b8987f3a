package der_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
	"github.com/marrasen/iec61850-gateway/der"
	"github.com/marrasen/iec61850-gateway/memserver"
)

const stackConfig = `{"protocol_stack":{"name":"iec61850server","transport_layer":{"port":10102},
  "application_layer":{"model_path":"../testdata/simpleIO_gateway.cfg","control_timeout":200}}}`

const exchangeConfig = `{"exchanged_data":{"datapoints":[
  {"pivot_id":"sp1","protocols":[{"name":"iec61850","objref":"GGIO1.AnOut1","cdc":"ApcTyp","min":0,"max":100}]},
  {"pivot_id":"pos1","protocols":[{"name":"iec61850","objref":"CSWI1.Pos","cdc":"DpcTyp"}]}]}}`

const schedulerConfig = `{"scheduler_conf":{"enabled":true,"resolution":"10ms","schedules":[
  {"name":"limit","target":"sp1","priority":1,"enabled":true,"interval":"1h","values":[42.5]},
  {"name":"open","target":"pos1","priority":1,"enabled":true,"interval":"1h","values":[false]}]}}`

type forwarder struct {
	mu   sync.Mutex
	cmds []*gateway.PivotCommand
}

func (f *forwarder) ForwardCommand(_ context.Context, cmd *gateway.PivotCommand) gateway.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return gateway.CommandAccepted
}

func (f *forwarder) Commands() []*gateway.PivotCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gateway.PivotCommand(nil), f.cmds...)
}

func TestSchedulerDrivesSession(t *testing.T) {
	backend := memserver.NewBackend()
	s := gateway.NewSession(backend, gateway.WithScheduler(der.New()))
	t.Cleanup(s.Stop)
	require.NoError(t, s.SetJsonConfig(stackConfig, exchangeConfig, "", schedulerConfig))
	require.NoError(t, s.Configure(nil))
	fwd := &forwarder{}
	s.RegisterControl(fwd)
	require.NoError(t, s.Start())

	// The interlock refuses both targets until their state is known.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, fwd.Commands())

	n := s.Send([]*gateway.Reading{gateway.NewReading("asset", map[string]any{"sp1": 10.0, "pos1": uint32(gateway.DBPOS_ON)})})
	require.Equal(t, uint32(2), n)

	require.Eventually(t, func() bool { return len(fwd.Commands()) == 2 }, time.Second, 5*time.Millisecond)
	values := map[string]any{}
	for _, cmd := range fwd.Commands() {
		values[cmd.Identifier] = cmd.Value
		assert.Equal(t, gateway.CauseOperate, cmd.CauseOfTransmission)
	}
	assert.Equal(t, map[string]any{"sp1": 42.5, "pos1": false}, values)

	client := memserver.NewClient(backend.Server(), "reader")
	require.Eventually(t, func() bool {
		v, err := client.Read("GGIO1.AnOut1.mxVal.f")
		return err == nil && v.Value == 42.5
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, fwd.Commands(), 2, "applied slots are not repeated")
}

func TestSchedulerEnabledWithoutScheduler(t *testing.T) {
	s := gateway.NewSession(memserver.NewBackend())
	t.Cleanup(s.Stop)
	require.NoError(t, s.SetJsonConfig(stackConfig, exchangeConfig, "", schedulerConfig))
	var ce *gateway.ConfigurationError
	assert.ErrorAs(t, s.Configure(nil), &ce)
}
