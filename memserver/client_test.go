package memserver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
)

type recordingCallback struct {
	check   gateway.CheckHandlerResult
	control gateway.ControlHandlerResult
	write   gateway.MmsDataAccessError

	checks   []*gateway.ControlAction
	controls []*gateway.MmsValue
	writes   []string
}

func (r *recordingCallback) CheckHandler(action *gateway.ControlAction, value *gateway.MmsValue, test bool, interlockCheck bool) gateway.CheckHandlerResult {
	r.checks = append(r.checks, action)
	return r.check
}

func (r *recordingCallback) ControlHandler(action *gateway.ControlAction, value *gateway.MmsValue, test bool) gateway.ControlHandlerResult {
	r.controls = append(r.controls, value)
	return r.control
}

func (r *recordingCallback) WriteAccessHandler(ref string, value *gateway.MmsValue, origin string) gateway.MmsDataAccessError {
	r.writes = append(r.writes, ref)
	return r.write
}

func newTestServer(t *testing.T) (*Server, *Model) {
	t.Helper()
	m := loadTestModel(t)
	s := NewServer(m, &gateway.ServerConfig{Edition: 2}, nil)
	require.NoError(t, s.Start("", 10102))
	t.Cleanup(s.Destroy)
	return s, m
}

func TestOperate(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("GGIO1.SPCSO1")
	require.NoError(t, err)

	cb := &recordingCallback{check: gateway.CONTROL_ACCEPTED, control: gateway.CONTROL_RESULT_OK}
	require.NoError(t, s.HandleControl(node, cb))

	c := NewClient(s, "10.0.0.1:40000")
	require.NoError(t, c.Operate("GGIO1.SPCSO1", gateway.NewInteger(1), ControlParams{}))

	require.Len(t, cb.checks, 1)
	assert.Equal(t, gateway.PHASE_OPERATE, cb.checks[0].Phase)
	assert.Equal(t, "10.0.0.1:40000", cb.checks[0].Origin)
	assert.Equal(t, "simpleIOGenericIO/GGIO1.SPCSO1", cb.checks[0].ObjRef)
	require.Len(t, cb.controls, 1)
	assert.Equal(t, gateway.NewBoolean(true), cb.controls[0], "ctlVal converted to the Oper.ctlVal type")
}

func TestOperateDenied(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("GGIO1.SPCSO1")
	require.NoError(t, err)

	cb := &recordingCallback{check: gateway.CONTROL_OBJECT_ACCESS_DENIED}
	require.NoError(t, s.HandleControl(node, cb))

	err = NewClient(s, "a").Operate("GGIO1.SPCSO1", gateway.NewBoolean(true), ControlParams{})
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gateway.CONTROL_OBJECT_ACCESS_DENIED, ce.Check)
	assert.Empty(t, cb.controls, "control handler must not run after a denied check")
}

func TestOperateErrors(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("GGIO1.AnOut1")
	require.NoError(t, err)
	cb := &recordingCallback{check: gateway.CONTROL_ACCEPTED, control: gateway.CONTROL_RESULT_FAILED}
	require.NoError(t, s.HandleControl(node, cb))
	c := NewClient(s, "a")

	err = c.Operate("GGIO1.Ind1", gateway.NewBoolean(true), ControlParams{})
	assert.ErrorIs(t, err, ErrNotControllable)

	err = c.Operate("GGIO1.SPCSO1", gateway.NewBoolean(true), ControlParams{})
	assert.ErrorIs(t, err, ErrNotControllable, "no handler installed")

	err = c.Operate("GGIO1.AnOut1", gateway.NewString("abc"), ControlParams{})
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gateway.CONTROL_VALUE_INVALID, ce.Check)
	assert.Empty(t, cb.checks)

	err = c.Operate("GGIO1.AnOut1", gateway.NewFloat(1.5), ControlParams{})
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Check.Accepted())
	assert.Equal(t, gateway.CONTROL_RESULT_FAILED, ce.Result)
	require.Len(t, cb.controls, 1)
	assert.Equal(t, gateway.NewFloat(1.5), cb.controls[0])
}

func TestSelect(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("CSWI1.Pos")
	require.NoError(t, err)
	cb := &recordingCallback{check: gateway.CONTROL_ACCEPTED, control: gateway.CONTROL_RESULT_OK}
	require.NoError(t, s.HandleControl(node, cb))

	c := NewClient(s, "a")
	require.NoError(t, c.Select("CSWI1.Pos"))
	require.NoError(t, c.Operate("CSWI1.Pos", gateway.NewBoolean(true), ControlParams{Test: true}))

	require.Len(t, cb.checks, 2)
	assert.Equal(t, gateway.PHASE_SELECT, cb.checks[0].Phase)
	assert.Equal(t, gateway.PHASE_OPERATE, cb.checks[1].Phase)
	assert.NotEqual(t, cb.checks[0].ID, cb.checks[1].ID)
	assert.Equal(t, uint8(2), cb.checks[1].CtlNum)
}

func TestWrite(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("GGIO1.StrOut1")
	require.NoError(t, err)
	cb := &recordingCallback{write: gateway.DATA_ACCESS_ERROR_SUCCESS}
	require.NoError(t, s.HandleWriteAccess(node, gateway.SP, cb))
	c := NewClient(s, "a")

	var we *WriteError
	err = c.Write("LLN0.NamPlt.d", gateway.NewVisibleString("feeder 1"))
	require.ErrorAs(t, err, &we, "DC writes are denied by default")
	assert.Equal(t, gateway.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, we.Code)

	s.SetWriteAccessPolicy(gateway.DC, gateway.ACCESS_POLICY_ALLOW)
	require.NoError(t, c.Write("LLN0.NamPlt.d", gateway.NewVisibleString("feeder 1")), "no handler, policy decides")

	require.NoError(t, c.Write("GGIO1.StrOut1.setVal", gateway.NewVisibleString("auto")))
	assert.Equal(t, []string{"simpleIOGenericIO/GGIO1.StrOut1.setVal"}, cb.writes)
	v, err := c.Read("GGIO1.StrOut1.setVal")
	require.NoError(t, err)
	assert.Equal(t, "auto", v.Value)

	cb.write = gateway.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	err = c.Write("GGIO1.StrOut1.setVal", gateway.NewVisibleString("manual"))
	require.ErrorAs(t, err, &we)
	v, err = c.Read("GGIO1.StrOut1.setVal")
	require.NoError(t, err)
	assert.Equal(t, "auto", v.Value, "refused write leaves the value")

	cb.write = gateway.DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE
	require.NoError(t, c.Write("GGIO1.StrOut1.setVal", gateway.NewVisibleString("remote")))
	v, err = c.Read("GGIO1.StrOut1.setVal")
	require.NoError(t, err)
	assert.Equal(t, "auto", v.Value, "handler applied the write itself")

	err = c.Write("GGIO1.Ind1.stVal", gateway.NewBoolean(true))
	require.ErrorAs(t, err, &we, "status values are never writable")
}

func TestUpdateAttribute(t *testing.T) {
	s, m := newTestServer(t)
	node, err := m.Resolve("GGIO1.AnIn1")
	require.NoError(t, err)

	s.LockDataModel()
	require.NoError(t, s.UpdateAttribute(node, "mag.f", gateway.NewFloat(42.5)))
	err = s.UpdateAttribute(node, "mag", gateway.NewFloat(1))
	s.UnlockDataModel()
	assert.Error(t, err)

	v, err := NewClient(s, "a").Read("simpleIOGenericIO/GGIO1.AnIn1.mag.f")
	require.NoError(t, err)
	assert.Equal(t, 42.5, v.Value)

	s.LockDataModel()
	err = s.UpdateAttribute(node, "nope", gateway.NewFloat(1))
	s.UnlockDataModel()
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
}

func TestServerLifecycle(t *testing.T) {
	m := loadTestModel(t)
	b := NewBackend()
	srv, err := b.NewServer(m, &gateway.ServerConfig{MaxConnections: 5}, nil)
	require.NoError(t, err)
	s := srv.(*Server)

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start("127.0.0.1", 102))
	assert.True(t, s.IsRunning())
	addr, port := s.Address()
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, 102, port)
	assert.Equal(t, 5, s.Config().MaxConnections)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Destroy()
	assert.Error(t, s.Start("", 102))
}
