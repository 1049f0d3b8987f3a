package iec61850

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
)

const modelPath = "../testdata/simpleIO_gateway.cfg"

func loadTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := LoadModel(modelPath)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestLoadModel(t *testing.T) {
	_, err := LoadModel("../testdata/missing.cfg")
	assert.Error(t, err)

	m := loadTestModel(t)
	n, err := m.Resolve("GGIO1.SPCSO1")
	require.NoError(t, err)
	assert.Equal(t, "simpleIOGenericIO/GGIO1.SPCSO1", n.ObjectReference())

	full, err := m.Resolve("simpleIOGenericIO/CSWI1.Pos")
	require.NoError(t, err)
	assert.Equal(t, "simpleIOGenericIO/CSWI1.Pos", full.ObjectReference())

	_, err = m.Resolve("GGIO1.Missing")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	_, err = m.Resolve("GGIO1.SPCSO1.stVal")
	assert.ErrorIs(t, err, gateway.ErrNotFound, "attributes are not data objects")

	assert.True(t, m.HasAttribute(n, "stVal"))
	assert.True(t, m.HasAttribute(n, "Oper.ctlVal"))
	assert.False(t, m.HasAttribute(n, "mag.f"))

	assert.Equal(t, gateway.CONTROL_MODEL_DIRECT_NORMAL, m.ControlModel(n))
	assert.Equal(t, gateway.CONTROL_MODEL_SBO_NORMAL, m.ControlModel(full))
	ind, err := m.Resolve("GGIO1.Ind1")
	require.NoError(t, err)
	assert.Equal(t, gateway.CONTROL_MODEL_STATUS_ONLY, m.ControlModel(ind))
}

func TestServerUpdateAttribute(t *testing.T) {
	m := loadTestModel(t)
	s, err := NewBackend().NewServer(m, &gateway.ServerConfig{Edition: 2, Vendor: "gw"}, nil)
	require.NoError(t, err)
	srv := s.(*Server)
	t.Cleanup(srv.Destroy)

	out, err := m.Resolve("GGIO1.AnOut1")
	require.NoError(t, err)
	require.NoError(t, srv.UpdateAttribute(out, "mxVal.f", gateway.NewFloat(42.5)))
	v, err := m.Value(out, "mxVal.f")
	require.NoError(t, err)
	assert.Equal(t, 42.5, v.Value)

	pos, err := m.Resolve("CSWI1.Pos")
	require.NoError(t, err)
	srv.LockDataModel()
	require.NoError(t, srv.UpdateAttribute(pos, "stVal", gateway.NewBitString(uint32(gateway.DBPOS_ON))))
	require.NoError(t, srv.UpdateAttribute(pos, "q", gateway.NewQuality(gateway.QUALITY_VALIDITY_GOOD)))
	srv.UnlockDataModel()
	v, err = m.Value(pos, "stVal")
	require.NoError(t, err)
	assert.Equal(t, uint32(gateway.DBPOS_ON), v.Value)
	_, err = m.Value(pos, "Oper")
	assert.Error(t, err)

	assert.Error(t, srv.UpdateAttribute(pos, "Oper", gateway.NewBoolean(true)), "constructed")
	assert.Error(t, srv.UpdateAttribute(pos, "nothing", gateway.NewBoolean(true)))
	assert.Error(t, srv.UpdateAttribute(out, "mxVal.f", gateway.NewString("high")))

	assert.False(t, srv.IsRunning())
	srv.Destroy()
	assert.Error(t, srv.UpdateAttribute(out, "mxVal.f", gateway.NewFloat(1)))
}
