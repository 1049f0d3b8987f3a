package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchangeDoc(t *testing.T, doc string) *ExchangeConfig {
	t.Helper()
	cfg, err := ParseExchangeConfig(doc)
	require.NoError(t, err)
	return cfg
}

func TestBuildExchangeMap(t *testing.T) {
	cfg := exchangeDoc(t, `{"exchanged_data":{"datapoints":[
	  {"label":"breaker","pivot_id":"brk1","pivot_type":"SpcTyp",
	   "protocols":[{"name":"iec104","address":"1"},{"name":"IEC61850","objref":"GGIO1.SPCSO1"}]},
	  {"pivot_id":"sp1","pivot_type":"SpcTyp",
	   "protocols":[{"name":"iec61850","objref":"GGIO1.AnOut1","cdc":"APC","min":"-5","max":100}]},
	  {"pivot_id":"other","protocols":[{"name":"iec104","address":"2"}]}]}}`)

	m, err := BuildExchangeMap(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	brk, err := m.Resolve("brk1")
	require.NoError(t, err)
	assert.Equal(t, "breaker", brk.Label)
	assert.Equal(t, CDC_SPC, brk.CDC)
	assert.Equal(t, "GGIO1.SPCSO1.stVal", brk.StatusRef())
	assert.False(t, brk.Quality().IsGood(), "no value received yet")

	sp, err := m.Resolve("sp1")
	require.NoError(t, err)
	assert.Equal(t, CDC_APC, sp.CDC, "protocol cdc overrides pivot_type")
	require.NotNil(t, sp.Min)
	require.NotNil(t, sp.Max)
	assert.Equal(t, -5.0, *sp.Min)
	assert.Equal(t, 100.0, *sp.Max)
	assert.Nil(t, brk.Min)

	ref, err := m.ObjectReferenceFor("sp1")
	require.NoError(t, err)
	assert.Equal(t, "GGIO1.AnOut1", ref)

	dp, err := m.ByObjectReference("GGIO1.SPCSO1")
	require.NoError(t, err)
	assert.Same(t, brk, dp)

	ids := []string{}
	for _, dp := range m.Datapoints() {
		ids = append(ids, dp.ID)
	}
	assert.Equal(t, []string{"brk1", "sp1"}, ids)
}

func TestExchangeMapResolveNotFound(t *testing.T) {
	m := NewExchangeMap()

	_, err := m.Resolve("nope")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "nope", re.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.ObjectReferenceFor("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.ByObjectReference("GGIO1.SPCSO1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildExchangeMapErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{
			name: "duplicate object reference",
			doc: `{"exchanged_data":{"datapoints":[
			  {"pivot_id":"a","protocols":[{"name":"iec61850","objref":"GGIO1.SPCSO1","cdc":"SPC"}]},
			  {"pivot_id":"b","protocols":[{"name":"iec61850","objref":"GGIO1.SPCSO1","cdc":"SPC"}]}]}}`,
			err: ErrDuplicateObjectReference,
		},
		{
			name: "duplicate identifier",
			doc: `{"exchanged_data":{"datapoints":[
			  {"pivot_id":"a","protocols":[{"name":"iec61850","objref":"GGIO1.SPCSO1","cdc":"SPC"}]},
			  {"pivot_id":"a","protocols":[{"name":"iec61850","objref":"GGIO1.SPCSO2","cdc":"SPC"}]}]}}`,
			err: ErrDuplicateIdentifier,
		},
		{
			name: "unknown class",
			doc: `{"exchanged_data":{"datapoints":[
			  {"pivot_id":"a","protocols":[{"name":"iec61850","objref":"GGIO1.SPCSO1","cdc":"XyzTyp"}]}]}}`,
			err: ErrUnsupportedType,
		},
		{
			name: "missing objref",
			doc: `{"exchanged_data":{"datapoints":[
			  {"pivot_id":"a","protocols":[{"name":"iec61850","cdc":"SPC"}]}]}}`,
		},
		{
			name: "bad bound",
			doc: `{"exchanged_data":{"datapoints":[
			  {"pivot_id":"a","protocols":[{"name":"iec61850","objref":"GGIO1.AnOut1","cdc":"APC","max":"high"}]}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildExchangeMap(exchangeDoc(t, tt.doc))
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestExchangeMapFreeze(t *testing.T) {
	m := NewExchangeMap()
	a := &Datapoint{ID: "a", ObjRef: "GGIO1.SPCSO1", CDC: CDC_SPC}
	b := &Datapoint{ID: "b", ObjRef: "GGIO1.SPCSO2", CDC: CDC_SPC}
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))

	require.NoError(t, m.rekey(a, "LD/GGIO1.SPCSO1"))
	dp, err := m.ByObjectReference("LD/GGIO1.SPCSO1")
	require.NoError(t, err)
	assert.Same(t, a, dp)
	_, err = m.ByObjectReference("GGIO1.SPCSO1")
	assert.ErrorIs(t, err, ErrNotFound, "old reference dropped")

	err = m.rekey(b, "LD/GGIO1.SPCSO1")
	assert.ErrorIs(t, err, ErrDuplicateObjectReference)

	m.Freeze()
	assert.True(t, m.Frozen())
	assert.True(t, errors.Is(m.Add(&Datapoint{ID: "c", ObjRef: "x"}), ErrExchangeMapFrozen))
	assert.ErrorIs(t, m.rekey(b, "LD/GGIO1.SPCSO2"), ErrExchangeMapFrozen)

	_, err = m.Resolve("a")
	assert.NoError(t, err, "lookups keep working after freeze")
}

func TestParseCDCType(t *testing.T) {
	for _, s := range []string{"SpcTyp", "spctyp", "SPC", " spc "} {
		typ, err := ParseCDCType(s)
		require.NoError(t, err, s)
		assert.Equal(t, CDC_SPC, typ, s)
	}
	typ, err := ParseCDCType("VsgTyp")
	require.NoError(t, err)
	assert.Equal(t, "VSG", typ.String())
	assert.True(t, typ.IsControllable())

	_, err = ParseCDCType("Typ")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, CDC_MV.IsControllable())
	assert.Equal(t, "UnknownTyp", CDC_UNKNOWN.PivotName())
}

func TestDbpos(t *testing.T) {
	pos, ok := ParseDbpos("ON")
	assert.True(t, ok)
	assert.Equal(t, DBPOS_ON, pos)
	_, ok = ParseDbpos("closed")
	assert.False(t, ok)
	assert.Equal(t, "intermediate-state", DBPOS_INTERMEDIATE_STATE.String())
	assert.Equal(t, "bad-state", Dbpos(7).String())
	assert.Equal(t, "lower", TCMD_LOWER.String())
}
