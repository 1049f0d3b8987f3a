package memserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
)

const testModelPath = "../testdata/simpleIO_gateway.cfg"

func loadTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := LoadModel(testModelPath)
	require.NoError(t, err)
	return m
}

func TestLoadModel(t *testing.T) {
	m := loadTestModel(t)

	assert.Equal(t, "simpleIO", m.Name)
	require.Len(t, m.LDs, 1)
	assert.Equal(t, "simpleIOGenericIO", m.LDs[0].ObjectReference())

	n := m.Node("simpleIOGenericIO/GGIO1.SPCSO1.Oper.ctlVal")
	require.NotNil(t, n)
	assert.Equal(t, gateway.CO, n.FC)
	assert.Equal(t, TYPE_BOOLEAN, n.Type)
	assert.Equal(t, "simpleIOGenericIO/GGIO1.SPCSO1", n.DataObject().ObjectReference())

	v, err := m.Value("simpleIOGenericIO/LLN0.NamPlt.vendor")
	require.NoError(t, err)
	assert.Equal(t, "MZ", v.Value)

	v, err = m.Value("simpleIOGenericIO/ATCC1.TapChg.valWTr.posVal")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Value)
}

func TestResolve(t *testing.T) {
	m := loadTestModel(t)

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "simpleIOGenericIO/GGIO1.SPCSO1", want: "simpleIOGenericIO/GGIO1.SPCSO1"},
		{ref: "GGIO1.SPCSO1", want: "simpleIOGenericIO/GGIO1.SPCSO1"},
		{ref: "CSWI1.Pos", want: "simpleIOGenericIO/CSWI1.Pos"},
		{ref: "GGIO1.SPCSO9", wantErr: true},
		{ref: "GGIO1.SPCSO1.stVal", wantErr: true},
		{ref: "simpleIOGenericIO/GGIO1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			n, err := m.Resolve(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.ObjectReference())
		})
	}
}

func TestResolveAmbiguous(t *testing.T) {
	const cfg = `MODEL(ied){
LD(A){
LN(GGIO1){
DO(Ind1 0){
DA(stVal 0 0 0 1 0);
}
}
}
LD(B){
LN(GGIO1){
DO(Ind1 0){
DA(stVal 0 0 0 1 0);
}
}
}
}
`
	m, err := ParseModel(strings.NewReader(cfg))
	require.NoError(t, err)

	_, err = m.Resolve("GGIO1.Ind1")
	assert.ErrorContains(t, err, "ambiguous")

	n, err := m.Resolve("iedB/GGIO1.Ind1")
	require.NoError(t, err)
	assert.Equal(t, "iedB/GGIO1.Ind1", n.ObjectReference())
}

func TestParseModelErrors(t *testing.T) {
	tests := map[string]string{
		"no model":      "LD(A){\n}\n",
		"unclosed":      "MODEL(ied){\nLD(A){\n",
		"bad DA fields": "MODEL(ied){\nLD(A){\nLN(L){\nDO(D 0){\nDA(x a b c 0 0);\n}\n}\n}\n}\n",
		"DA outside DO": "MODEL(ied){\nLD(A){\nLN(L){\nDA(x 0 0 0 0 0);\n}\n}\n}\n",
		"bad initial":   "MODEL(ied){\nLD(A){\nLN(L){\nDO(D 0){\nDA(x 0 0 0 0 0)=maybe;\n}\n}\n}\n}\n",
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseModel(strings.NewReader(cfg))
			assert.Error(t, err)
		})
	}
}

func TestHasAttributeAndControlModel(t *testing.T) {
	m := loadTestModel(t)

	spcso1, err := m.Resolve("GGIO1.SPCSO1")
	require.NoError(t, err)
	assert.True(t, m.HasAttribute(spcso1, "stVal"))
	assert.True(t, m.HasAttribute(spcso1, "Oper.ctlVal"))
	assert.False(t, m.HasAttribute(spcso1, "mag.f"))
	assert.Equal(t, gateway.CONTROL_MODEL_DIRECT_NORMAL, m.ControlModel(spcso1))

	pos, err := m.Resolve("CSWI1.Pos")
	require.NoError(t, err)
	assert.Equal(t, gateway.CONTROL_MODEL_SBO_NORMAL, m.ControlModel(pos))

	ind, err := m.Resolve("GGIO1.Ind1")
	require.NoError(t, err)
	assert.Equal(t, gateway.CONTROL_MODEL_STATUS_ONLY, m.ControlModel(ind))
}

func TestDataModelString(t *testing.T) {
	m := loadTestModel(t)
	s := m.DataModel().String()

	assert.True(t, strings.HasPrefix(s, "DataModel\n  LD: simpleIOGenericIO\n    LN: LLN0\n"))
	assert.Contains(t, s, "      DO: SPCSO1\n")
	assert.Contains(t, s, "DA: stVal [ST]")
	assert.Contains(t, s, "DS: Events\n")
	assert.Contains(t, s, "DSRef: GGIO1$ST$SPCSO1$stVal")
	assert.Contains(t, s, "URReport: EventsRCB01")
	assert.Contains(t, s, "BRReport: MeasBRCB01")
}

func TestTypeSpec(t *testing.T) {
	m := loadTestModel(t)

	spec, err := m.TypeSpec("simpleIOGenericIO/GGIO1.AnIn1", gateway.MX)
	require.NoError(t, err)
	assert.Equal(t, "Structure{mag: Structure{f: Float(32bit)}, q: BitString(13bit), t: UTCTime}", spec.String())

	spec, err = m.TypeSpec("simpleIOGenericIO/GGIO1.SPCSO1", gateway.CF)
	require.NoError(t, err)
	assert.Equal(t, "Structure{ctlModel: Integer(8bit)}", spec.String())

	_, err = m.TypeSpec("simpleIOGenericIO/GGIO1.AnIn1", gateway.CO)
	assert.Error(t, err)
}

func TestVariableTypeValues(t *testing.T) {
	m := loadTestModel(t)

	vals, err := m.VariableTypeValues("simpleIOGenericIO/CSWI1.Pos", gateway.ST)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, "simpleIOGenericIO/CSWI1.Pos.stVal", vals[0].Ref)
	assert.Equal(t, gateway.BitString, vals[0].Type)
	assert.Equal(t, uint32(1), vals[0].Value)
	assert.Equal(t, "q", vals[1].Name)
	assert.Equal(t, "t", vals[2].Name)
}
