package gateway

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCert creates a self-signed certificate and its key in dir.
func writeCert(t *testing.T, dir, name string, der bool) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},

		BasicConstraintsValid: true,
	}
	raw, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	crt, err := x509.ParseCertificate(raw)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key"),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	data := raw
	if !der {
		data = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: raw})
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".crt"), data, 0o644))
	return crt
}

func TestNewTLSConfiguration(t *testing.T) {
	dir := t.TempDir()
	writeCert(t, dir, "server", false)
	ca := writeCert(t, dir, "ca", true)
	client := writeCert(t, dir, "client", false)
	other := writeCert(t, dir, "other", false)

	cfg := &TLSConfig{
		PrivateKey:  "server.key",
		OwnCert:     "server.crt",
		CACerts:     []TLSCertFile{{CertFile: "ca.crt"}},
		RemoteCerts: []TLSCertFile{{CertFile: filepath.Join(dir, "client.crt")}},
	}
	c, err := NewTLSConfiguration(cfg, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "server.key"), c.KeyFile)
	assert.Equal(t, []string{filepath.Join(dir, "ca.crt")}, c.CAFiles)
	assert.Equal(t, []string{filepath.Join(dir, "client.crt")}, c.AllowedCertFiles, "absolute paths kept")
	assert.True(t, c.CAs.Equal(func() *x509.CertPool {
		p := x509.NewCertPool()
		p.AddCert(ca)
		return p
	}()))

	assert.True(t, c.IsAllowed(client))
	assert.False(t, c.IsAllowed(other))

	sc := c.ServerTLSConfig()
	require.Len(t, sc.Certificates, 1)
	assert.NoError(t, sc.VerifyPeerCertificate([][]byte{client.Raw}, nil))
	assert.Error(t, sc.VerifyPeerCertificate([][]byte{other.Raw}, nil))
	assert.Error(t, sc.VerifyPeerCertificate(nil, nil))
}

func TestNewTLSConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	writeCert(t, dir, "server", false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.crt"), []byte("junk"), 0o644))

	_, err := NewTLSConfiguration(nil, dir)
	assert.Error(t, err)

	_, err = NewTLSConfiguration(&TLSConfig{PrivateKey: "missing.key", OwnCert: "server.crt"}, dir)
	assert.Error(t, err)

	_, err = NewTLSConfiguration(&TLSConfig{
		PrivateKey: "server.key",
		OwnCert:    "server.crt",
		CACerts:    []TLSCertFile{{CertFile: "junk.crt"}},
	}, dir)
	assert.Error(t, err)

	c, err := NewTLSConfiguration(&TLSConfig{PrivateKey: "server.key", OwnCert: "server.crt"}, dir)
	require.NoError(t, err)
	assert.True(t, c.IsAllowed(&x509.Certificate{Raw: []byte("any")}), "no remote certificates configured")
}
