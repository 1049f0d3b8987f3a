package gateway

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// TLSConfiguration is the security context of the server: the resolved files of
// a tls_conf document together with the parsed material.
type TLSConfiguration struct {
	KeyFile          string
	CertFile         string
	CAFiles          []string
	AllowedCertFiles []string

	Certificate tls.Certificate
	CAs         *x509.CertPool
	Allowed     []*x509.Certificate
}

// NewTLSConfiguration resolves the files of cfg relative to certDir and loads
// them, so that a broken key or certificate fails the session before the
// backend sees it.
func NewTLSConfiguration(cfg *TLSConfig, certDir string) (*TLSConfiguration, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tls_conf is required")
	}
	resolve := func(name string) string {
		if filepath.IsAbs(name) || certDir == "" {
			return name
		}
		return filepath.Join(certDir, name)
	}

	c := &TLSConfiguration{
		KeyFile:  resolve(cfg.PrivateKey),
		CertFile: resolve(cfg.OwnCert),
		CAs:      x509.NewCertPool(),
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load own certificate %q key %q: %w", c.CertFile, c.KeyFile, err)
	}
	c.Certificate = cert

	for _, ca := range cfg.CACerts {
		path := resolve(ca.CertFile)
		certs, err := loadCertificates(path)
		if err != nil {
			return nil, fmt.Errorf("load CA certificate %q: %w", path, err)
		}
		for _, crt := range certs {
			c.CAs.AddCert(crt)
		}
		c.CAFiles = append(c.CAFiles, path)
	}

	for _, remote := range cfg.RemoteCerts {
		path := resolve(remote.CertFile)
		certs, err := loadCertificates(path)
		if err != nil {
			return nil, fmt.Errorf("load remote certificate %q: %w", path, err)
		}
		c.Allowed = append(c.Allowed, certs...)
		c.AllowedCertFiles = append(c.AllowedCertFiles, path)
	}
	return c, nil
}

// loadCertificates reads PEM or DER encoded certificates.
func loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		crt, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, crt)
	}
	if len(certs) > 0 {
		return certs, nil
	}
	crt, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("neither PEM nor DER certificate: %w", err)
	}
	return []*x509.Certificate{crt}, nil
}

// IsAllowed reports whether a peer certificate is accepted. With no remote
// certificates configured every chain-validated peer is allowed.
func (c *TLSConfiguration) IsAllowed(peer *x509.Certificate) bool {
	if len(c.Allowed) == 0 {
		return true
	}
	for _, a := range c.Allowed {
		if bytes.Equal(a.Raw, peer.Raw) {
			return true
		}
	}
	return false
}

// ServerTLSConfig returns a crypto/tls configuration equivalent to this
// security context, requiring client certificates.
func (c *TLSConfiguration) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.Certificate},
		ClientCAs:    c.CAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("no peer certificate")
			}
			peer, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			if !c.IsAllowed(peer) {
				return fmt.Errorf("peer certificate %q not allowed", peer.Subject.CommonName)
			}
			return nil
		},
	}
}
