package gateway

import "time"

var WriteCert = writeCert

// TLSConfiguration returns the TLS setup kept by the last Configure.
func (s *Session) TLSConfiguration() *TLSConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tls
}

func (s *Session) ControlTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlTimeout
}
