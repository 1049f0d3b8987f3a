package iec61850

// #include "bridge.h"
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	gateway "github.com/marrasen/iec61850-gateway"
)

// Server implements gateway.Server with an IedServer.
type Server struct {
	model *Model

	mu        sync.Mutex
	server    C.IedServer
	tls       C.TLSConfiguration
	handles   []cgo.Handle
	identity  []*C.char
	destroyed bool
}

// NewServer creates the IedServer for model. With tls set the server only
// accepts TLS connections.
func NewServer(model *Model, cfg *gateway.ServerConfig, tls *gateway.TLSConfiguration) (*Server, error) {
	if model.model == nil {
		return nil, fmt.Errorf("model %q destroyed", model.path)
	}
	s := &Server{model: model}

	config := C.IedServerConfig_create()
	defer C.IedServerConfig_destroy(config)
	if cfg != nil {
		if cfg.Edition > 0 {
			C.IedServerConfig_setEdition(config, C.uint8_t(cfg.Edition-1))
		}
		if cfg.MaxConnections > 0 {
			C.IedServerConfig_setMaxMmsConnections(config, C.int(cfg.MaxConnections))
		}
		if cfg.ReportBufferSize > 0 {
			C.IedServerConfig_setReportBufferSize(config, C.int(cfg.ReportBufferSize))
		}
	}

	if tls != nil {
		tc, err := newTLSConfiguration(tls)
		if err != nil {
			return nil, err
		}
		s.tls = tc
	}

	s.server = C.IedServer_createWithConfig(model.model, s.tls, config)
	if s.server == nil {
		if s.tls != nil {
			C.TLSConfiguration_destroy(s.tls)
		}
		return nil, fmt.Errorf("create server for model %q", model.path)
	}

	if cfg != nil && (cfg.Vendor != "" || cfg.Model != "" || cfg.Revision != "") {
		// The stack keeps the pointers, so the strings live as long as the server.
		s.identity = []*C.char{Go2CStr(cfg.Vendor), Go2CStr(cfg.Model), Go2CStr(cfg.Revision)}
		C.IedServer_setServerIdentity(s.server, s.identity[0], s.identity[1], s.identity[2])
	}
	return s, nil
}

func newTLSConfiguration(cfg *gateway.TLSConfiguration) (C.TLSConfiguration, error) {
	tc := C.TLSConfiguration_create()
	fail := func(what, path string) (C.TLSConfiguration, error) {
		C.TLSConfiguration_destroy(tc)
		return nil, fmt.Errorf("tls: load %s %q", what, path)
	}

	key := Go2CStr(cfg.KeyFile)
	defer freeCStr(key)
	if !bool(C.TLSConfiguration_setOwnKeyFromFile(tc, key, nil)) {
		return fail("private key", cfg.KeyFile)
	}
	cert := Go2CStr(cfg.CertFile)
	defer freeCStr(cert)
	if !bool(C.TLSConfiguration_setOwnCertificateFromFile(tc, cert)) {
		return fail("certificate", cfg.CertFile)
	}
	for _, path := range cfg.CAFiles {
		p := Go2CStr(path)
		ok := bool(C.TLSConfiguration_addCACertificateFromFile(tc, p))
		freeCStr(p)
		if !ok {
			return fail("CA certificate", path)
		}
	}
	for _, path := range cfg.AllowedCertFiles {
		p := Go2CStr(path)
		ok := bool(C.TLSConfiguration_addAllowedCertificateFromFile(tc, p))
		freeCStr(p)
		if !ok {
			return fail("allowed certificate", path)
		}
	}
	C.TLSConfiguration_setChainValidation(tc, C.bool(len(cfg.CAFiles) > 0))
	C.TLSConfiguration_setAllowOnlyKnownCertificates(tc, C.bool(len(cfg.AllowedCertFiles) > 0))
	return tc, nil
}

// register keeps r alive for the stack and returns the callback parameter.
func (s *Server) register(r *registration) unsafe.Pointer {
	h := cgo.NewHandle(r)
	s.handles = append(s.handles, h)
	return C.gw_handle(C.uintptr_t(h))
}

func (s *Server) UpdateAttribute(node gateway.ModelNode, attr string, value *gateway.MmsValue) error {
	a, err := s.model.attribute(node, attr)
	if err != nil {
		return err
	}
	cur := C.gw_attributeValue(a)
	if cur == nil {
		return fmt.Errorf("attribute %s.%s is not a basic attribute", node.ObjectReference(), attr)
	}
	v := C.MmsValue_clone(cur)
	defer C.MmsValue_delete(v)
	if err := setValue(v, value); err != nil {
		return fmt.Errorf("attribute %s.%s: %w", node.ObjectReference(), attr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("server destroyed")
	}
	C.IedServer_updateAttributeValue(s.server, (*C.DataAttribute)(unsafe.Pointer(a)), v)
	return nil
}

func (s *Server) SetWriteAccessPolicy(fc gateway.FC, policy gateway.AccessPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	C.IedServer_setWriteAccessPolicy(s.server, C.FunctionalConstraint(fc), C.AccessPolicy(policy))
}

func (s *Server) LockDataModel() {
	C.IedServer_lockDataModel(s.server)
}

func (s *Server) UnlockDataModel() {
	C.IedServer_unlockDataModel(s.server)
}

// Start listens on port. An empty addr listens on all interfaces.
func (s *Server) Start(addr string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("server destroyed")
	}
	if addr != "" {
		cAddr := Go2CStr(addr)
		C.IedServer_setLocalIpAddress(s.server, cAddr)
		freeCStr(cAddr)
	}
	C.IedServer_start(s.server, C.int(port))
	if !bool(C.IedServer_isRunning(s.server)) {
		return fmt.Errorf("starting server failed on %s:%d", addr, port)
	}
	return nil
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.destroyed && bool(C.IedServer_isRunning(s.server))
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	C.IedServer_stop(s.server)
}

// Destroy stops the server and releases it. Callback handles are only
// deleted once the stack can no longer call them.
func (s *Server) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	C.IedServer_stop(s.server)
	C.IedServer_destroy(s.server)
	if s.tls != nil {
		C.TLSConfiguration_destroy(s.tls)
	}
	for _, h := range s.handles {
		h.Delete()
	}
	for _, cs := range s.identity {
		freeCStr(cs)
	}
	s.handles, s.identity = nil, nil
}
