// Package memserver is an in-process IEC 61850 server backend. It loads
// libiec61850 .cfg models, holds attribute values in memory and offers
// client-side services that drive the registered control and write handlers
// the same way a networked client would.
package memserver

import (
	"fmt"
	"sync"

	gateway "github.com/marrasen/iec61850-gateway"
)

// Backend implements gateway.Backend. It remembers the last server it
// created so that callers holding only the backend can attach clients.
type Backend struct {
	mu     sync.Mutex
	server *Server
}

func NewBackend() *Backend {
	return &Backend{}
}

// Server returns the last server created, nil before NewServer.
func (b *Backend) Server() *Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.server
}

func (b *Backend) LoadModel(path string) (gateway.Model, error) {
	return LoadModel(path)
}

func (b *Backend) NewServer(model gateway.Model, cfg *gateway.ServerConfig, tls *gateway.TLSConfiguration) (gateway.Server, error) {
	m, ok := model.(*Model)
	if !ok {
		return nil, fmt.Errorf("memserver: model of type %T", model)
	}
	srv := NewServer(m, cfg, tls)
	b.mu.Lock()
	b.server = srv
	b.mu.Unlock()
	return srv, nil
}

type writeKey struct {
	node *Node
	fc   gateway.FC
}

// Server implements gateway.Server over a Model.
type Server struct {
	model  *Model
	config gateway.ServerConfig
	tls    *gateway.TLSConfiguration

	// mu guards the handler tables and the run state, not attribute values.
	mu        sync.Mutex
	controls  map[*Node]gateway.ControlCallback
	writes    map[writeKey]gateway.ControlCallback
	policies  map[gateway.FC]gateway.AccessPolicy
	running   bool
	destroyed bool
	addr      string
	port      int
}

func NewServer(model *Model, cfg *gateway.ServerConfig, tls *gateway.TLSConfiguration) *Server {
	s := &Server{
		model:    model,
		tls:      tls,
		controls: make(map[*Node]gateway.ControlCallback),
		writes:   make(map[writeKey]gateway.ControlCallback),
		policies: map[gateway.FC]gateway.AccessPolicy{
			gateway.DC: gateway.ACCESS_POLICY_DENY,
			gateway.SP: gateway.ACCESS_POLICY_DENY,
			gateway.SV: gateway.ACCESS_POLICY_DENY,
			gateway.SE: gateway.ACCESS_POLICY_DENY,
			gateway.CF: gateway.ACCESS_POLICY_DENY,
		},
	}
	if cfg != nil {
		s.config = *cfg
	}
	return s
}

func (s *Server) Model() *Model {
	return s.model
}

func (s *Server) Config() gateway.ServerConfig {
	return s.config
}

// TLS returns the security context the server was created with, nil without TLS.
func (s *Server) TLS() *gateway.TLSConfiguration {
	return s.tls
}

func (s *Server) HandleControl(node gateway.ModelNode, cb gateway.ControlCallback) error {
	n, err := s.model.node(node)
	if err != nil {
		return err
	}
	if n.Kind != KindDataObject || n.Child("Oper") == nil {
		return fmt.Errorf("%s is not a controllable data object", n.ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[n] = cb
	return nil
}

func (s *Server) HandleWriteAccess(node gateway.ModelNode, fc gateway.FC, cb gateway.ControlCallback) error {
	n, err := s.model.node(node)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[writeKey{n, fc}] = cb
	return nil
}

// UpdateAttribute sets attr below node. The caller holds the data model lock.
func (s *Server) UpdateAttribute(node gateway.ModelNode, attr string, value *gateway.MmsValue) error {
	a, err := s.model.attribute(node, attr)
	if err != nil {
		return err
	}
	return s.model.setLocked(a, value)
}

func (s *Server) SetWriteAccessPolicy(fc gateway.FC, policy gateway.AccessPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[fc] = policy
}

func (s *Server) LockDataModel() {
	s.model.mu.Lock()
}

func (s *Server) UnlockDataModel() {
	s.model.mu.Unlock()
}

// Start marks the server running. No socket is opened; clients use NewClient.
func (s *Server) Start(addr string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("server destroyed")
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	s.addr, s.port = addr, port
	s.running = true
	return nil
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the address and port given to Start.
func (s *Server) Address() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, s.port
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Destroy unregisters all handlers.
func (s *Server) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.destroyed = true
	s.controls = make(map[*Node]gateway.ControlCallback)
	s.writes = make(map[writeKey]gateway.ControlCallback)
}

func (s *Server) controlHandler(n *Node) (gateway.ControlCallback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, false
	}
	cb, ok := s.controls[n]
	return cb, ok
}

func (s *Server) writeHandler(n *Node, fc gateway.FC) (gateway.ControlCallback, gateway.AccessPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[fc]
	if !ok {
		policy = gateway.ACCESS_POLICY_DENY
	}
	for p := n; p != nil; p = p.Parent {
		if cb, ok := s.writes[writeKey{p, fc}]; ok {
			return cb, policy, true
		}
	}
	return nil, policy, false
}
