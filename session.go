package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session is one gateway instance: an IEC 61850 server whose model mirrors the
// datapoints of the exchange map, and whose control services are forwarded to
// the owning system as Pivot command documents.
//
// Server callbacks, scheduler triggers and Send converge on the datapoints and
// are serialized by a single mutex. Stop waits for in-flight callbacks.
type Session struct {
	backend Backend
	log     *slog.Logger
	certDir string
	now     func() time.Time

	selectTimeout  time.Duration
	controlTimeout time.Duration

	mu sync.Mutex

	// gate is held shared by every callback and exclusively by Stop.
	gate    sync.RWMutex
	closed  bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	stackCfg    *StackConfig
	exchangeCfg *ExchangeConfig
	tlsCfg      *TLSConfig
	schedCfg    *SchedulerConfig
	modelPath   string

	configured bool
	running    bool

	exchange   *ExchangeMap
	model      Model
	server     Server
	tls        *TLSConfiguration
	scheduler  Scheduler
	dispatcher *Dispatcher
	forwarder  CommandForwarder
	interlocks map[string]InterlockRule
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithCertificateDir sets the directory relative tls_conf file names are resolved in.
func WithCertificateDir(dir string) Option {
	return func(s *Session) {
		s.certDir = dir
	}
}

// WithScheduler attaches the component that executes scheduler_conf.
func WithScheduler(sch Scheduler) Option {
	return func(s *Session) {
		s.scheduler = sch
	}
}

// WithClock replaces the local clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithSelectTimeout sets how long a selection stays valid without an operate.
func WithSelectTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.selectTimeout = d
	}
}

func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:        backend,
		log:            slog.Default(),
		now:            time.Now,
		selectTimeout:  DefaultSelectTimeout,
		controlTimeout: DefaultControlTimeout,
		interlocks:     make(map[string]InterlockRule),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.log.With(slog.String("protocol", protocolName))
	return s
}

// SetJsonConfig parses the four configuration documents. Only the stack
// configuration is required; empty documents are skipped.
func (s *Session) SetJsonConfig(stack, exchange, tls, scheduler string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setJsonConfigLocked(stack, exchange, tls, scheduler)
}

func (s *Session) setJsonConfigLocked(stack, exchange, tls, scheduler string) error {
	if stack == "" {
		return configError(ItemProtocolStack, ErrNotFound)
	}
	stackCfg, err := ParseStackConfig(stack)
	if err != nil {
		return configError(ItemProtocolStack, err)
	}
	var exchangeCfg *ExchangeConfig
	if exchange != "" {
		if exchangeCfg, err = ParseExchangeConfig(exchange); err != nil {
			return configError(ItemExchangedData, err)
		}
	}
	var tlsCfg *TLSConfig
	if tls != "" {
		if tlsCfg, err = ParseTLSConfig(tls); err != nil {
			return configError(ItemTLSConf, err)
		}
	}
	var schedCfg *SchedulerConfig
	if scheduler != "" {
		if schedCfg, err = ParseSchedulerConfig(scheduler); err != nil {
			return configError(ItemSchedulerConf, err)
		}
	}
	s.stackCfg = stackCfg
	s.exchangeCfg = exchangeCfg
	s.tlsCfg = tlsCfg
	s.schedCfg = schedCfg
	return nil
}

// SetModelPath sets the model file used when neither the configuration category
// nor the stack configuration names one.
func (s *Session) SetModelPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelPath = path
}

// Configure builds the exchange map, loads the information model and wires the
// control callbacks and the scheduler to a new server. Items present in conf
// replace documents given to SetJsonConfig. On error the session stays
// unconfigured and may be configured again.
func (s *Session) Configure(conf ConfigCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return &SessionError{Context: "configure", Err: errors.New("session stopped")}
	}
	if s.configured {
		return configError("configure", errors.New("session already configured"))
	}

	if conf != nil {
		item := func(name string) string {
			if conf.ItemExists(name) {
				return conf.Value(name)
			}
			return ""
		}
		if stack := item(ItemProtocolStack); stack != "" {
			if err := s.setJsonConfigLocked(stack, item(ItemExchangedData), item(ItemTLSConf), item(ItemSchedulerConf)); err != nil {
				return err
			}
		}
		if p := item(ItemModelPath); p != "" {
			s.modelPath = p
		}
	}
	if s.stackCfg == nil {
		return configError(ItemProtocolStack, ErrNotFound)
	}
	if s.exchangeCfg == nil {
		return configError(ItemExchangedData, ErrNotFound)
	}

	err := s.configureLocked()
	if err != nil {
		s.releaseLocked()
		s.exchange = nil
		s.dispatcher = nil
		s.tls = nil
		s.controlTimeout = DefaultControlTimeout
		return err
	}
	s.configured = true
	s.log.Info("session configured",
		slog.String("name", s.stackCfg.Name),
		slog.Int("datapoints", s.exchange.Len()),
		slog.String("model", s.modelPathLocked()))
	return nil
}

func (s *Session) modelPathLocked() string {
	if s.modelPath != "" {
		return s.modelPath
	}
	return s.stackCfg.ApplicationLayer.ModelPath
}

func (s *Session) configureLocked() error {
	exchange, err := BuildExchangeMap(s.exchangeCfg)
	if err != nil {
		return configError(ItemExchangedData, err)
	}

	path := s.modelPathLocked()
	if path == "" {
		return configError(ItemModelPath, ErrNotFound)
	}
	if s.model, err = s.backend.LoadModel(path); err != nil {
		return configError(ItemModelPath, &SessionError{Context: fmt.Sprintf("load model %q", path), Err: err})
	}

	for _, dp := range exchange.Datapoints() {
		node, err := s.model.Resolve(dp.ObjRef)
		if err != nil {
			return configError(ItemExchangedData, fmt.Errorf("datapoint %q objref %q: %w", dp.ID, dp.ObjRef, err))
		}
		spec, ok := dp.CDC.StatusAttribute()
		if !ok || !s.model.HasAttribute(node, spec.Name) {
			return configError(ItemExchangedData, fmt.Errorf("datapoint %q: %s has no %s attribute %q", dp.ID, node.ObjectReference(), dp.CDC, spec.Name))
		}
		if err := exchange.rekey(dp, node.ObjectReference()); err != nil {
			return configError(ItemExchangedData, err)
		}
		dp.node = node
	}
	exchange.Freeze()
	s.exchange = exchange

	if s.stackCfg.TransportLayer.TLS {
		if s.tls, err = NewTLSConfiguration(s.tlsCfg, s.certDir); err != nil {
			return configError(ItemTLSConf, &SessionError{Context: "tls setup", Err: err})
		}
	}

	if s.server, err = s.backend.NewServer(s.model, s.stackCfg.serverConfig(), s.tls); err != nil {
		return &SessionError{Context: "create server", Err: err}
	}
	s.controlTimeout = s.stackCfg.ApplicationLayer.ControlTimeout()

	// Attributes outside the exchange map stay read-only; mapped ones are
	// governed by the write access handler.
	fcs, _ := s.stackCfg.ApplicationLayer.WriteAccessFCs()
	for _, fc := range fcs {
		s.server.SetWriteAccessPolicy(fc, ACCESS_POLICY_DENY)
	}

	s.dispatcher = newDispatcher(s)
	for _, dp := range exchange.Datapoints() {
		if dp.CDC.IsControllable() {
			if err := s.server.HandleControl(dp.node, s.dispatcher); err != nil {
				return configError(ItemExchangedData, fmt.Errorf("datapoint %q control handler: %w", dp.ID, err))
			}
		}
		for _, fc := range fcs {
			if err := s.server.HandleWriteAccess(dp.node, fc, s.dispatcher); err != nil {
				return configError(ItemExchangedData, fmt.Errorf("datapoint %q write handler %s: %w", dp.ID, fc, err))
			}
		}
	}

	if s.schedCfg != nil && s.schedCfg.Enabled {
		if s.scheduler == nil {
			return configError(ItemSchedulerConf, errors.New("scheduler enabled but no scheduler attached"))
		}
		for _, sc := range s.schedCfg.Schedules {
			if _, err := exchange.Resolve(sc.Target); err != nil {
				return configError(ItemSchedulerConf, fmt.Errorf("schedule %q: %w", sc.Name, err))
			}
		}
		if err := s.scheduler.Configure(s.schedCfg, s); err != nil {
			return configError(ItemSchedulerConf, err)
		}
	}
	return nil
}

// Start starts the server on the configured address and port, then the scheduler.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured || s.stopped {
		return &SessionError{Context: "start", Err: ErrNotConfigured}
	}
	if s.running {
		return nil
	}
	tl := s.stackCfg.TransportLayer
	if err := s.server.Start(tl.SrvIP, tl.Port); err != nil {
		return &SessionError{Context: fmt.Sprintf("start server %s:%d", tl.SrvIP, tl.Port), Err: err}
	}
	if !s.server.IsRunning() {
		return &SessionError{Context: fmt.Sprintf("start server %s:%d", tl.SrvIP, tl.Port), Err: errors.New("server not running")}
	}
	if s.scheduler != nil && s.schedCfg != nil && s.schedCfg.Enabled {
		if err := s.scheduler.Start(s.ctx); err != nil {
			s.server.Stop()
			return &SessionError{Context: "start scheduler", Err: err}
		}
	}
	s.running = true
	s.log.Info("server started", slog.String("ip", tl.SrvIP), slog.Int("port", tl.Port), slog.Bool("tls", s.tls != nil))
	return nil
}

// enter admits a callback. It fails once Stop has begun.
func (s *Session) enter() bool {
	s.gate.RLock()
	if s.closed {
		s.gate.RUnlock()
		return false
	}
	return true
}

func (s *Session) leave() {
	s.gate.RUnlock()
}

// Send applies readings to the server model and returns the number of
// datapoints applied. Unknown identifiers and unconvertible values are logged
// and skipped.
func (s *Session) Send(readings []*Reading) uint32 {
	if !s.enter() {
		return 0
	}
	defer s.leave()

	s.mu.Lock()
	exchange := s.exchange
	configured := s.configured
	s.mu.Unlock()
	if !configured {
		s.log.Warn("send on unconfigured session", slog.Any("error", ErrNotConfigured))
		return 0
	}

	var applied uint32
	for _, r := range readings {
		if r == nil {
			continue
		}
		measurements, errs := r.Measurements()
		for _, err := range errs {
			s.log.Warn("reading skipped", slog.Any("error", err))
		}
		for _, m := range measurements {
			if s.apply(exchange, m) {
				applied++
			}
		}
	}
	return applied
}

func (s *Session) apply(exchange *ExchangeMap, m *Measurement) bool {
	dp, err := exchange.Resolve(m.ID)
	if err != nil {
		s.log.Warn("datapoint not in exchange map", slog.String("id", m.ID), slog.Any("error", err))
		return false
	}
	spec, _ := dp.CDC.StatusAttribute()
	value, err := ConvertValue(spec.Type, m.Value)
	if err != nil {
		s.log.Warn("datapoint value rejected", slog.String("id", dp.ID), slog.Any("error", err))
		return false
	}
	q := QUALITY_VALIDITY_GOOD
	if m.Quality != nil {
		q = *m.Quality
	}
	var ts Timestamp
	timeSynced := m.Timestamp != nil
	if timeSynced {
		ts = *m.Timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(dp, value, q, ts, timeSynced)
}

// commitLocked stores a new state and writes it to the model. The datapoint
// keeps its previous state when the model rejects the value.
func (s *Session) commitLocked(dp *Datapoint, value *MmsValue, q Quality, ts Timestamp, timeSynced bool) bool {
	prevValue, prevQuality, prevTimestamp := dp.value, dp.quality, dp.timestamp
	dp.set(value, q, ts)
	if !s.updateDatapointLocked(dp, timeSynced) {
		dp.set(prevValue, prevQuality, prevTimestamp)
		return false
	}
	return true
}

// UpdateDatapointInServer writes the datapoint's value, quality and timestamp to
// its model node. Without timeSynced the timestamp is taken from the local clock.
func (s *Session) UpdateDatapointInServer(dp *Datapoint, timeSynced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateDatapointLocked(dp, timeSynced)
}

func (s *Session) updateDatapointLocked(dp *Datapoint, timeSynced bool) bool {
	log := s.log.With(slog.String("id", dp.ID), slog.String("objref", dp.ObjRef))
	if s.server == nil || s.model == nil {
		log.Warn("no server for datapoint update", slog.Any("error", ErrNotConfigured))
		return false
	}
	if dp.node == nil {
		log.Warn("datapoint has no model node")
		return false
	}
	if dp.value == nil {
		log.Warn("datapoint has no value")
		return false
	}
	if !timeSynced || dp.timestamp.IsZero() {
		dp.timestamp = TimestampFromTime(s.now())
	}
	spec, _ := dp.CDC.StatusAttribute()

	s.server.LockDataModel()
	defer s.server.UnlockDataModel()
	if err := s.server.UpdateAttribute(dp.node, spec.Name, dp.value); err != nil {
		log.Warn("model update failed", slog.String("attr", spec.Name), slog.Any("error", err))
		return false
	}
	if s.model.HasAttribute(dp.node, "q") {
		if err := s.server.UpdateAttribute(dp.node, "q", NewQuality(dp.quality)); err != nil {
			log.Warn("model update failed", slog.String("attr", "q"), slog.Any("error", err))
		}
	}
	if s.model.HasAttribute(dp.node, "t") {
		if err := s.server.UpdateAttribute(dp.node, "t", NewUTCTime(dp.timestamp)); err != nil {
			log.Warn("model update failed", slog.String("attr", "t"), slog.Any("error", err))
		}
	}
	dp.seq++
	log.Debug("datapoint updated", slog.String("value", dp.value.String()), slog.String("q", dp.quality.String()))
	return true
}

// Stop releases the server, the model and the scheduler after in-flight
// callbacks have drained. It is idempotent and safe on an unconfigured session.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.gate.Lock()
	s.closed = true
	s.gate.Unlock()
	// A running tick may still need s.mu to leave ApplySetpoint.
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.configured = false
	s.running = false
	s.log.Info("session stopped")
}

func (s *Session) releaseLocked() {
	if s.server != nil {
		if s.server.IsRunning() {
			s.server.Stop()
		}
		s.server.Destroy()
		s.server = nil
	}
	if s.model != nil {
		s.model.Destroy()
		s.model = nil
	}
}

// RegisterControl sets the owning system's command forwarder, replacing any
// previously registered one.
func (s *Session) RegisterControl(f CommandForwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarder = f
}

// SetInterlock registers a custom interlock rule for a datapoint, replacing the
// data-class default. A nil rule restores the default.
func (s *Session) SetInterlock(id string, rule InterlockRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule == nil {
		delete(s.interlocks, id)
		return
	}
	s.interlocks[id] = rule
}

// ForwardCommand forwards a direct control action with its value.
func (s *Session) ForwardCommand(ctx context.Context, action *ControlAction, value *MmsValue, test bool, dp *Datapoint) bool {
	if !s.enter() {
		return false
	}
	defer s.leave()
	return s.forward(ctx, action, value, test, dp)
}

// ForwardSelectedCommand forwards the action recorded by the check of a
// selected object.
func (s *Session) ForwardSelectedCommand(ctx context.Context, objRef string) bool {
	if !s.enter() {
		return false
	}
	defer s.leave()
	return s.forwardSelected(ctx, objRef)
}

func (s *Session) forwardSelected(ctx context.Context, objRef string) bool {
	s.mu.Lock()
	var p *pendingAction
	if s.dispatcher != nil {
		p = s.dispatcher.pendingLocked(objRef)
	}
	if p == nil || p.state != StateChecked {
		s.mu.Unlock()
		s.log.Info("no checked action to forward", slog.String("objref", objRef))
		return false
	}
	action := p.action
	value, test := p.value, p.test
	s.mu.Unlock()

	dp, err := s.exchange.ByObjectReference(objRef)
	if err != nil {
		s.log.Warn("forward on unmapped object", slog.String("objref", objRef), slog.Any("error", err))
		return false
	}
	return s.forward(ctx, &action, value, test, dp)
}

// ObjRefFromID returns the object reference of the datapoint id.
func (s *Session) ObjRefFromID(id string) (string, error) {
	s.mu.Lock()
	exchange := s.exchange
	s.mu.Unlock()
	if exchange == nil {
		return "", ErrNotConfigured
	}
	return exchange.ObjectReferenceFor(id)
}

// ExchangeMap returns the frozen exchange map, nil before Configure.
func (s *Session) ExchangeMap() *ExchangeMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange
}

// Dispatcher returns the control callback table, nil before Configure.
func (s *Session) Dispatcher() *Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// Running reports whether the server has been started and not stopped.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
