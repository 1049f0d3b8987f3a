package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSelectTimeout is how long a selection is held without an operate.
const DefaultSelectTimeout = 30 * time.Second

// ActionState is the state of the pending action of one control object.
type ActionState int

const (
	StateIdle ActionState = iota
	StateSelected
	StateChecked
	StateOperated
)

func (s ActionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateChecked:
		return "checked"
	case StateOperated:
		return "operated"
	default:
		return "unknown"
	}
}

type pendingAction struct {
	action      ControlAction
	id          uuid.UUID
	origin      string
	state       ActionState
	value       *MmsValue
	test        bool
	phase       ControlPhase
	controlTime Timestamp
	since       time.Time
}

// Dispatcher implements ControlCallback for a session: it runs the
// select/check/operate protocol per control object and forwards accepted
// operations to the owning system.
type Dispatcher struct {
	s *Session

	// pending is guarded by s.mu
	pending map[string]*pendingAction
}

func newDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{s: s, pending: make(map[string]*pendingAction)}
}

// State returns the state of the pending action of a control object.
func (d *Dispatcher) State(objRef string) ActionState {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if p := d.pendingLocked(objRef); p != nil {
		return p.state
	}
	return StateIdle
}

// pendingLocked returns the pending action of objRef, dropping expired selections.
func (d *Dispatcher) pendingLocked(objRef string) *pendingAction {
	p, ok := d.pending[objRef]
	if !ok {
		return nil
	}
	if p.state == StateSelected && d.s.now().Sub(p.since) > d.s.selectTimeout {
		delete(d.pending, objRef)
		return nil
	}
	return p
}

// abortLocked returns the object to idle unless another origin holds it.
func (d *Dispatcher) abortLocked(objRef, origin string) {
	if p, ok := d.pending[objRef]; ok && p.origin == origin {
		delete(d.pending, objRef)
	}
}

func (d *Dispatcher) logger(action *ControlAction) *slog.Logger {
	return d.s.log.With(
		slog.String("objref", action.ObjRef),
		slog.String("phase", action.Phase.String()),
		slog.String("origin", action.Origin),
		slog.String("action", action.ID.String()),
	)
}

// CheckHandler validates a select or an operate request. It records the
// protocol state of the object but never changes the datapoint.
func (d *Dispatcher) CheckHandler(action *ControlAction, value *MmsValue, test bool, interlockCheck bool) CheckHandlerResult {
	if !d.s.enter() {
		return CONTROL_TEMPORARILY_UNAVAILABLE
	}
	defer d.s.leave()

	if action.ControlTime.IsZero() {
		action.ControlTime = TimestampFromTime(d.s.now())
	}
	log := d.logger(action)

	dp, err := d.s.exchange.ByObjectReference(action.ObjRef)
	if err != nil {
		log.Warn("control on unmapped object", slog.Any("error", err))
		return CONTROL_OBJECT_UNDEFINED
	}
	if !dp.CDC.IsControllable() {
		log.Info("control denied: not controllable", slog.String("id", dp.ID), slog.String("cdc", dp.CDC.String()))
		return CONTROL_OBJECT_ACCESS_DENIED
	}
	sbo := d.s.model.ControlModel(action.Node).RequiresSelect()

	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	p := d.pendingLocked(action.ObjRef)
	if p != nil && p.origin != action.Origin && p.state != StateIdle {
		log.Info("control denied: selected by another client", slog.String("id", dp.ID), slog.String("holder", p.origin))
		return CONTROL_OBJECT_ACCESS_DENIED
	}

	if action.Phase.IsSelect() {
		if !sbo {
			log.Info("control denied: select on direct control object", slog.String("id", dp.ID))
			return CONTROL_OBJECT_ACCESS_DENIED
		}
		if value != nil {
			if res := d.validateLocked(log, dp, value, interlockCheck); !res.Accepted() {
				d.abortLocked(action.ObjRef, action.Origin)
				return res
			}
		}
		d.pending[action.ObjRef] = &pendingAction{
			id:     action.ID,
			origin: action.Origin,
			state:  StateSelected,
			phase:  action.Phase,
			since:  d.s.now(),
		}
		log.Debug("selected", slog.String("id", dp.ID))
		return CONTROL_ACCEPTED
	}

	if sbo && (p == nil || p.state != StateSelected) {
		log.Info("control denied: operate without select", slog.String("id", dp.ID))
		d.abortLocked(action.ObjRef, action.Origin)
		return CONTROL_OBJECT_ACCESS_DENIED
	}
	if res := d.validateLocked(log, dp, value, interlockCheck); !res.Accepted() {
		d.abortLocked(action.ObjRef, action.Origin)
		return res
	}
	d.pending[action.ObjRef] = &pendingAction{
		action:      *action,
		id:          action.ID,
		origin:      action.Origin,
		state:       StateChecked,
		value:       value,
		test:        test,
		phase:       action.Phase,
		controlTime: action.ControlTime,
		since:       d.s.now(),
	}
	log.Debug("checked", slog.String("id", dp.ID))
	return CONTROL_ACCEPTED
}

func (d *Dispatcher) validateLocked(log *slog.Logger, dp *Datapoint, value *MmsValue, interlockCheck bool) CheckHandlerResult {
	if value == nil {
		log.Info("control denied: no value", slog.String("id", dp.ID))
		return CONTROL_VALUE_INVALID
	}
	if _, err := pivotControlValue(dp.CDC, value); err != nil {
		log.Info("control denied: invalid value", slog.String("id", dp.ID), slog.Any("error", err))
		return CONTROL_VALUE_INVALID
	}
	if !interlockCheck {
		return CONTROL_ACCEPTED
	}
	rule := DefaultInterlock
	if r, ok := d.s.interlocks[dp.ID]; ok {
		rule = r
	}
	if err := rule(dp, value); err != nil {
		log.Info("control denied: interlock", slog.String("id", dp.ID), slog.Any("error", err))
		return CONTROL_OBJECT_ACCESS_DENIED
	}
	return CONTROL_ACCEPTED
}

// ControlHandler executes an operate request. The request must have passed
// CheckHandler for the same origin. On success the server model is updated with
// the commanded state; on failure the datapoint is left unchanged.
func (d *Dispatcher) ControlHandler(action *ControlAction, value *MmsValue, test bool) ControlHandlerResult {
	if !d.s.enter() {
		return CONTROL_RESULT_FAILED
	}
	defer d.s.leave()

	log := d.logger(action)
	dp, err := d.s.exchange.ByObjectReference(action.ObjRef)
	if err != nil {
		log.Warn("operate on unmapped object", slog.Any("error", err))
		return CONTROL_RESULT_FAILED
	}

	d.s.mu.Lock()
	p := d.pendingLocked(action.ObjRef)
	if p == nil || p.state != StateChecked || p.origin != action.Origin {
		d.abortLocked(action.ObjRef, action.Origin)
		d.s.mu.Unlock()
		log.Info("operate denied: not checked", slog.String("id", dp.ID))
		return CONTROL_RESULT_FAILED
	}
	if (value != nil && p.value != nil && !value.Equal(p.value)) || p.test != test {
		d.abortLocked(action.ObjRef, action.Origin)
		d.s.mu.Unlock()
		log.Info("operate denied: request differs from checked request", slog.String("id", dp.ID))
		return CONTROL_RESULT_FAILED
	}
	if action.ControlTime.IsZero() {
		action.ControlTime = p.controlTime
	}
	d.s.mu.Unlock()

	var ok bool
	if d.s.model.ControlModel(action.Node).RequiresSelect() {
		ok = d.s.forwardSelected(d.s.ctx, action.ObjRef)
	} else {
		ok = d.s.forward(d.s.ctx, action, value, test, dp)
	}
	if !ok {
		return CONTROL_RESULT_FAILED
	}
	return CONTROL_RESULT_OK
}

// WriteAccessHandler allows direct writes only to datapoints marked writable.
// A write to the status attribute is applied here and reported as
// DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE; other attributes are left to the server.
func (d *Dispatcher) WriteAccessHandler(ref string, value *MmsValue, origin string) MmsDataAccessError {
	if !d.s.enter() {
		return DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
	}
	defer d.s.leave()

	log := d.s.log.With(slog.String("objref", ref), slog.String("origin", origin))
	dp := d.s.datapointForAttribute(ref)
	if dp == nil {
		log.Info("write denied: unmapped attribute")
		return DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}
	if !dp.Writable {
		log.Info("write denied: not writable", slog.String("id", dp.ID))
		return DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}
	if ref == dp.StatusRef() {
		spec, _ := dp.CDC.StatusAttribute()
		v, err := ConvertValue(spec.Type, value.Interface())
		if err != nil {
			log.Info("write denied: invalid value", slog.String("id", dp.ID), slog.Any("error", err))
			return DATA_ACCESS_ERROR_TYPE_INCONSISTENT
		}
		// The status write goes through the datapoint so q and t follow it.
		d.s.mu.Lock()
		defer d.s.mu.Unlock()
		if !d.s.commitLocked(dp, v, QUALITY_VALIDITY_GOOD, TimestampFromTime(d.s.now()), true) {
			log.Warn("write failed", slog.String("id", dp.ID))
			return DATA_ACCESS_ERROR_HARDWARE_FAULT
		}
		log.Debug("write applied", slog.String("id", dp.ID))
		return DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE
	}
	log.Debug("write accepted", slog.String("id", dp.ID))
	return DATA_ACCESS_ERROR_SUCCESS
}

// datapointForAttribute finds the datapoint whose data object contains ref.
func (s *Session) datapointForAttribute(ref string) *Datapoint {
	slash := strings.Index(ref, "/")
	for candidate := ref; ; {
		if dp, err := s.exchange.ByObjectReference(candidate); err == nil {
			return dp
		}
		i := strings.LastIndex(candidate, ".")
		if i <= slash {
			return nil
		}
		candidate = candidate[:i]
	}
}

// finish moves the pending action of objRef to its terminal state. The object
// is idle again afterwards; a new action starts a fresh instance.
func (d *Dispatcher) finishLocked(objRef string, id uuid.UUID, operated bool) {
	p, ok := d.pending[objRef]
	if !ok || p.id != id {
		return
	}
	if operated {
		p.state = StateOperated
	}
	delete(d.pending, objRef)
}

// forward builds the command document and hands it to the owning system
// with a bounded wait. It reports whether the command was accepted.
func (s *Session) forward(ctx context.Context, action *ControlAction, value *MmsValue, test bool, dp *Datapoint) bool {
	log := s.log.With(slog.String("id", dp.ID), slog.String("objref", dp.ObjRef), slog.String("action", action.ID.String()))

	cmd, err := ControlActionToPivot(action, value, test, dp)
	if err != nil {
		log.Info("control denied: no pivot mapping", slog.Any("error", err))
		s.abortAction(action)
		return false
	}

	s.mu.Lock()
	fwd := s.forwarder
	timeout := s.controlTimeout
	seq := dp.seq
	s.mu.Unlock()
	if fwd == nil {
		log.Error("control failed", slog.Any("error", ErrNoForwarder))
		s.abortAction(action)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result := make(chan CommandResult, 1)
	go func() {
		result <- fwd.ForwardCommand(ctx, cmd)
	}()

	var res CommandResult
	select {
	case res = <-result:
	case <-ctx.Done():
		log.Error("control failed", slog.Any("error", ErrForwardTimeout), slog.Duration("timeout", timeout))
		s.abortAction(action)
		return false
	}
	if res != CommandAccepted {
		log.Error("control failed", slog.Any("error", ErrForwardRejected))
		s.abortAction(action)
		return false
	}

	log.Info("control forwarded", slog.String("cot", string(cmd.CauseOfTransmission)), slog.Any("value", cmd.Value))
	s.confirmAction(action, value, test, dp, cmd.Timestamp, seq)
	return true
}

func (s *Session) abortAction(action *ControlAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher != nil {
		s.dispatcher.abortLocked(action.ObjRef, action.Origin)
	}
}

// confirmAction finishes the action and writes the commanded state to the
// model. Feedback applied while the command was forwarded is newer and is kept.
// Test commands leave the process state alone.
func (s *Session) confirmAction(action *ControlAction, value *MmsValue, test bool, dp *Datapoint, ts Timestamp, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher != nil {
		s.dispatcher.finishLocked(action.ObjRef, action.ID, true)
	}

	log := s.log.With(slog.String("id", dp.ID), slog.String("action", action.ID.String()))
	switch {
	case test:
		log.Debug("test command: model unchanged")
		return
	case dp.seq != seq:
		log.Debug("feedback received during forward: model kept")
		return
	}
	status, err := statusValueFromControl(dp.CDC, value, dp.value)
	if err != nil {
		log.Warn("no status for control value", slog.Any("error", err))
		return
	}
	if ts.Before(dp.timestamp) {
		ts = dp.timestamp
	}
	s.commitLocked(dp, status, QUALITY_VALIDITY_GOOD, ts, true)
}
