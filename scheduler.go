package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SchedulerOrigin is the control origin of setpoints applied by the scheduler.
const SchedulerOrigin = "scheduler"

// Scheduler executes scheduler_conf. Each value it emits is handed to the sink,
// which runs it through the same control path as a client operate.
type Scheduler interface {
	Configure(cfg *SchedulerConfig, sink SetpointSink) error
	// Start begins execution. It returns immediately; execution ends when ctx
	// is done or Stop is called.
	Start(ctx context.Context) error
	Stop()
}

// SetpointSink receives scheduled values for a datapoint identifier.
type SetpointSink interface {
	ApplySetpoint(ctx context.Context, id string, value any, at time.Time) error
}

// ApplySetpoint applies a scheduled value to the datapoint id through the
// control dispatcher: select first when the object's control model requires
// it, then check with interlock, then operate.
func (s *Session) ApplySetpoint(ctx context.Context, id string, value any, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	exchange, model, d := s.exchange, s.model, s.dispatcher
	s.mu.Unlock()
	if exchange == nil || model == nil || d == nil {
		return ErrNotConfigured
	}

	dp, err := exchange.Resolve(id)
	if err != nil {
		return err
	}
	spec, ok := dp.CDC.ControlAttribute()
	if !ok {
		return fmt.Errorf("setpoint %q: %s: %w", id, dp.CDC, ErrUnsupportedType)
	}
	ctlVal, err := ConvertValue(spec.Type, value)
	if err != nil {
		return fmt.Errorf("setpoint %q: %w", id, err)
	}
	ts := TimestampFromTime(at)
	log := s.log.With(slog.String("id", id), slog.String("origin", SchedulerOrigin))

	if model.ControlModel(dp.node).RequiresSelect() {
		sel := NewControlAction(dp.node, PHASE_SELECT, SchedulerOrigin)
		sel.ControlTime = ts
		if res := d.CheckHandler(sel, ctlVal, false, false); !res.Accepted() {
			return fmt.Errorf("setpoint %q select: check result %d: %w", id, res, ErrForwardRejected)
		}
	}
	op := NewControlAction(dp.node, PHASE_OPERATE, SchedulerOrigin)
	op.ControlTime = ts
	if res := d.CheckHandler(op, ctlVal, false, true); !res.Accepted() {
		return fmt.Errorf("setpoint %q operate: check result %d: %w", id, res, ErrForwardRejected)
	}
	if res := d.ControlHandler(op, ctlVal, false); res != CONTROL_RESULT_OK {
		return fmt.Errorf("setpoint %q operate: %w", id, ErrForwardRejected)
	}
	log.Debug("setpoint applied", slog.String("value", ctlVal.String()), slog.Time("at", at))
	return nil
}
