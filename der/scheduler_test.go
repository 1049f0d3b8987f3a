package der

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/marrasen/iec61850-gateway"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type setpoint struct {
	id    string
	value any
	at    time.Time
}

type recordingSink struct {
	mu   sync.Mutex
	fail map[string]error
	got  []setpoint
}

func (r *recordingSink) ApplySetpoint(ctx context.Context, id string, value any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[id]; err != nil {
		return err
	}
	r.got = append(r.got, setpoint{id, value, at})
	return nil
}

func (r *recordingSink) Setpoints() []setpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]setpoint(nil), r.got...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testConfig() *gateway.SchedulerConfig {
	return &gateway.SchedulerConfig{
		Enabled:    true,
		Resolution: "10ms",
		Schedules: []gateway.ScheduleConfig{
			{Name: "base", Target: "sp1", Priority: 5, Enabled: true, Start: "2026-03-01T12:00:00Z",
				Interval: "1h", Values: []any{10, 20}, Cyclic: true},
			{Name: "peak", Target: "sp1", Priority: 1, Enabled: true, Start: "2026-03-01T13:00:00Z",
				Interval: "15m", Values: []any{50, 60}},
			{Name: "mode", Target: "str1", Priority: 1, Enabled: true, Start: "2026-03-01T12:30:00Z",
				Interval: "1h", Values: []any{"eco"}},
			{Name: "off", Target: "sp1", Priority: 0, Enabled: false, Interval: "1s", Values: []any{0}},
		},
	}
}

func TestNewSchedules(t *testing.T) {
	schedules, err := NewSchedules(testConfig(), t0)
	require.NoError(t, err)
	require.Len(t, schedules, 3, "disabled schedule skipped")
	assert.Equal(t, "peak", schedules[0].Name)
	assert.Equal(t, "mode", schedules[1].Name, "equal priority keeps config order")
	assert.Equal(t, "base", schedules[2].Name)

	assert.True(t, schedules[2].End().IsZero(), "cyclic")
	assert.Equal(t, t0.Add(90*time.Minute), schedules[0].End())

	cfg := &gateway.SchedulerConfig{Schedules: []gateway.ScheduleConfig{
		{Name: "a", Target: "x", Enabled: true, Interval: "never", Values: []any{1}},
	}}
	_, err = NewSchedules(cfg, t0)
	assert.Error(t, err)

	cfg.Schedules[0].Interval = "1s"
	cfg.Schedules[0].Values = nil
	_, err = NewSchedules(cfg, t0)
	assert.Error(t, err)
}

func TestScheduleAt(t *testing.T) {
	s := &Schedule{Name: "s", Target: "x", Start: t0, Interval: time.Minute, Values: []any{1, 2, 3}}

	_, ok := s.At(t0.Add(-time.Second))
	assert.False(t, ok, "before start")

	slot, ok := s.At(t0)
	require.True(t, ok)
	assert.Equal(t, 1, slot.Value)
	assert.Equal(t, t0, slot.Since)

	slot, ok = s.At(t0.Add(2*time.Minute + 59*time.Second))
	require.True(t, ok)
	assert.Equal(t, 3, slot.Value)
	assert.Equal(t, 2, slot.Index)
	assert.Equal(t, t0.Add(2*time.Minute), slot.Since)

	_, ok = s.At(t0.Add(3 * time.Minute))
	assert.False(t, ok, "after the last value")

	s.Cyclic = true
	slot, ok = s.At(t0.Add(4*time.Minute + time.Second))
	require.True(t, ok)
	assert.Equal(t, 2, slot.Value)
	assert.Equal(t, t0.Add(4*time.Minute), slot.Since)
}

func TestResolvePriority(t *testing.T) {
	schedules, err := NewSchedules(testConfig(), t0)
	require.NoError(t, err)

	got := Resolve(schedules, t0.Add(10*time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, "base", got["sp1"].Schedule)
	assert.Equal(t, 10, got["sp1"].Value)

	got = Resolve(schedules, t0.Add(70*time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, "peak", got["sp1"].Schedule, "lower priority number wins")
	assert.Equal(t, 50, got["sp1"].Value)
	assert.Equal(t, "eco", got["str1"].Value)

	got = Resolve(schedules, t0.Add(95*time.Minute))
	assert.Equal(t, "base", got["sp1"].Schedule, "back to base after peak ends")
	assert.Equal(t, 20, got["sp1"].Value)
	_, ok := got["str1"]
	assert.False(t, ok)
}

func TestSchedulerTick(t *testing.T) {
	c := &clock{now: t0}
	s := New(WithClock(c.Now))
	sink := &recordingSink{}
	require.NoError(t, s.Configure(testConfig(), sink))

	assert.Equal(t, 1, s.Tick(context.Background()))
	assert.Equal(t, 0, s.Tick(context.Background()), "same slot is not applied twice")

	c.Set(t0.Add(31 * time.Minute))
	assert.Equal(t, 1, s.Tick(context.Background()), "mode becomes active")

	c.Set(t0.Add(61 * time.Minute))
	assert.Equal(t, 1, s.Tick(context.Background()), "peak takes over sp1")

	c.Set(t0.Add(62 * time.Minute))
	assert.Equal(t, 0, s.Tick(context.Background()))

	got := sink.Setpoints()
	require.Len(t, got, 3)
	assert.Equal(t, setpoint{"sp1", 10, t0}, got[0])
	assert.Equal(t, setpoint{"str1", "eco", t0.Add(30 * time.Minute)}, got[1])
	assert.Equal(t, setpoint{"sp1", 50, t0.Add(time.Hour)}, got[2], "time of the slot, not of the tick")

	slot, ok := s.Applied("sp1")
	require.True(t, ok)
	assert.Equal(t, "peak", slot.Schedule)
}

func TestSchedulerTickRetriesFailures(t *testing.T) {
	c := &clock{now: t0}
	s := New(WithClock(c.Now))
	sink := &recordingSink{fail: map[string]error{"sp1": errors.New("denied")}}
	require.NoError(t, s.Configure(testConfig(), sink))

	assert.Equal(t, 0, s.Tick(context.Background()))
	_, ok := s.Applied("sp1")
	assert.False(t, ok)

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()
	assert.Equal(t, 1, s.Tick(context.Background()))
}

func TestSchedulerStartStop(t *testing.T) {
	c := &clock{now: t0}
	s := New(WithClock(c.Now))
	sink := &recordingSink{}

	assert.ErrorIs(t, s.Start(context.Background()), ErrNotConfigured)
	require.NoError(t, s.Configure(testConfig(), sink))
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.ErrorIs(t, s.Configure(testConfig(), sink), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return len(sink.Setpoints()) == 1 }, time.Second, time.Millisecond)
	c.Set(t0.Add(61 * time.Minute))
	require.Eventually(t, func() bool { return len(sink.Setpoints()) == 3 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	c.Set(t0.Add(80 * time.Minute))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.Setpoints(), 3, "no ticks after Stop")
}

func TestSchedulerStopsWithContext(t *testing.T) {
	s := New()
	require.NoError(t, s.Configure(&gateway.SchedulerConfig{Resolution: "5ms"}, &recordingSink{}))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
	require.NoError(t, s.Start(context.Background()), "restart after stop")
	s.Stop()
}

func TestConfigureRequiresSink(t *testing.T) {
	assert.Error(t, New().Configure(testConfig(), nil))
	assert.Error(t, New().Configure(nil, &recordingSink{}))
}
