package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/validator.v2"
)

const (
	DefaultPort           = 102
	DefaultControlTimeout = 5 * time.Second
	DefaultEdition        = 2
	protocolName          = "iec61850"
)

// StackConfig is the "protocol_stack" document.
type StackConfig struct {
	Name             string           `json:"name" validate:"nonzero"`
	Version          string           `json:"version"`
	TransportLayer   TransportLayer   `json:"transport_layer"`
	ApplicationLayer ApplicationLayer `json:"application_layer"`
}

type TransportLayer struct {
	SrvIP string `json:"srv_ip"`
	Port  int    `json:"port" validate:"min=0,max=65535"`
	TLS   bool   `json:"tls"`
}

type ApplicationLayer struct {
	ModelPath        string   `json:"model_path"`
	Edition          int      `json:"edition" validate:"min=0,max=3"`
	MaxConnections   int      `json:"max_connections" validate:"min=0"`
	ReportBufferSize int      `json:"report_buffer_size" validate:"min=0"`
	ControlTimeoutMs int      `json:"control_timeout" validate:"min=0"`
	WriteAccess      []string `json:"write_access"`
	Vendor           string   `json:"vendor"`
	Model            string   `json:"model"`
	Revision         string   `json:"revision"`
}

// ControlTimeout returns the bounded wait for the owning system.
func (a ApplicationLayer) ControlTimeout() time.Duration {
	if a.ControlTimeoutMs <= 0 {
		return DefaultControlTimeout
	}
	return time.Duration(a.ControlTimeoutMs) * time.Millisecond
}

// WriteAccessFCs returns the functional constraints clients may write to.
func (a ApplicationLayer) WriteAccessFCs() ([]FC, error) {
	if len(a.WriteAccess) == 0 {
		return []FC{DC, SP}, nil
	}
	out := make([]FC, 0, len(a.WriteAccess))
	for _, s := range a.WriteAccess {
		fc := FunctionalConstraintFromString(s)
		if fc == NONE {
			return nil, fmt.Errorf("unknown functional constraint %q", s)
		}
		out = append(out, fc)
	}
	return out, nil
}

func (c *StackConfig) serverConfig() *ServerConfig {
	app := c.ApplicationLayer
	cfg := &ServerConfig{
		Edition:          app.Edition,
		MaxConnections:   app.MaxConnections,
		ReportBufferSize: app.ReportBufferSize,
		Vendor:           app.Vendor,
		Model:            app.Model,
		Revision:         app.Revision,
	}
	if cfg.Edition == 0 {
		cfg.Edition = DefaultEdition
	}
	return cfg
}

// ParseStackConfig decodes and validates a "protocol_stack" document.
func ParseStackConfig(doc string) (*StackConfig, error) {
	var wrapper struct {
		ProtocolStack *StackConfig `json:"protocol_stack"`
	}
	if err := json.Unmarshal([]byte(doc), &wrapper); err != nil {
		return nil, fmt.Errorf("parse protocol_stack: %w", err)
	}
	if wrapper.ProtocolStack == nil {
		return nil, fmt.Errorf("protocol_stack: %w", ErrNotFound)
	}
	cfg := wrapper.ProtocolStack
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate protocol_stack: %w", err)
	}
	if cfg.TransportLayer.Port == 0 {
		cfg.TransportLayer.Port = DefaultPort
	}
	if _, err := cfg.ApplicationLayer.WriteAccessFCs(); err != nil {
		return nil, fmt.Errorf("validate protocol_stack: %w", err)
	}
	return cfg, nil
}

// ExchangeConfig is the "exchanged_data" document.
type ExchangeConfig struct {
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Datapoints []ExchangeDatapoint `json:"datapoints"`
}

type ExchangeDatapoint struct {
	Label     string             `json:"label"`
	PivotID   string             `json:"pivot_id" validate:"nonzero"`
	PivotType string             `json:"pivot_type"`
	Protocols []ExchangeProtocol `json:"protocols"`
}

type ExchangeProtocol struct {
	Name     string `json:"name" validate:"nonzero"`
	ObjRef   string `json:"objref"`
	CDC      string `json:"cdc"`
	Writable bool   `json:"writable"`
	Min      any    `json:"min"`
	Max      any    `json:"max"`
}

// ParseExchangeConfig decodes and validates an "exchanged_data" document.
func ParseExchangeConfig(doc string) (*ExchangeConfig, error) {
	var wrapper struct {
		ExchangedData *ExchangeConfig `json:"exchanged_data"`
	}
	if err := json.Unmarshal([]byte(doc), &wrapper); err != nil {
		return nil, fmt.Errorf("parse exchanged_data: %w", err)
	}
	if wrapper.ExchangedData == nil {
		return nil, fmt.Errorf("exchanged_data: %w", ErrNotFound)
	}
	cfg := wrapper.ExchangedData
	for i := range cfg.Datapoints {
		if err := validator.Validate(cfg.Datapoints[i]); err != nil {
			return nil, fmt.Errorf("validate exchanged_data datapoint %d: %w", i, err)
		}
	}
	return cfg, nil
}

// iec61850Protocol returns the protocol entry for this gateway, if any.
func (d ExchangeDatapoint) iec61850Protocol() (ExchangeProtocol, bool) {
	for _, p := range d.Protocols {
		if strings.EqualFold(p.Name, protocolName) {
			return p, true
		}
	}
	return ExchangeProtocol{}, false
}

// TLSConfig is the "tls_conf" document. File names are relative to the
// session's certificate directory unless absolute.
type TLSConfig struct {
	PrivateKey  string        `json:"private_key" validate:"nonzero"`
	OwnCert     string        `json:"own_cert" validate:"nonzero"`
	CACerts     []TLSCertFile `json:"ca_certs"`
	RemoteCerts []TLSCertFile `json:"remote_certs"`
}

type TLSCertFile struct {
	CertFile string `json:"cert_file" validate:"nonzero"`
}

// ParseTLSConfig decodes and validates a "tls_conf" document.
func ParseTLSConfig(doc string) (*TLSConfig, error) {
	var wrapper struct {
		TLSConf *TLSConfig `json:"tls_conf"`
	}
	if err := json.Unmarshal([]byte(doc), &wrapper); err != nil {
		return nil, fmt.Errorf("parse tls_conf: %w", err)
	}
	if wrapper.TLSConf == nil {
		return nil, fmt.Errorf("tls_conf: %w", ErrNotFound)
	}
	cfg := wrapper.TLSConf
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate tls_conf: %w", err)
	}
	for _, certs := range [][]TLSCertFile{cfg.CACerts, cfg.RemoteCerts} {
		for i := range certs {
			if err := validator.Validate(certs[i]); err != nil {
				return nil, fmt.Errorf("validate tls_conf certificate %d: %w", i, err)
			}
		}
	}
	return cfg, nil
}

// SchedulerConfig is the "scheduler_conf" document.
type SchedulerConfig struct {
	Enabled    bool             `json:"enabled"`
	Resolution string           `json:"resolution"`
	Schedules  []ScheduleConfig `json:"schedules"`
}

type ScheduleConfig struct {
	Name     string `json:"name" validate:"nonzero"`
	Target   string `json:"target" validate:"nonzero"`
	Priority int    `json:"priority" validate:"min=0"`
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	Interval string `json:"interval" validate:"nonzero"`
	Values   []any  `json:"values"`
	Cyclic   bool   `json:"cyclic"`
}

// StartTime returns the configured start time; "" and "now" mean now.
func (s ScheduleConfig) StartTime(now time.Time) (time.Time, error) {
	if s.Start == "" || strings.EqualFold(s.Start, "now") {
		return now, nil
	}
	return time.Parse(time.RFC3339, s.Start)
}

// IntervalDuration parses Interval ("15m", "900s" or plain seconds).
func (s ScheduleConfig) IntervalDuration() (time.Duration, error) {
	var d time.Duration
	if secs, err := cast.ToFloat64E(s.Interval); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = cast.ToDurationE(s.Interval); err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", s.Interval)
	}
	return d, nil
}

// ResolutionDuration returns the scheduler tick, one second by default.
func (c *SchedulerConfig) ResolutionDuration() time.Duration {
	if c.Resolution == "" {
		return time.Second
	}
	d, err := cast.ToDurationE(c.Resolution)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ParseSchedulerConfig decodes and validates a "scheduler_conf" document.
func ParseSchedulerConfig(doc string) (*SchedulerConfig, error) {
	var wrapper struct {
		SchedulerConf *SchedulerConfig `json:"scheduler_conf"`
	}
	if err := json.Unmarshal([]byte(doc), &wrapper); err != nil {
		return nil, fmt.Errorf("parse scheduler_conf: %w", err)
	}
	if wrapper.SchedulerConf == nil {
		return nil, fmt.Errorf("scheduler_conf: %w", ErrNotFound)
	}
	cfg := wrapper.SchedulerConf
	for i := range cfg.Schedules {
		s := cfg.Schedules[i]
		if err := validator.Validate(s); err != nil {
			return nil, fmt.Errorf("validate schedule %d: %w", i, err)
		}
		if _, err := s.IntervalDuration(); err != nil {
			return nil, fmt.Errorf("validate schedule %q: %w", s.Name, err)
		}
		if _, err := s.StartTime(time.Now()); err != nil {
			return nil, fmt.Errorf("validate schedule %q start: %w", s.Name, err)
		}
		if len(s.Values) == 0 {
			return nil, fmt.Errorf("validate schedule %q: no values", s.Name)
		}
	}
	return cfg, nil
}

// ConfigCategory is the hierarchical configuration object handed to Configure.
type ConfigCategory interface {
	ItemExists(name string) bool
	Value(name string) string
}

// Configuration item names read by Configure.
const (
	ItemProtocolStack = "protocol_stack"
	ItemExchangedData = "exchanged_data"
	ItemTLSConf       = "tls_conf"
	ItemSchedulerConf = "scheduler_conf"
	ItemModelPath     = "modelPath"
)

// MapCategory is a ConfigCategory backed by a map.
type MapCategory map[string]string

func (m MapCategory) ItemExists(name string) bool {
	_, ok := m[name]
	return ok
}

func (m MapCategory) Value(name string) string {
	return m[name]
}
