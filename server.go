package gateway

import (
	"context"

	"github.com/google/uuid"
)

// ModelNode is a backend handle to a data object of the loaded information model.
type ModelNode interface {
	// ObjectReference returns the full reference, e.g. "simpleIOGenericIO/GGIO1.SPCSO1".
	ObjectReference() string
}

// Model is a loaded information model.
type Model interface {
	// Resolve returns the single data object named by ref. A reference without
	// a logical device part must match exactly one data object of the model.
	Resolve(ref string) (ModelNode, error)
	// HasAttribute reports whether attr (relative to node, e.g. "mag.f") exists.
	HasAttribute(node ModelNode, attr string) bool
	// ControlModel returns the ctlModel of a controllable data object.
	ControlModel(node ModelNode) ControlModel
	Destroy()
}

// Server is the opaque handle of a running IEC 61850 server. Implementations
// adapt ControlCallback to the registration mechanism of the underlying stack.
type Server interface {
	// HandleControl installs cb as check and control handler of a data object.
	HandleControl(node ModelNode, cb ControlCallback) error
	// HandleWriteAccess installs cb as write access handler for all attributes
	// of node with the given functional constraint.
	HandleWriteAccess(node ModelNode, fc FC, cb ControlCallback) error
	// UpdateAttribute sets attr (relative to node) to value. Callers hold the
	// data model lock when several attributes must change together.
	UpdateAttribute(node ModelNode, attr string, value *MmsValue) error
	SetWriteAccessPolicy(fc FC, policy AccessPolicy)
	LockDataModel()
	UnlockDataModel()
	Start(addr string, port int) error
	IsRunning() bool
	Stop()
	Destroy()
}

// Backend creates models and servers. It is implemented by the libiec61850
// binding and by the in-process memserver.
type Backend interface {
	LoadModel(path string) (Model, error)
	NewServer(model Model, cfg *ServerConfig, tls *TLSConfiguration) (Server, error)
}

// ServerConfig is the subset of the stack configuration handed to the backend.
type ServerConfig struct {
	Edition          int
	MaxConnections   int
	ReportBufferSize int
	Vendor           string
	Model            string
	Revision         string
}

// ControlPhase is the step of the control protocol a callback belongs to.
type ControlPhase int

const (
	PHASE_SELECT ControlPhase = iota
	PHASE_CHECK
	PHASE_OPERATE
	PHASE_TIMED_OPERATE
)

func (p ControlPhase) String() string {
	switch p {
	case PHASE_SELECT:
		return "select"
	case PHASE_CHECK:
		return "check"
	case PHASE_OPERATE:
		return "operate"
	case PHASE_TIMED_OPERATE:
		return "timed-operate"
	default:
		return "unknown"
	}
}

// IsSelect reports whether the phase reserves the object rather than executing.
func (p ControlPhase) IsSelect() bool {
	return p == PHASE_SELECT
}

// ControlAction describes one control service invocation. It lives for the
// duration of a callback and is never stored by the server.
type ControlAction struct {
	ID     uuid.UUID
	ObjRef string
	Node   ModelNode
	Phase  ControlPhase

	// Origin identifies the requesting session, e.g. the client's peer address.
	Origin  string
	OrCat   int
	OrIdent string
	CtlNum  uint8

	// ControlTime is the time of the triggering event (the T attribute of the
	// request). The zero value means the server did not supply one.
	ControlTime Timestamp
}

// NewControlAction creates a fresh action instance.
func NewControlAction(node ModelNode, phase ControlPhase, origin string) *ControlAction {
	return &ControlAction{
		ID:     uuid.New(),
		ObjRef: node.ObjectReference(),
		Node:   node,
		Phase:  phase,
		Origin: origin,
	}
}

// ControlCallback is the server callback table of the gateway.
type ControlCallback interface {
	// CheckHandler validates a select or an operate request. It must not
	// change the datapoint.
	CheckHandler(action *ControlAction, value *MmsValue, test bool, interlockCheck bool) CheckHandlerResult
	// ControlHandler executes an operate request that passed the check.
	ControlHandler(action *ControlAction, value *MmsValue, test bool) ControlHandlerResult
	// WriteAccessHandler governs a direct write of the attribute ref.
	WriteAccessHandler(ref string, value *MmsValue, origin string) MmsDataAccessError
}

// CommandResult is the owning system's answer to a forwarded command.
type CommandResult int

const (
	CommandAccepted CommandResult = iota
	CommandRejected
)

func (r CommandResult) String() string {
	if r == CommandAccepted {
		return "accepted"
	}
	return "rejected"
}

// CommandForwarder receives Pivot command documents on behalf of the owning system.
// Implementations must return once ctx is done.
type CommandForwarder interface {
	ForwardCommand(ctx context.Context, cmd *PivotCommand) CommandResult
}

// CommandForwarderFunc adapts a function to CommandForwarder.
type CommandForwarderFunc func(ctx context.Context, cmd *PivotCommand) CommandResult

func (f CommandForwarderFunc) ForwardCommand(ctx context.Context, cmd *PivotCommand) CommandResult {
	return f(ctx, cmd)
}
