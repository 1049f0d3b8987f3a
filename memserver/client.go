package memserver

import (
	"errors"
	"fmt"

	gateway "github.com/marrasen/iec61850-gateway"
)

var ErrNotControllable = errors.New("object not controllable")

// ControlError is returned when a handler denies a select or an operate.
type ControlError struct {
	Ref    string
	Phase  gateway.ControlPhase
	Check  gateway.CheckHandlerResult
	Result gateway.ControlHandlerResult
}

func (e *ControlError) Error() string {
	if !e.Check.Accepted() {
		return fmt.Sprintf("%s %s denied: check result %d", e.Phase, e.Ref, e.Check)
	}
	return fmt.Sprintf("%s %s failed: control result %d", e.Phase, e.Ref, e.Result)
}

// WriteError is returned when a write is refused.
type WriteError struct {
	Ref  string
	Code gateway.MmsDataAccessError
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s refused: data access error %d", e.Ref, e.Code)
}

// ControlParams are the optional parameters of a select with value or an operate.
type ControlParams struct {
	Test           bool
	InterlockCheck bool
	// ControlTime is the T parameter of the request; zero lets the handler decide.
	ControlTime gateway.Timestamp
	OrCat       int
	OrIdent     string
}

// Client issues services against a Server in process. Origin identifies the
// client to the handlers the way a peer address does for a networked client.
// Selection state is kept by the control handlers, not by the client.
type Client struct {
	server *Server
	origin string
	ctlNum uint8
}

func NewClient(s *Server, origin string) *Client {
	return &Client{server: s, origin: origin}
}

func (c *Client) Origin() string {
	return c.origin
}

// Read returns the value of the attribute with full or relative reference ref.
func (c *Client) Read(ref string) (*gateway.MmsValue, error) {
	a, err := c.attribute(ref)
	if err != nil {
		return nil, err
	}
	return c.server.model.Value(a.ref)
}

// Select reserves an SBO object without a value.
func (c *Client) Select(ref string) error {
	return c.selectObject(ref, nil, ControlParams{})
}

// SelectWithValue reserves an SBO object, letting the handler check the value.
func (c *Client) SelectWithValue(ref string, value *gateway.MmsValue, params ControlParams) error {
	return c.selectObject(ref, value, params)
}

func (c *Client) selectObject(ref string, value *gateway.MmsValue, params ControlParams) error {
	n, cb, err := c.controllable(ref)
	if err != nil {
		return err
	}
	if value != nil {
		if value, err = controlValue(n, value); err != nil {
			return &ControlError{Ref: n.ref, Phase: gateway.PHASE_SELECT, Check: gateway.CONTROL_VALUE_INVALID}
		}
	}
	action := c.action(n, gateway.PHASE_SELECT, params)
	if res := cb.CheckHandler(action, value, params.Test, params.InterlockCheck); !res.Accepted() {
		return &ControlError{Ref: n.ref, Phase: gateway.PHASE_SELECT, Check: res}
	}
	return nil
}

// Operate runs the check and then the control handler of the object. For SBO
// objects the handlers decide whether a preceding Select is required.
func (c *Client) Operate(ref string, value *gateway.MmsValue, params ControlParams) error {
	n, cb, err := c.controllable(ref)
	if err != nil {
		return err
	}
	if value, err = controlValue(n, value); err != nil {
		return &ControlError{Ref: n.ref, Phase: gateway.PHASE_OPERATE, Check: gateway.CONTROL_VALUE_INVALID}
	}
	action := c.action(n, gateway.PHASE_OPERATE, params)
	if res := cb.CheckHandler(action, value, params.Test, params.InterlockCheck); !res.Accepted() {
		return &ControlError{Ref: n.ref, Phase: gateway.PHASE_OPERATE, Check: res}
	}
	if res := cb.ControlHandler(action, value, params.Test); res != gateway.CONTROL_RESULT_OK {
		return &ControlError{Ref: n.ref, Phase: gateway.PHASE_OPERATE, Check: gateway.CONTROL_ACCEPTED, Result: res}
	}
	return nil
}

// Write sets a basic attribute through the write access handlers.
func (c *Client) Write(ref string, value *gateway.MmsValue) error {
	a, err := c.attribute(ref)
	if err != nil {
		return err
	}
	switch a.FC {
	case gateway.ST, gateway.MX, gateway.CO:
		return &WriteError{Ref: a.ref, Code: gateway.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED}
	}
	v, err := a.Type.convert(value)
	if err != nil {
		return &WriteError{Ref: a.ref, Code: gateway.DATA_ACCESS_ERROR_TYPE_INCONSISTENT}
	}
	if !c.server.IsRunning() {
		return &WriteError{Ref: a.ref, Code: gateway.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE}
	}
	// An installed handler decides; otherwise the policy of the FC does.
	cb, policy, ok := c.server.writeHandler(a, a.FC)
	if ok {
		switch res := cb.WriteAccessHandler(a.ref, v, c.origin); res {
		case gateway.DATA_ACCESS_ERROR_SUCCESS:
		case gateway.DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE:
			return nil
		default:
			return &WriteError{Ref: a.ref, Code: res}
		}
	} else if policy != gateway.ACCESS_POLICY_ALLOW {
		return &WriteError{Ref: a.ref, Code: gateway.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED}
	}
	c.server.LockDataModel()
	defer c.server.UnlockDataModel()
	return c.server.model.setLocked(a, v)
}

func (c *Client) action(n *Node, phase gateway.ControlPhase, params ControlParams) *gateway.ControlAction {
	c.ctlNum++
	a := gateway.NewControlAction(n, phase, c.origin)
	a.ControlTime = params.ControlTime
	a.OrCat = params.OrCat
	a.OrIdent = params.OrIdent
	a.CtlNum = c.ctlNum
	return a
}

func (c *Client) controllable(ref string) (*Node, gateway.ControlCallback, error) {
	n, err := c.server.model.resolveNode(ref)
	if err != nil {
		return nil, nil, err
	}
	if c.server.model.ControlModel(n) == gateway.CONTROL_MODEL_STATUS_ONLY {
		return nil, nil, fmt.Errorf("%s: %w", n.ref, ErrNotControllable)
	}
	cb, ok := c.server.controlHandler(n)
	if !ok {
		return nil, nil, fmt.Errorf("%s: no control handler or server not running: %w", n.ref, ErrNotControllable)
	}
	return n, cb, nil
}

func (c *Client) attribute(ref string) (*Node, error) {
	m := c.server.model
	if a, ok := m.byRef[ref]; ok && a.Kind == KindDataAttribute {
		return a, nil
	}
	for _, ld := range m.LDs {
		if a, ok := m.byRef[ld.ref+"/"+ref]; ok && a.Kind == KindDataAttribute {
			return a, nil
		}
	}
	return nil, fmt.Errorf("attribute %q: %w", ref, gateway.ErrNotFound)
}

// controlValue checks value against the type of Oper.ctlVal.
func controlValue(n *Node, value *gateway.MmsValue) (*gateway.MmsValue, error) {
	if value == nil {
		return nil, fmt.Errorf("%s: no control value", n.ref)
	}
	oper := n.Child("Oper")
	if oper == nil {
		return nil, fmt.Errorf("%s: no Oper structure", n.ref)
	}
	ctlVal := oper.Child("ctlVal")
	if ctlVal == nil {
		return nil, fmt.Errorf("%s: no Oper.ctlVal", n.ref)
	}
	if ctlVal.Type == TYPE_CONSTRUCTED {
		if f := ctlVal.Child("f"); f != nil {
			ctlVal = f
		} else if i := ctlVal.Child("i"); i != nil {
			ctlVal = i
		} else {
			return nil, fmt.Errorf("%s: unsupported ctlVal structure", n.ref)
		}
	}
	return ctlVal.Type.convert(value)
}
