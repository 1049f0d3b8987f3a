package iec61850

/*
#include "bridge.h"

extern CheckHandlerResult checkHandlerBridge(ControlAction action, void* parameter, MmsValue* ctlVal, bool test, bool interlockCheck);
extern ControlHandlerResult controlHandlerBridge(ControlAction action, void* parameter, MmsValue* ctlVal, bool test);
extern MmsDataAccessError writeAccessHandlerBridge(DataAttribute* dataAttribute, MmsValue* value, ClientConnection connection, void* parameter);
*/
import "C"

import (
	"fmt"
	"log"
	"runtime/cgo"
	"unsafe"

	gateway "github.com/marrasen/iec61850-gateway"
)

// registration is the Go side of a callback parameter.
type registration struct {
	node *Node
	cb   gateway.ControlCallback
}

func registrationFrom(parameter unsafe.Pointer) *registration {
	if parameter == nil {
		return nil
	}
	r, _ := cgo.Handle(uintptr(parameter)).Value().(*registration)
	return r
}

func (r *registration) action(ca C.ControlAction, phase gateway.ControlPhase) *gateway.ControlAction {
	a := gateway.NewControlAction(r.node, phase, peerAddress(C.ControlAction_getClientConnection(ca)))
	a.OrCat = int(C.ControlAction_getOrCat(ca))
	var size C.int
	if ident := C.ControlAction_getOrIdent(ca, &size); ident != nil && size > 0 {
		a.OrIdent = string(C.GoBytes(unsafe.Pointer(ident), size))
	}
	a.CtlNum = uint8(C.ControlAction_getCtlNum(ca))
	if t := uint64(C.ControlAction_getControlTime(ca)); t != 0 {
		a.ControlTime = gateway.TimestampFromMillis(int64(t))
	}
	return a
}

func peerAddress(conn C.ClientConnection) string {
	if conn == nil {
		return ""
	}
	return C2GoStr(C.ClientConnection_getPeerAddress(conn))
}

//export checkHandlerBridge
func checkHandlerBridge(action C.ControlAction, parameter unsafe.Pointer, ctlVal *C.MmsValue, test C.bool, interlockCheck C.bool) C.CheckHandlerResult {
	r := registrationFrom(parameter)
	if r == nil {
		log.Printf("iec61850: check handler without registration")
		return C.CheckHandlerResult(gateway.CONTROL_OBJECT_UNDEFINED)
	}
	phase := gateway.PHASE_OPERATE
	if bool(C.ControlAction_isSelect(action)) {
		phase = gateway.PHASE_SELECT
	}
	res := r.cb.CheckHandler(r.action(action, phase), toGoValue(ctlVal), bool(test), bool(interlockCheck))
	return C.CheckHandlerResult(res)
}

//export controlHandlerBridge
func controlHandlerBridge(action C.ControlAction, parameter unsafe.Pointer, ctlVal *C.MmsValue, test C.bool) C.ControlHandlerResult {
	r := registrationFrom(parameter)
	if r == nil {
		log.Printf("iec61850: control handler without registration")
		return C.ControlHandlerResult(gateway.CONTROL_RESULT_FAILED)
	}
	res := r.cb.ControlHandler(r.action(action, gateway.PHASE_OPERATE), toGoValue(ctlVal), bool(test))
	return C.ControlHandlerResult(res)
}

//export writeAccessHandlerBridge
func writeAccessHandlerBridge(dataAttribute *C.DataAttribute, value *C.MmsValue, connection C.ClientConnection, parameter unsafe.Pointer) C.MmsDataAccessError {
	r := registrationFrom(parameter)
	if r == nil {
		log.Printf("iec61850: write access handler without registration")
		return C.MmsDataAccessError(gateway.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	ref := objectReference((*C.ModelNode)(unsafe.Pointer(dataAttribute)))
	res := r.cb.WriteAccessHandler(ref, toGoValue(value), peerAddress(connection))
	return C.MmsDataAccessError(res)
}

// HandleControl installs cb as perform check and control handler of node.
func (s *Server) HandleControl(node gateway.ModelNode, cb gateway.ControlCallback) error {
	n, err := s.model.node(node)
	if err != nil {
		return err
	}
	if !bool(C.gw_isDataObject(n.node)) {
		return fmt.Errorf("%s is not a data object", n.ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("server destroyed")
	}
	param := s.register(&registration{node: n, cb: cb})
	do := (*C.DataObject)(unsafe.Pointer(n.node))
	C.IedServer_setPerformCheckHandler(s.server, do, (*[0]byte)(C.checkHandlerBridge), param)
	C.IedServer_setControlHandler(s.server, do, (*[0]byte)(C.controlHandlerBridge), param)
	return nil
}

// HandleWriteAccess installs cb for all attributes of node with constraint fc.
func (s *Server) HandleWriteAccess(node gateway.ModelNode, fc gateway.FC, cb gateway.ControlCallback) error {
	n, err := s.model.node(node)
	if err != nil {
		return err
	}
	if !bool(C.gw_isDataObject(n.node)) {
		return fmt.Errorf("%s is not a data object", n.ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("server destroyed")
	}
	param := s.register(&registration{node: n, cb: cb})
	C.IedServer_handleWriteAccessForDataObject(s.server, (*C.DataObject)(unsafe.Pointer(n.node)),
		C.FunctionalConstraint(fc), (*[0]byte)(C.writeAccessHandlerBridge), param)
	return nil
}
