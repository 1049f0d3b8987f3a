// Package iec61850 is the libiec61850 backend of the gateway. It loads models
// from .cfg files and runs an IedServer whose control, check and write access
// callbacks are routed to a gateway.ControlCallback.
package iec61850

// #include "bridge.h"
import "C"

import (
	"fmt"
	"strings"
	"unsafe"

	gateway "github.com/marrasen/iec61850-gateway"
)

// Backend implements gateway.Backend on top of libiec61850.
type Backend struct{}

func NewBackend() *Backend {
	return &Backend{}
}

func (b *Backend) LoadModel(path string) (gateway.Model, error) {
	return LoadModel(path)
}

func (b *Backend) NewServer(model gateway.Model, cfg *gateway.ServerConfig, tls *gateway.TLSConfiguration) (gateway.Server, error) {
	m, ok := model.(*Model)
	if !ok {
		return nil, fmt.Errorf("iec61850: model of type %T", model)
	}
	return NewServer(m, cfg, tls)
}

// Model owns an IedModel created from a configuration file.
type Model struct {
	model *C.IedModel
	path  string
}

// LoadModel parses a libiec61850 .cfg model file.
func LoadModel(path string) (*Model, error) {
	cPath := Go2CStr(path)
	defer freeCStr(cPath)

	model := C.ConfigFileParser_createModelFromConfigFileEx(cPath)
	if model == nil {
		return nil, fmt.Errorf("load model %q: invalid or unreadable configuration file", path)
	}
	return &Model{model: model, path: path}, nil
}

// Node is a data object or data attribute of a Model.
type Node struct {
	node *C.ModelNode
	ref  string
}

func (n *Node) ObjectReference() string {
	return n.ref
}

func (n *Node) String() string {
	return n.ref
}

func (m *Model) Resolve(ref string) (gateway.ModelNode, error) {
	if m.model == nil {
		return nil, fmt.Errorf("model %q destroyed", m.path)
	}
	if strings.Contains(ref, "/") {
		cRef := Go2CStr(ref)
		defer freeCStr(cRef)
		n := C.IedModel_getModelNodeByObjectReference(m.model, cRef)
		if !bool(C.gw_isDataObject(n)) {
			return nil, fmt.Errorf("data object %q: %w", ref, gateway.ErrNotFound)
		}
		return &Node{node: n, ref: objectReference(n)}, nil
	}

	cRef := Go2CStr(ref)
	defer freeCStr(cRef)
	var found []*Node
	count := int(C.IedModel_getLogicalDeviceCount(m.model))
	for i := 0; i < count; i++ {
		ld := C.gw_device(m.model, C.int(i))
		if ld == nil {
			continue
		}
		if n := C.ModelNode_getChild(ld, cRef); bool(C.gw_isDataObject(n)) {
			found = append(found, &Node{node: n, ref: objectReference(n)})
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("data object %q: %w", ref, gateway.ErrNotFound)
	case 1:
		return found[0], nil
	}
	refs := make([]string, len(found))
	for i, n := range found {
		refs[i] = n.ref
	}
	return nil, fmt.Errorf("data object %q is ambiguous: %s", ref, strings.Join(refs, ", "))
}

func (m *Model) node(n gateway.ModelNode) (*Node, error) {
	node, ok := n.(*Node)
	if !ok || node == nil || node.node == nil {
		return nil, fmt.Errorf("node %v does not belong to model %q", n, m.path)
	}
	return node, nil
}

// attribute returns the basic or constructed attribute attr below n.
func (m *Model) attribute(n gateway.ModelNode, attr string) (*C.ModelNode, error) {
	node, err := m.node(n)
	if err != nil {
		return nil, err
	}
	cAttr := Go2CStr(attr)
	defer freeCStr(cAttr)
	a := C.ModelNode_getChild(node.node, cAttr)
	if !bool(C.gw_isDataAttribute(a)) {
		return nil, fmt.Errorf("attribute %s.%s: %w", node.ref, attr, gateway.ErrNotFound)
	}
	return a, nil
}

// Value returns a copy of the basic attribute attr below n.
func (m *Model) Value(n gateway.ModelNode, attr string) (*gateway.MmsValue, error) {
	a, err := m.attribute(n, attr)
	if err != nil {
		return nil, err
	}
	v := C.gw_attributeValue(a)
	if v == nil {
		return nil, fmt.Errorf("attribute %s.%s is constructed", n.ObjectReference(), attr)
	}
	return toGoValue(v), nil
}

func (m *Model) HasAttribute(n gateway.ModelNode, attr string) bool {
	_, err := m.attribute(n, attr)
	return err == nil
}

// ControlModel reads the ctlModel attribute. Objects without one are status-only.
func (m *Model) ControlModel(n gateway.ModelNode) gateway.ControlModel {
	a, err := m.attribute(n, "ctlModel")
	if err != nil {
		return gateway.CONTROL_MODEL_STATUS_ONLY
	}
	v := C.gw_attributeValue(a)
	if v == nil {
		return gateway.CONTROL_MODEL_STATUS_ONLY
	}
	return gateway.ControlModel(C.MmsValue_toInt32(v))
}

// Destroy releases the model. Servers created from it must be destroyed first.
func (m *Model) Destroy() {
	if m.model == nil {
		return
	}
	C.IedModel_destroy(m.model)
	m.model = nil
}

func objectReference(n *C.ModelNode) string {
	ref := C.ModelNode_getObjectReference(n, nil)
	if ref == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(ref))
	return C.GoString(ref)
}
