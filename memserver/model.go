package memserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	gateway "github.com/marrasen/iec61850-gateway"
)

// NodeKind is the level of a node in the information model.
type NodeKind int

const (
	KindLogicalDevice NodeKind = iota
	KindLogicalNode
	KindDataObject
	KindDataAttribute
)

func (k NodeKind) String() string {
	switch k {
	case KindLogicalDevice:
		return "LD"
	case KindLogicalNode:
		return "LN"
	case KindDataObject:
		return "DO"
	case KindDataAttribute:
		return "DA"
	}
	return "?"
}

// Node is a node of a loaded model. Data objects implement gateway.ModelNode.
type Node struct {
	Name     string
	Kind     NodeKind
	FC       gateway.FC
	Type     AttributeType
	Count    int
	Parent   *Node
	Children []*Node

	ref   string
	value *gateway.MmsValue
}

func (n *Node) ObjectReference() string {
	return n.ref
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// DataObject returns the innermost data object containing n.
func (n *Node) DataObject() *Node {
	for p := n; p != nil; p = p.Parent {
		if p.Kind == KindDataObject {
			return p
		}
	}
	return nil
}

func (n *Node) add(child *Node) {
	child.Parent = n
	switch {
	case n.Kind == KindLogicalDevice:
		child.ref = n.ref + "/" + child.Name
	default:
		child.ref = n.ref + "." + child.Name
	}
	n.Children = append(n.Children, child)
}

// DataSet is a named list of member references of a logical node.
type DataSet struct {
	Name    string
	Members []string
}

// ReportControl is a report control block declared in the model.
type ReportControl struct {
	Name     string
	DataSet  string
	Buffered bool
}

// Model is an information model loaded from a libiec61850 .cfg file. The
// structure is immutable once loaded; attribute values are guarded by mu.
type Model struct {
	Name string
	LDs  []*Node

	dataSets map[*Node][]DataSet
	reports  map[*Node][]ReportControl
	byRef    map[string]*Node

	mu        sync.Mutex
	destroyed bool
}

func newModel(name string) *Model {
	return &Model{
		Name:     name,
		dataSets: make(map[*Node][]DataSet),
		reports:  make(map[*Node][]ReportControl),
		byRef:    make(map[string]*Node),
	}
}

func (m *Model) index(n *Node) {
	m.byRef[n.ref] = n
	for _, c := range n.Children {
		m.index(c)
	}
}

// Node returns the node with the full reference ref.
func (m *Model) Node(ref string) *Node {
	return m.byRef[ref]
}

// Resolve returns the data object named by ref. ref is either a full reference
// ("simpleIOGenericIO/GGIO1.SPCSO1") or a reference relative to the logical
// device ("GGIO1.SPCSO1") that matches in exactly one logical device.
func (m *Model) Resolve(ref string) (gateway.ModelNode, error) {
	n, err := m.resolveNode(ref)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (m *Model) resolveNode(ref string) (*Node, error) {
	if strings.Contains(ref, "/") {
		n, ok := m.byRef[ref]
		if !ok || n.Kind != KindDataObject {
			return nil, fmt.Errorf("data object %q: %w", ref, gateway.ErrNotFound)
		}
		return n, nil
	}
	var found []*Node
	for _, ld := range m.LDs {
		if n, ok := m.byRef[ld.ref+"/"+ref]; ok && n.Kind == KindDataObject {
			found = append(found, n)
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
	if !ok || node == nil || m.byRef[node.ref] != node {
		return nil, fmt.Errorf("node %v does not belong to model %q", n, m.Name)
	}
	return node, nil
}

func (m *Model) attribute(n gateway.ModelNode, attr string) (*Node, error) {
	node, err := m.node(n)
	if err != nil {
		return nil, err
	}
	a, ok := m.byRef[node.ref+"."+attr]
	if !ok || a.Kind != KindDataAttribute {
		return nil, fmt.Errorf("attribute %s.%s: %w", node.ref, attr, gateway.ErrNotFound)
	}
	return a, nil
}

func (m *Model) HasAttribute(n gateway.ModelNode, attr string) bool {
	_, err := m.attribute(n, attr)
	return err == nil
}

// ControlModel reads the ctlModel attribute of a data object. Objects without
// one are status-only.
func (m *Model) ControlModel(n gateway.ModelNode) gateway.ControlModel {
	a, err := m.attribute(n, "ctlModel")
	if err != nil {
		return gateway.CONTROL_MODEL_STATUS_ONLY
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := a.value.Int64()
	if err != nil {
		return gateway.CONTROL_MODEL_STATUS_ONLY
	}
	return gateway.ControlModel(i)
}

// Value returns the current value of the attribute with full reference ref.
func (m *Model) Value(ref string) (*gateway.MmsValue, error) {
	n, ok := m.byRef[ref]
	if !ok || n.Kind != KindDataAttribute {
		return nil, fmt.Errorf("attribute %q: %w", ref, gateway.ErrNotFound)
	}
	if n.Type == TYPE_CONSTRUCTED {
		return nil, fmt.Errorf("attribute %q is constructed", ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return n.value, nil
}

// setLocked stores value in the attribute a. Callers hold mu.
func (m *Model) setLocked(a *Node, value *gateway.MmsValue) error {
	if a.Kind != KindDataAttribute || a.Type == TYPE_CONSTRUCTED {
		return fmt.Errorf("attribute %q is not a basic attribute", a.ref)
	}
	v, err := a.Type.convert(value)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", a.ref, err)
	}
	a.value = v
	return nil
}

// DataObjects returns the full references of all data objects, sorted.
func (m *Model) DataObjects() []string {
	var out []string
	for ref, n := range m.byRef {
		if n.Kind == KindDataObject {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

// Destroy releases the model. Values read afterwards are those at destruction.
func (m *Model) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (m *Model) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
