package memserver

import (
	"fmt"
	"strings"

	gateway "github.com/marrasen/iec61850-gateway"
)

// TypeSpec describes the MMS type of a model node restricted to one functional
// constraint, the way a client sees it through GetVariableSpecification.
type TypeSpec struct {
	Type gateway.MmsType
	Name string

	// Elements of a Structure, in model order.
	Elements []TypeSpec
	// ElementCount and Element describe an Array.
	ElementCount int
	Element      *TypeSpec

	// Size is the width of a scalar: bits for numbers and bit strings,
	// characters or octets for strings.
	Size int
}

// VariableTypeValue is a basic attribute with its type, full reference and value.
type VariableTypeValue struct {
	Type  gateway.MmsType
	Name  string
	Ref   string
	Value any
}

// TypeSpec returns the type of the node ref restricted to fc. gateway.NONE
// selects all functional constraints.
func (m *Model) TypeSpec(ref string, fc gateway.FC) (*TypeSpec, error) {
	n, ok := m.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", ref, gateway.ErrNotFound)
	}
	spec := typeSpecOf(n, fc)
	if spec == nil {
		return nil, fmt.Errorf("node %q has no attributes with FC %s", ref, fc)
	}
	return spec, nil
}

func typeSpecOf(n *Node, fc gateway.FC) *TypeSpec {
	if n.Kind == KindDataAttribute && n.Type != TYPE_CONSTRUCTED {
		if fc != gateway.NONE && n.FC != fc {
			return nil
		}
		return wrapArray(n, &TypeSpec{Type: n.Type.MmsType(), Name: n.Name, Size: n.Type.size()})
	}
	s := &TypeSpec{Type: gateway.Structure, Name: n.Name}
	for _, c := range n.Children {
		if cs := typeSpecOf(c, fc); cs != nil {
			s.Elements = append(s.Elements, *cs)
		}
	}
	if len(s.Elements) == 0 {
		return nil
	}
	return wrapArray(n, s)
}

func wrapArray(n *Node, elem *TypeSpec) *TypeSpec {
	if n.Count <= 0 {
		return elem
	}
	return &TypeSpec{Type: gateway.Array, Name: n.Name, ElementCount: n.Count, Element: elem}
}

// String returns a human-readable description of the type. Structures and
// arrays are printed recursively.
func (s TypeSpec) String() string {
	var b strings.Builder
	writeTypeSpec(&b, s)
	return b.String()
}

func writeTypeSpec(b *strings.Builder, s TypeSpec) {
	switch s.Type {
	case gateway.Array:
		if s.Element == nil {
			b.WriteString("Array[?]")
			return
		}
		fmt.Fprintf(b, "Array[%d] of ", s.ElementCount)
		writeTypeSpec(b, *s.Element)
	case gateway.Structure:
		b.WriteString("Structure{")
		for i, el := range s.Elements {
			if i > 0 {
				b.WriteString(", ")
			}
			if el.Name != "" {
				fmt.Fprintf(b, "%s: ", el.Name)
			}
			writeTypeSpec(b, el)
		}
		b.WriteString("}")
	case gateway.Integer, gateway.Unsigned, gateway.Float, gateway.BitString:
		if s.Size != 0 {
			fmt.Fprintf(b, "%s(%dbit)", s.Type, s.Size)
		} else {
			b.WriteString(s.Type.String())
		}
	case gateway.OctetString, gateway.VisibleString, gateway.String, gateway.BinaryTime:
		if s.Size != 0 {
			fmt.Fprintf(b, "%s(%d)", s.Type, s.Size)
		} else {
			b.WriteString(s.Type.String())
		}
	default:
		b.WriteString(s.Type.String())
	}
}

// VariableTypeValues returns the basic attributes below ref with functional
// constraint fc, together with their current values.
func (m *Model) VariableTypeValues(ref string, fc gateway.FC) ([]VariableTypeValue, error) {
	n, ok := m.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", ref, gateway.ErrNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []VariableTypeValue
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindDataAttribute && n.Type != TYPE_CONSTRUCTED {
			if fc != gateway.NONE && n.FC != fc {
				return
			}
			out = append(out, VariableTypeValue{
				Type:  n.Type.MmsType(),
				Name:  n.Name,
				Ref:   n.ref,
				Value: n.value.Interface(),
			})
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out, nil
}
