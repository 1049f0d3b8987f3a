package memserver

import gateway "github.com/marrasen/iec61850-gateway"

// DataModel is a browsable snapshot of a model, as a client would discover it.
type DataModel struct {
	LDs []LD
}

// LD is a Logical Device
type LD struct {
	Data string
	LNs  []LN
}

// LN is a Logical Node
type LN struct {
	Data      string
	Ref       string
	DOs       []DO
	DSs       []DS
	URReports []URReport
	BRReports []BRReport
}

// URReport are Unbuffered Reports
type URReport struct {
	Data string
	Ref  string
}

// BRReport are Buffered Reports
type BRReport struct {
	Data string
	Ref  string
}

// DS represents a DataSet
type DS struct {
	Data   string
	DSRefs []DSRef
}

type DSRef struct {
	Data string
}

// DO represents a Data Object
type DO struct {
	Data string
	DOs  []DO
	DAs  []DA
}

// DA represents a Data Attribute
type DA struct {
	Data string
	DAs  []DA
	Ref  string
	FC   gateway.FC
}

// DataModel returns the browsable tree of the model.
func (m *Model) DataModel() DataModel {
	var dm DataModel
	for _, ld := range m.LDs {
		l := LD{Data: ld.ref}
		for _, ln := range ld.Children {
			l.LNs = append(l.LNs, m.logicalNode(ln))
		}
		dm.LDs = append(dm.LDs, l)
	}
	return dm
}

func (m *Model) logicalNode(ln *Node) LN {
	out := LN{Data: ln.Name, Ref: ln.ref}
	for _, c := range ln.Children {
		out.DOs = append(out.DOs, dataObject(c))
	}
	for _, ds := range m.dataSets[ln] {
		d := DS{Data: ds.Name}
		for _, member := range ds.Members {
			d.DSRefs = append(d.DSRefs, DSRef{Data: member})
		}
		out.DSs = append(out.DSs, d)
	}
	for _, rc := range m.reports[ln] {
		ref := ln.ref + "." + rc.Name
		if rc.Buffered {
			out.BRReports = append(out.BRReports, BRReport{Data: rc.Name, Ref: ref})
		} else {
			out.URReports = append(out.URReports, URReport{Data: rc.Name, Ref: ref})
		}
	}
	return out
}

func dataObject(n *Node) DO {
	out := DO{Data: n.Name}
	for _, c := range n.Children {
		if c.Kind == KindDataObject {
			out.DOs = append(out.DOs, dataObject(c))
		} else {
			out.DAs = append(out.DAs, dataAttribute(c))
		}
	}
	return out
}

func dataAttribute(n *Node) DA {
	out := DA{Data: n.Name, Ref: n.ref, FC: n.FC}
	for _, c := range n.Children {
		out.DAs = append(out.DAs, dataAttribute(c))
	}
	return out
}
