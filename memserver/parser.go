package memserver

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	gateway "github.com/marrasen/iec61850-gateway"
)

// LoadModel reads a libiec61850 .cfg model file.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ParseModel(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseModel parses the text form of a libiec61850 configuration model:
//
//	MODEL(simpleIO){
//	LD(GenericIO){
//	LN(GGIO1){
//	DO(SPCSO1 0){
//	DA(stVal 0 0 0 1 0);
//	DA(ctlModel 0 12 4 0 0)=1;
//	}}}}
//
// DA fields are name, array count, type, functional constraint, trigger options
// and short address. Elements the gateway does not use (GOOSE, logs, setting
// groups) are skipped with their blocks.
func ParseModel(r io.Reader) (*Model, error) {
	p := &parser{sc: bufio.NewScanner(r)}
	p.sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return p.parse()
}

type parser struct {
	sc     *bufio.Scanner
	lineNo int

	model *Model
	stack []*Node
	// depth of a skipped block, 0 when not skipping
	skip int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.lineNo, fmt.Sprintf(format, args...))
}

func (p *parser) parse() (*Model, error) {
	for p.sc.Scan() {
		p.lineNo++
		line := strings.TrimSpace(p.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.line(line); err != nil {
			return nil, err
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, err
	}
	if p.model == nil {
		return nil, fmt.Errorf("no MODEL element")
	}
	if len(p.stack) != 0 || p.skip != 0 {
		return nil, fmt.Errorf("unexpected end of file: unclosed block")
	}
	for _, ld := range p.model.LDs {
		p.model.index(ld)
	}
	return p.model, nil
}

func (p *parser) line(line string) error {
	if p.skip > 0 {
		p.skip += strings.Count(line, "{") - strings.Count(line, "}")
		return nil
	}
	if strings.HasPrefix(line, "}") {
		return p.close(line)
	}

	open := strings.HasSuffix(line, "{")
	keyword, args, init, err := splitElement(strings.TrimSuffix(line, "{"))
	if err != nil {
		return p.errorf("%v", err)
	}

	switch keyword {
	case "MODEL":
		if p.model != nil {
			return p.errorf("second MODEL element")
		}
		p.model = newModel(args[0])
		if open {
			p.stack = append(p.stack, nil)
		}
		return nil
	case "LD":
		if p.model == nil || len(p.stack) != 1 {
			return p.errorf("LD outside MODEL")
		}
		ld := &Node{Name: args[0], Kind: KindLogicalDevice, ref: p.model.Name + args[0]}
		p.model.LDs = append(p.model.LDs, ld)
		return p.push(ld, open)
	case "LN":
		parent := p.top()
		if parent == nil || parent.Kind != KindLogicalDevice {
			return p.errorf("LN outside LD")
		}
		ln := &Node{Name: args[0], Kind: KindLogicalNode}
		parent.add(ln)
		return p.push(ln, open)
	case "DO":
		parent := p.top()
		if parent == nil || (parent.Kind != KindLogicalNode && parent.Kind != KindDataObject) {
			return p.errorf("DO outside LN")
		}
		do := &Node{Name: args[0], Kind: KindDataObject}
		if len(args) > 1 {
			do.Count, _ = strconv.Atoi(args[1])
		}
		parent.add(do)
		return p.push(do, open)
	case "DA":
		return p.attribute(args, init, open)
	case "DS":
		ln := p.top()
		if ln == nil || ln.Kind != KindLogicalNode {
			return p.errorf("DS outside LN")
		}
		p.model.dataSets[ln] = append(p.model.dataSets[ln], DataSet{Name: args[0]})
		if open {
			p.stack = append(p.stack, ln)
		}
		return nil
	case "DE":
		ln := p.top()
		sets := p.model.dataSets[ln]
		if ln == nil || len(sets) == 0 {
			return p.errorf("DE outside DS")
		}
		sets[len(sets)-1].Members = append(sets[len(sets)-1].Members, args[0])
		return nil
	case "RC":
		ln := p.top()
		if ln == nil || ln.Kind != KindLogicalNode {
			return p.errorf("RC outside LN")
		}
		rc := ReportControl{Name: args[0]}
		if len(args) > 3 {
			rc.Buffered = args[2] == "1"
			rc.DataSet = args[3]
			if rc.DataSet == "-" {
				rc.DataSet = ""
			}
		}
		p.model.reports[ln] = append(p.model.reports[ln], rc)
		return nil
	default:
		if open {
			p.skip = 1
		}
		return nil
	}
}

func (p *parser) top() *Node {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

func (p *parser) push(n *Node, open bool) error {
	if open {
		p.stack = append(p.stack, n)
	}
	return nil
}

func (p *parser) close(line string) error {
	for _, r := range line {
		if r != '}' {
			continue
		}
		if len(p.stack) == 0 {
			return p.errorf("unbalanced '}'")
		}
		p.stack = p.stack[:len(p.stack)-1]
	}
	return nil
}

func (p *parser) attribute(args []string, init string, open bool) error {
	parent := p.top()
	if parent == nil || (parent.Kind != KindDataObject && parent.Kind != KindDataAttribute) {
		return p.errorf("DA outside DO")
	}
	if len(args) < 4 {
		return p.errorf("DA %q: expected name, count, type and fc", args[0])
	}
	count, err1 := strconv.Atoi(args[1])
	typ, err2 := strconv.Atoi(args[2])
	fc, err3 := strconv.Atoi(args[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return p.errorf("DA %q: malformed fields %v", args[0], args[1:])
	}
	da := &Node{
		Name:  args[0],
		Kind:  KindDataAttribute,
		FC:    gateway.FC(fc),
		Type:  AttributeType(typ),
		Count: count,
	}
	if da.Type != TYPE_CONSTRUCTED {
		da.value = da.Type.zero()
	}
	if init != "" {
		v, err := parseInitialValue(da.Type, init)
		if err != nil {
			return p.errorf("DA %q initial value: %v", args[0], err)
		}
		da.value = v
	}
	parent.add(da)
	return p.push(da, open)
}

// splitElement splits `KEYWORD(arg arg ...)=value;` into its parts.
func splitElement(s string) (keyword string, args []string, init string, err error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	open := strings.Index(s, "(")
	closing := strings.LastIndex(s, ")")
	if open <= 0 || closing < open {
		return "", nil, "", fmt.Errorf("malformed element %q", s)
	}
	keyword = s[:open]
	args = strings.Fields(s[open+1 : closing])
	if len(args) == 0 {
		return "", nil, "", fmt.Errorf("element %s without name", keyword)
	}
	rest := strings.TrimSpace(s[closing+1:])
	if strings.HasPrefix(rest, "=") {
		init = strings.TrimSpace(rest[1:])
	}
	return keyword, args, init, nil
}

func parseInitialValue(t AttributeType, s string) (*gateway.MmsValue, error) {
	s = strings.Trim(s, `"`)
	switch t.MmsType() {
	case gateway.Boolean:
		b, err := cast.ToBoolE(s)
		if err != nil {
			return nil, err
		}
		return gateway.NewBoolean(b), nil
	case gateway.Integer:
		i, err := cast.ToInt64E(s)
		if err != nil {
			return nil, err
		}
		return gateway.NewInteger(i), nil
	case gateway.Unsigned:
		u, err := cast.ToUint64E(s)
		if err != nil {
			return nil, err
		}
		return gateway.NewUnsigned(u), nil
	case gateway.Float:
		f, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, err
		}
		return gateway.NewFloat(f), nil
	case gateway.VisibleString:
		return gateway.NewVisibleString(s), nil
	case gateway.String:
		return gateway.NewString(s), nil
	case gateway.BitString:
		u, err := cast.ToUint32E(s)
		if err != nil {
			return nil, err
		}
		return gateway.NewBitString(u), nil
	case gateway.OctetString:
		return &gateway.MmsValue{Type: gateway.OctetString, Value: []byte(s)}, nil
	}
	return nil, fmt.Errorf("type %d cannot be initialized", t)
}
