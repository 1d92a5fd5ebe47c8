package asdf

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
	"github.com/spacetelescope/stdatamodels-go/tagtoken"
)

// software is written with the core/software tag.
type software map[string]any

type encoder struct {
	blocks [][]byte
}

func (e *encoder) mapping(m map[string]any) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		v, err := e.value(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, v)
	}
	return n, nil
}

func (e *encoder) value(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case map[string]any:
		return e.mapping(x)
	case software:
		n, err := e.mapping(map[string]any(x))
		if err != nil {
			return nil, err
		}
		n.Tag = softwareTag
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, it := range x {
			c, err := e.value(it)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	case []string:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, s := range x {
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s})
		}
		return n, nil
	case *ndarray.Array:
		return e.array(x)
	case float64:
		return floatNode(x), nil
	case float32:
		return floatNode(float64(x)), nil
	}
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return n, nil
}

// floatNode keeps integral floats distinguishable from integers.
func floatNode(f float64) *yaml.Node {
	var s string
	switch {
	case math.IsInf(f, 1):
		s = ".inf"
	case math.IsInf(f, -1):
		s = "-.inf"
	case math.IsNaN(f):
		s = ".nan"
	default:
		s = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}

func (e *encoder) array(a *ndarray.Array) (*yaml.Node, error) {
	if a == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	shape := make([]any, len(a.Shape))
	for i, d := range a.Shape {
		shape[i] = int64(d)
	}
	m := map[string]any{
		"datatype":  a.Dtype.Datatype(),
		"byteorder": "big",
		"shape":     shape,
	}
	if a.Source != "" {
		m["source"] = a.Source
	} else {
		if !a.Resolved() {
			return nil, fmt.Errorf("array %s has no data", a)
		}
		m["source"] = int64(len(e.blocks))
		e.blocks = append(e.blocks, a.Data)
	}
	n, err := e.mapping(m)
	if err != nil {
		return nil, err
	}
	n.Tag = ndarrayTag
	n.Style = yaml.FlowStyle
	return n, nil
}

// maxNodes bounds the nodes a tree may expand to, aliases included.
const maxNodes = 1 << 20

type decoder struct {
	blocks [][]byte
	nodes  int
}

func (d *decoder) value(n *yaml.Node) (any, error) {
	if d.nodes++; d.nodes > maxNodes {
		return nil, &FormatError{Msg: fmt.Sprintf("tree expands to more than %d nodes", maxNodes)}
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return d.value(n.Content[0])
	case yaml.AliasNode:
		return d.value(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, &FormatError{Msg: fmt.Sprintf("line %d: non-string key", n.Content[i].Line)}
			}
			v, err := d.value(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key] = v
		}
		if tagtoken.IsNDArray(n.Tag) {
			a, err := d.array(m)
			if err != nil {
				return nil, &FormatError{Msg: fmt.Sprintf("line %d: %v", n.Line, err)}
			}
			return a, nil
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := d.value(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, &FormatError{Msg: fmt.Sprintf("line %d: unexpected node kind %d", n.Line, n.Kind)}
}

func scalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return i, nil
		}
		var u uint64
		err := n.Decode(&u)
		return u, err
	case "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	}
	return n.Value, nil
}

func (d *decoder) array(m map[string]any) (*ndarray.Array, error) {
	if _, ok := m["data"]; ok {
		return nil, fmt.Errorf("inline array data is not supported")
	}
	dt, err := ndarray.ParseDatatype(m["datatype"])
	if err != nil {
		return nil, err
	}
	raw, _ := m["shape"].([]any)
	shape := make([]int, len(raw))
	size := dt.ItemSize()
	for i, s := range raw {
		v, ok := s.(int64)
		if !ok || v < 0 || v > math.MaxInt {
			return nil, fmt.Errorf("unsupported shape %v", raw)
		}
		shape[i] = int(v)
		if v != 0 && size > math.MaxInt/int(v) {
			return nil, fmt.Errorf("shape %v overflows the array size", raw)
		}
		size *= int(v)
	}
	switch src := m["source"].(type) {
	case string:
		return ndarray.NewLink(src, dt, shape...), nil
	case int64:
		if src < 0 || int(src) >= len(d.blocks) {
			return nil, fmt.Errorf("block %d not found", src)
		}
		offset := 0
		if o, ok := m["offset"]; ok {
			v, ok := o.(int64)
			if !ok || v < 0 || v > math.MaxInt {
				return nil, fmt.Errorf("invalid offset %v", o)
			}
			offset = int(v)
		}
		if _, ok := m["strides"]; ok {
			return nil, fmt.Errorf("strided arrays are not supported")
		}
		data := d.blocks[src]
		if offset > len(data) || size > len(data)-offset {
			return nil, fmt.Errorf("block %d holds %d bytes, array needs %d at offset %d", src, len(data), size, offset)
		}
		a := ndarray.New(dt, shape...)
		copy(a.Data, data[offset:offset+size])
		if bo, _ := m["byteorder"].(string); bo == "little" {
			swapBytes(a.Data, dt)
		}
		return a, nil
	}
	return nil, fmt.Errorf("array source %v is neither a block nor a reference", m["source"])
}

// swapBytes converts little-endian element data to big-endian in place.
func swapBytes(b []byte, d ndarray.Dtype) {
	if !d.IsStructured() {
		swapRun(b, d.Scalar)
		return
	}
	row := d.ItemSize()
	for start := 0; start+row <= len(b); start += row {
		for i, f := range d.Fields {
			off := start + d.Offset(i)
			swapRun(b[off:off+f.Size()], f.Type)
		}
	}
}

func swapRun(b []byte, s ndarray.Scalar) {
	size := s.Kind.Size()
	if size <= 1 {
		return
	}
	for i := 0; i+size <= len(b); i += size {
		for l, r := i, i+size-1; l < r; l, r = l+1, r-1 {
			b[l], b[r] = b[r], b[l]
		}
	}
}
