// Package tree implements flattening of nested parameter containers into
// flat numeric vectors and their reconstruction from a structural spec.
//
// A parameter tree is built from a closed set of node kinds: Scalar, Vector,
// Mapping, List and Table. Additional container kinds can be added through
// Register without changes to the traversal core. Flatten order is
// deterministic: depth-first, with Mapping children visited in sorted key
// order.
package tree

import (
	"fmt"
	"sort"
)

// Kind identifies a node variant.
type Kind string

const (
	KindScalar  Kind = "scalar"
	KindVector  Kind = "vector"
	KindMapping Kind = "mapping"
	KindList    Kind = "list"
	KindTable   Kind = "table"
)

// Node is a parameter tree node.
type Node interface {
	Kind() Kind
}

// Scalar is a single numeric leaf.
type Scalar float64

func (Scalar) Kind() Kind { return KindScalar }

// Vector is a 1-D numeric leaf.
type Vector []float64

func (Vector) Kind() Kind { return KindVector }

// Mapping holds named children. Children are flattened in sorted key order.
type Mapping map[string]Node

func (Mapping) Kind() Kind { return KindMapping }

// List holds ordered children.
type List []Node

func (List) Kind() Kind { return KindList }

// Table is a labeled numeric block with row-major values.
type Table struct {
	RowLabels []string
	ColLabels []string
	Values    []float64
}

func (Table) Kind() Kind { return KindTable }

// Ops defines how one container kind participates in flatten/unflatten.
type Ops struct {
	// Flatten appends the node's leaf values via fl.Append and returns the
	// spec describing the node. Child nodes are flattened with fl.Node.
	Flatten func(fl *Flattener, path string, n Node) (*Spec, error)
	// Unflatten rebuilds a node from the vector prefix described by s and
	// returns the unconsumed remainder.
	Unflatten func(s *Spec, vec []float64) (Node, []float64, error)
}

var kinds = map[Kind]Ops{}

// Register adds a container kind. It panics if the kind is already
// registered.
func Register(k Kind, ops Ops) {
	if _, exists := kinds[k]; exists {
		panic(fmt.Sprintf("tree: kind %q already registered", k))
	}
	kinds[k] = ops
}

// Flattener accumulates leaf values during a flatten traversal.
type Flattener struct {
	values []float64
}

// Append records leaf values in traversal order.
func (fl *Flattener) Append(vals ...float64) {
	fl.values = append(fl.values, vals...)
}

// Node flattens a child node at the given path.
func (fl *Flattener) Node(path string, n Node) (*Spec, error) {
	if n == nil {
		return nil, &StructureError{Path: path, Reason: "nil node"}
	}
	ops, ok := kinds[n.Kind()]
	if !ok {
		return nil, &StructureError{Path: path, Reason: fmt.Sprintf("unregistered kind %q", n.Kind())}
	}
	return ops.Flatten(fl, path, n)
}

// Flatten traverses the tree depth-first and concatenates all numeric leaves
// into one flat vector, together with the spec needed to reconstruct the
// tree.
func Flatten(n Node) ([]float64, *Spec, error) {
	fl := &Flattener{}
	spec, err := fl.Node("", n)
	if err != nil {
		return nil, nil, err
	}
	return fl.values, spec, nil
}

func init() {
	Register(KindScalar, Ops{
		Flatten: func(fl *Flattener, path string, n Node) (*Spec, error) {
			fl.Append(float64(n.(Scalar)))
			return &Spec{Kind: KindScalar, Size: 1}, nil
		},
		Unflatten: func(s *Spec, vec []float64) (Node, []float64, error) {
			return Scalar(vec[0]), vec[1:], nil
		},
	})

	Register(KindVector, Ops{
		Flatten: func(fl *Flattener, path string, n Node) (*Spec, error) {
			v := n.(Vector)
			fl.Append(v...)
			return &Spec{Kind: KindVector, Size: len(v)}, nil
		},
		Unflatten: func(s *Spec, vec []float64) (Node, []float64, error) {
			out := make(Vector, s.Size)
			copy(out, vec[:s.Size])
			return out, vec[s.Size:], nil
		},
	})

	Register(KindMapping, Ops{
		Flatten: func(fl *Flattener, path string, n Node) (*Spec, error) {
			m := n.(Mapping)
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			spec := &Spec{Kind: KindMapping, Keys: keys}
			for _, k := range keys {
				child, err := fl.Node(path+"/"+k, m[k])
				if err != nil {
					return nil, err
				}
				spec.Children = append(spec.Children, child)
			}
			return spec, nil
		},
		Unflatten: func(s *Spec, vec []float64) (Node, []float64, error) {
			out := make(Mapping, len(s.Keys))
			for i, child := range s.Children {
				n, rest, err := unflattenNode(child, vec)
				if err != nil {
					return nil, nil, err
				}
				out[s.Keys[i]] = n
				vec = rest
			}
			return out, vec, nil
		},
	})

	Register(KindList, Ops{
		Flatten: func(fl *Flattener, path string, n Node) (*Spec, error) {
			l := n.(List)
			spec := &Spec{Kind: KindList}
			for i, c := range l {
				child, err := fl.Node(fmt.Sprintf("%s[%d]", path, i), c)
				if err != nil {
					return nil, err
				}
				spec.Children = append(spec.Children, child)
			}
			return spec, nil
		},
		Unflatten: func(s *Spec, vec []float64) (Node, []float64, error) {
			out := make(List, 0, len(s.Children))
			for _, child := range s.Children {
				n, rest, err := unflattenNode(child, vec)
				if err != nil {
					return nil, nil, err
				}
				out = append(out, n)
				vec = rest
			}
			return out, vec, nil
		},
	})

	Register(KindTable, Ops{
		Flatten: func(fl *Flattener, path string, n Node) (*Spec, error) {
			t := n.(Table)
			want := len(t.RowLabels) * len(t.ColLabels)
			if len(t.Values) != want {
				return nil, &StructureError{
					Path:   path,
					Reason: fmt.Sprintf("table has %d values, labels imply %d", len(t.Values), want),
				}
			}
			fl.Append(t.Values...)
			return &Spec{
				Kind: KindTable,
				Size: want,
				Rows: append([]string(nil), t.RowLabels...),
				Cols: append([]string(nil), t.ColLabels...),
			}, nil
		},
		Unflatten: func(s *Spec, vec []float64) (Node, []float64, error) {
			vals := make([]float64, s.Size)
			copy(vals, vec[:s.Size])
			return Table{
				RowLabels: append([]string(nil), s.Rows...),
				ColLabels: append([]string(nil), s.Cols...),
				Values:    vals,
			}, vec[s.Size:], nil
		},
	})
}
