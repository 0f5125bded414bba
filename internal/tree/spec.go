package tree

import "fmt"

// Spec is the structural description of a parameter tree: node kinds, leaf
// sizes and labels, in flatten order. A Spec is immutable once built and can
// reconstruct any flat vector of matching length into the original tree
// shape. Specs serialize to JSON so persisted results keep their structure.
type Spec struct {
	Kind     Kind     `json:"kind"`
	Size     int      `json:"size,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Rows     []string `json:"rows,omitempty"`
	Cols     []string `json:"cols,omitempty"`
	Children []*Spec  `json:"children,omitempty"`
}

// Dim returns the total flat dimension of the subtree.
func (s *Spec) Dim() int {
	if len(s.Children) == 0 {
		return s.Size
	}
	total := 0
	for _, c := range s.Children {
		total += c.Dim()
	}
	return total
}

// Unflatten rebuilds the tree described by s from a flat vector. The vector
// length must equal s.Dim() exactly.
func (s *Spec) Unflatten(vec []float64) (Node, error) {
	if len(vec) != s.Dim() {
		return nil, &ShapeError{Want: s.Dim(), Got: len(vec)}
	}
	n, rest, err := unflattenNode(s, vec)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &ShapeError{Want: s.Dim(), Got: len(vec)}
	}
	return n, nil
}

func unflattenNode(s *Spec, vec []float64) (Node, []float64, error) {
	ops, ok := kinds[s.Kind]
	if !ok {
		return nil, nil, &StructureError{Reason: fmt.Sprintf("unregistered kind %q", s.Kind)}
	}
	return ops.Unflatten(s, vec)
}

// Leaf locates one numeric leaf within the flattened vector.
type Leaf struct {
	Path   string
	Size   int
	Offset int
}

// Leaves returns all numeric leaves in flatten order.
func (s *Spec) Leaves() []Leaf {
	var out []Leaf
	offset := 0
	s.walkLeaves("", &offset, &out)
	return out
}

func (s *Spec) walkLeaves(path string, offset *int, out *[]Leaf) {
	if len(s.Children) == 0 {
		*out = append(*out, Leaf{Path: path, Size: s.Size, Offset: *offset})
		*offset += s.Size
		return
	}
	for i, c := range s.Children {
		childPath := fmt.Sprintf("%s[%d]", path, i)
		if len(s.Keys) == len(s.Children) {
			childPath = path + "/" + s.Keys[i]
		}
		c.walkLeaves(childPath, offset, out)
	}
}

// Equal reports whether two specs describe the same structure.
func (s *Spec) Equal(o *Spec) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind || s.Size != o.Size {
		return false
	}
	if !stringsEqual(s.Keys, o.Keys) || !stringsEqual(s.Rows, o.Rows) || !stringsEqual(s.Cols, o.Cols) {
		return false
	}
	if len(s.Children) != len(o.Children) {
		return false
	}
	for i := range s.Children {
		if !s.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports structural identity and elementwise equality of two trees.
func Equal(a, b Node) bool {
	va, sa, errA := Flatten(a)
	vb, sb, errB := Flatten(b)
	if errA != nil || errB != nil {
		return false
	}
	if !sa.Equal(sb) || len(va) != len(vb) {
		return false
	}
	for i := range va {
		if va[i] != vb[i] {
			return false
		}
	}
	return true
}
