package tree

import "fmt"

// StructureError reports an invalid or inconsistent tree node.
type StructureError struct {
	Path   string
	Reason string
}

func (e *StructureError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid tree structure: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tree structure at %q: %s", e.Path, e.Reason)
}

// ShapeError reports a flat vector whose length does not match the spec.
type ShapeError struct {
	Want, Got int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("flat vector has length %d, spec requires %d", e.Got, e.Want)
}
