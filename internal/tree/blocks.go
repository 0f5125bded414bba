package tree

// Block is one (row leaf, column leaf) pair of an outer product structure.
// It addresses a RowDim x ColDim sub-matrix of the full flat matrix.
type Block struct {
	RowPath   string
	ColPath   string
	RowOffset int
	ColOffset int
	RowDim    int
	ColDim    int
}

// BlockSpec describes the nested block structure of a tree x tree object,
// such as a second derivative or a covariance matrix over flattened leaves.
type BlockSpec struct {
	Blocks []Block
	RowDim int
	ColDim int
}

// OuterProduct builds the block structure for the outer product of two
// specs: one block per (leaf of a, leaf of b) pair, in flatten order.
func OuterProduct(a, b *Spec) *BlockSpec {
	rows := a.Leaves()
	cols := b.Leaves()

	bs := &BlockSpec{
		Blocks: make([]Block, 0, len(rows)*len(cols)),
		RowDim: a.Dim(),
		ColDim: b.Dim(),
	}
	for _, r := range rows {
		for _, c := range cols {
			bs.Blocks = append(bs.Blocks, Block{
				RowPath:   r.Path,
				ColPath:   c.Path,
				RowOffset: r.Offset,
				ColOffset: c.Offset,
				RowDim:    r.Size,
				ColDim:    c.Size,
			})
		}
	}
	return bs
}
