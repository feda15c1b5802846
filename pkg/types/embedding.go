package types

import "fmt"

// Matrix holds one embedding row per token
type Matrix [][]float32

// TokenEmbeddings is an ordered sequence of matrices, one per input text
type TokenEmbeddings []Matrix

// Rows returns the number of token rows
func (m Matrix) Rows() int {
	return len(m)
}

// Dim returns the width of the first row, or 0 for an empty matrix
func (m Matrix) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Validate checks that every row has the same non-zero width
func (m Matrix) Validate() error {
	dim := m.Dim()
	if dim == 0 && len(m) > 0 {
		return ErrZeroDimension
	}
	for i, row := range m {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedMatrix, i, len(row), dim)
		}
	}
	return nil
}

// Clone returns a deep copy of the matrix
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float32(nil), row...)
	}
	return out
}

// Truncate returns the first n rows, sharing the backing rows
func (m Matrix) Truncate(n int) Matrix {
	if n >= len(m) {
		return m
	}
	if n < 0 {
		n = 0
	}
	return m[:n]
}
