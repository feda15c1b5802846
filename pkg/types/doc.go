// Package types provides shared type definitions for omengrep.
//
// # Blocks
//
// A Block is a contiguous span of a source file (a function, a type
// declaration, a window of lines) identified by a block ID that is stable as
// long as the file does not change:
//
//	block := types.Block{
//	    ID:   "internal/auth/login.go:12-40",
//	    Text: functionBody,
//	    Metadata: types.BlockMetadata{
//	        File: "internal/auth/login.go", Kind: types.BlockFunction,
//	        Name: "Login", StartLine: 12, EndLine: 40,
//	    },
//	}
//
// A BlockRecord adds the per-token embeddings produced in document mode and is
// what gets submitted to the store. Its Tokens matrix has exactly one row per
// real (non-padding) token.
//
// # Embeddings
//
// Matrix is a variable-length list of token vectors. TokenEmbeddings keeps one
// Matrix per input text, in input order.
//
// # Search Results
//
// SearchResult carries the block id, its 1-based rank, the store's score and
// the block text and metadata exactly as stored.
package types
