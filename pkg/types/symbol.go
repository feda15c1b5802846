package types

import (
	"errors"
	"go/token"
)

// SymbolKind represents the type of Go language symbol
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
)

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// Symbol represents a top-level declaration extracted from Go source.
// Grouped const/var declarations produce one symbol spanning the group.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Package   string
	Signature string
	Receiver  string // For methods: receiver type name

	// Start includes the doc comment when one is attached
	Start Position
	End   Position
}

// IsExported reports whether the symbol is visible outside its package
func (s *Symbol) IsExported() bool {
	return token.IsExported(s.Name)
}

// BlockKind maps the symbol kind onto the block kind stored in the index
func (s *Symbol) BlockKind() BlockKind {
	switch s.Kind {
	case KindFunction:
		return BlockFunction
	case KindMethod:
		return BlockMethod
	case KindStruct, KindInterface, KindType:
		return BlockType
	case KindConst:
		return BlockConstGroup
	case KindVar:
		return BlockVarGroup
	default:
		return BlockSection
	}
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	switch s.Kind {
	case KindFunction, KindMethod, KindStruct, KindInterface, KindType, KindConst, KindVar:
	default:
		return errors.New("invalid symbol kind")
	}

	// Methods must have a receiver
	if s.Kind == KindMethod && s.Receiver == "" {
		return errors.New("methods must have a receiver type")
	}

	if s.Kind != KindMethod && s.Receiver != "" {
		return errors.New("only methods can have a receiver type")
	}

	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}
