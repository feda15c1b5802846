package types

import "fmt"

// ParseResult holds the top-level declarations of one Go file in source
// order. A file with syntax errors still yields whatever parsed cleanly.
type ParseResult struct {
	PackageName string
	Symbols     []Symbol
	Errors      []ParseError
}

// ParseError is one syntax error reported by go/parser
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (pe *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
}

// AddError records a syntax error
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{File: file, Line: line, Column: col, Message: msg})
}
