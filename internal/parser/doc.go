// Package parser extracts top-level declarations from Go source using the
// standard go/parser and go/ast packages.
//
// Source is parsed from memory; the caller has already read and validated
// the file. Each function, method and type becomes one symbol. A const or
// var declaration becomes a single symbol spanning the whole group. Symbol
// spans start at the attached doc comment when there is one.
//
//	p := parser.New()
//	result, err := p.ParseSource("internal/config/config.go", content)
//	if err != nil {
//	    return err
//	}
//	for _, sym := range result.Symbols {
//	    fmt.Printf("%s %s [%d-%d]\n", sym.Kind, sym.Name, sym.Start.Line, sym.End.Line)
//	}
//
// Syntax errors do not fail the parse. They are recorded in the result and
// whatever declarations the parser recovered are still returned, so callers
// can decide between the partial symbols and a fallback segmentation.
package parser
