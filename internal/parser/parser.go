package parser

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/dshills/omengrep/pkg/types"
)

// Parser handles AST-based parsing of Go source files
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseSource parses Go source held in memory and extracts its top-level
// declarations. Syntax errors are recorded in the result, not returned:
// whatever the parser recovered is still reported.
func (p *Parser) ParseSource(path string, src []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{}

	// A fresh FileSet per call keeps the parser safe for concurrent use
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		var list scanner.ErrorList
		if !errors.As(err, &list) || len(list) == 0 {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range list {
			result.AddError(path, e.Pos.Line, e.Pos.Column, e.Msg)
		}
	}
	if file == nil {
		return result, nil
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}

	e := &symbolExtractor{
		fset:        fset,
		src:         src,
		packageName: result.PackageName,
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	result.Symbols = e.symbols
	return result, nil
}

// symbolExtractor collects top-level symbols from one file
type symbolExtractor struct {
	fset        *token.FileSet
	src         []byte
	packageName string
	symbols     []types.Symbol
}

func (e *symbolExtractor) extractFunction(fn *ast.FuncDecl) {
	sym := types.Symbol{
		Name:    fn.Name.Name,
		Kind:    types.KindFunction,
		Package: e.packageName,
		Start:   e.position(startWithDoc(fn.Pos(), fn.Doc)),
		End:     e.position(fn.End()),
	}

	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		sym.Receiver = receiverName(fn.Recv.List[0].Type)
	}

	// The signature is the declaration up to the opening brace
	end := fn.End()
	if fn.Body != nil {
		end = fn.Body.Lbrace
	}
	sym.Signature = e.text(fn.Pos(), end)

	e.symbols = append(e.symbols, sym)
}

func (e *symbolExtractor) extractGenDecl(gd *ast.GenDecl) {
	switch gd.Tok {
	case token.TYPE:
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			e.extractTypeSpec(gd, ts)
		}
	case token.CONST, token.VAR:
		e.extractValueGroup(gd)
	}
}

// extractTypeSpec emits one symbol per type. An ungrouped declaration spans
// the whole "type X ..." statement including its doc comment.
func (e *symbolExtractor) extractTypeSpec(gd *ast.GenDecl, ts *ast.TypeSpec) {
	start, end := ts.Pos(), ts.End()
	doc := ts.Doc
	if !gd.Lparen.IsValid() {
		start, end, doc = gd.Pos(), gd.End(), gd.Doc
	}

	sym := types.Symbol{
		Name:    ts.Name.Name,
		Package: e.packageName,
		Start:   e.position(startWithDoc(start, doc)),
		End:     e.position(end),
	}
	switch t := ts.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		sym.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", sym.Name, t.Fields.NumFields())
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", sym.Name, t.Methods.NumFields())
	default:
		sym.Kind = types.KindType
		sym.Signature = "type " + e.text(ts.Pos(), ts.End())
	}
	e.symbols = append(e.symbols, sym)
}

// extractValueGroup emits a single symbol for a const or var declaration,
// grouped or not, named after its first identifier
func (e *symbolExtractor) extractValueGroup(gd *ast.GenDecl) {
	var names []string
	for _, spec := range gd.Specs {
		if vs, ok := spec.(*ast.ValueSpec); ok {
			for _, n := range vs.Names {
				if n.Name != "_" {
					names = append(names, n.Name)
				}
			}
		}
	}
	if len(names) == 0 {
		return
	}

	kind := types.KindVar
	if gd.Tok == token.CONST {
		kind = types.KindConst
	}
	sig := fmt.Sprintf("%s %s", gd.Tok, names[0])
	if len(names) > 1 {
		sig = fmt.Sprintf("%s (%s)", gd.Tok, strings.Join(names, ", "))
	}

	e.symbols = append(e.symbols, types.Symbol{
		Name:      names[0],
		Kind:      kind,
		Package:   e.packageName,
		Signature: sig,
		Start:     e.position(startWithDoc(gd.Pos(), gd.Doc)),
		End:       e.position(gd.End()),
	})
}

func (e *symbolExtractor) position(pos token.Pos) types.Position {
	p := e.fset.Position(pos)
	return types.Position{Line: p.Line, Column: p.Column}
}

// text returns the trimmed source between two positions
func (e *symbolExtractor) text(from, to token.Pos) string {
	start := e.fset.Position(from).Offset
	end := e.fset.Position(to).Offset
	if start < 0 || end > len(e.src) || start >= end {
		return ""
	}
	return strings.Join(strings.Fields(string(e.src[start:end])), " ")
}

func startWithDoc(pos token.Pos, doc *ast.CommentGroup) token.Pos {
	if doc != nil && doc.Pos().IsValid() && doc.Pos() < pos {
		return doc.Pos()
	}
	return pos
}

// receiverName extracts the receiver type name, dropping pointers and
// type parameters
func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}
