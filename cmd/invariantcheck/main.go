// Command invariantcheck is a small static linter over this module's
// own packages: it flags code outside the authorized mutators that
// pokes at invariant-bearing fields directly instead of going through
// the refcounting API (spec §4.2's I1: "Ref equals the number of PTEs
// that reference this frame" only holds if every mutation of Ref goes
// through Pool.Alloc/Free or Manager.Map/Unmap/decRef).
//
// Grounded on SeleniaProject-Orizon's internal/testrunner/mockgen,
// which loads a module with golang.org/x/tools/go/packages and walks
// its type-checked syntax trees the same way this command does.
package main

import (
	"fmt"
	"go/ast"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
)

// guardedField names a struct field that may only be assigned to from
// within an explicit allow-list of packages, rather than only its
// declaring package: spec §5 authorizes exactly one non-owning
// mutator for Frame.Ref ("Frame refcounts are mutated only by the
// page-table manager"), so ucgo/ptable must be allowed alongside
// ucgo/frame itself.
type guardedField struct {
	pkgSuffix string   // import path of the declaring package
	typeName  string   // receiver type name
	field     string   // field name
	allowed   []string // import paths permitted to assign this field
}

var guarded = []guardedField{
	{"ucgo/frame", "Frame", "Ref", []string{"ucgo/frame", "ucgo/ptable"}},
	{"ucgo/frame", "Frame", "Flags", []string{"ucgo/frame"}},
}

func main() {
	patterns := os.Args[1:]
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedSyntax | packages.NeedImports,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invariantcheck: load:", err)
		os.Exit(2)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(2)
	}

	var violations []string
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				switch stmt := n.(type) {
				case *ast.AssignStmt:
					for _, lhs := range stmt.Lhs {
						checkSelector(pkg, lhs, "assignment to", &violations)
					}
				case *ast.IncDecStmt:
					checkSelector(pkg, stmt.X, string(stmt.Tok), &violations)
				}
				return true
			})
		}
	}

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Println(v)
		}
		os.Exit(1)
	}
	fmt.Println("invariantcheck: no unauthorized mutations of guarded fields found")
}

func checkSelector(pkg *packages.Package, expr ast.Expr, verb string, violations *[]string) {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return
	}
	g := matchGuarded(pkg.TypesInfo, sel)
	if g == nil {
		return
	}
	if isAllowed(pkg.PkgPath, g.allowed) {
		return
	}
	pos := pkg.Fset.Position(sel.Pos())
	*violations = append(*violations, fmt.Sprintf(
		"%s: %s %s.%s outside its authorized mutators (I1 violation risk)",
		pos, verb, g.typeName, g.field))
}

func isAllowed(pkgPath string, allowed []string) bool {
	for _, a := range allowed {
		if a == pkgPath {
			return true
		}
	}
	return false
}

func matchGuarded(info *types.Info, sel *ast.SelectorExpr) *guardedField {
	tv, ok := info.Types[sel.X]
	if !ok || tv.Type == nil {
		return nil
	}
	named := underlyingNamed(tv.Type)
	if named == nil {
		return nil
	}
	obj := named.Obj()
	if obj == nil || obj.Pkg() == nil {
		return nil
	}
	for i := range guarded {
		g := &guarded[i]
		if obj.Pkg().Path() == g.pkgSuffix && obj.Name() == g.typeName && sel.Sel.Name == g.field {
			return g
		}
	}
	return nil
}

func underlyingNamed(t types.Type) *types.Named {
	switch v := t.(type) {
	case *types.Named:
		return v
	case *types.Pointer:
		return underlyingNamed(v.Elem())
	default:
		return nil
	}
}
