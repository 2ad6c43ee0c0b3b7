// Package noosexit implements an analyzer that forbids using os.Exit in
// module code outside an allow list of packages.
//
// Exiting the process skips deferred cleanup such as the publisher drain and
// graceful HTTP shutdown. The server only exits on purpose when a
// process-exit fault is injected, so the fault package is allowed by default.
// main funcs should return errors and leave exiting to logrus.Fatal.
//
// Both calls (os.Exit(1)) and references (exit := os.Exit) are reported.
// _test.go files are ignored so TestMain can exit.
package noosexit

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const (
	defaultModule = "github.com/Hobrus/dashify.git"
	defaultAllow  = defaultModule + "/internal/app/server/fault"
)

var (
	module string
	allow  string
)

// Analyzer is the exported analyzer instance.
var Analyzer = &analysis.Analyzer{
	Name: "noosexit",
	Doc:  "forbid os.Exit outside the packages allowed to terminate the process",
	Requires: []*analysis.Analyzer{
		inspect.Analyzer,
	},
	Run: run,
}

func init() {
	Analyzer.Flags.StringVar(&module, "module", defaultModule, "only packages under this import path are checked")
	Analyzer.Flags.StringVar(&allow, "allow", defaultAllow, "comma-separated import paths allowed to use os.Exit")
}

func inModule(pkgPath string) bool {
	if module == "" {
		return true
	}
	return pkgPath == module || strings.HasPrefix(pkgPath, module+"/")
}

func allowed(pkgPath string) bool {
	for _, p := range strings.Split(allow, ",") {
		if p = strings.TrimSpace(p); p != "" && p == pkgPath {
			return true
		}
	}
	return false
}

func isOSExit(obj types.Object) bool {
	fn, ok := obj.(*types.Func)
	return ok && fn.Pkg() != nil && fn.Pkg().Path() == "os" && fn.Name() == "Exit"
}

func run(pass *analysis.Pass) (interface{}, error) {
	if pass.Pkg == nil {
		return nil, nil
	}
	// Test variants get a "pkg [pkg.test]" style path; strip it.
	pkgPath, _, _ := strings.Cut(pass.Pkg.Path(), " ")
	if !inModule(pkgPath) || allowed(pkgPath) {
		return nil, nil
	}

	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	insp.Preorder([]ast.Node{(*ast.SelectorExpr)(nil)}, func(n ast.Node) {
		sel := n.(*ast.SelectorExpr)
		if !isOSExit(pass.TypesInfo.Uses[sel.Sel]) {
			return
		}
		if strings.HasSuffix(pass.Fset.Position(sel.Pos()).Filename, "_test.go") {
			return
		}
		pass.Reportf(sel.Pos(), "os.Exit is not allowed in %s: return an error instead", pkgPath)
	})

	return nil, nil
}
