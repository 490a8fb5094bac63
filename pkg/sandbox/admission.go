package sandbox

import (
	"context"
	_ "embed"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.starlark.net/syntax"
)

//go:embed policy/admission.rego
var admissionPolicy string

// admissionInput is what the rego policy sees of a program
type admissionInput struct {
	Calls       []string `json:"calls"`
	Defined     []string `json:"defined"`
	Identifiers []string `json:"identifiers"`
	Loads       []string `json:"loads"`
	Allowed     []string `json:"allowed"`
}

// admission evaluates data.sandbox.deny against the syntax tree of a program
type admission struct {
	query *rego.PreparedEvalQuery
}

func newAdmission(ctx context.Context, policy string) (*admission, error) {
	prepared, err := rego.New(
		rego.Query("data.sandbox.deny"),
		rego.Module("admission.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission policy")
	}
	return &admission{query: &prepared}, nil
}

// check returns the deny messages for f, empty when the program is admitted
func (a *admission) check(ctx context.Context, f *syntax.File, allowed []string) ([]string, error) {
	input := inspect(f)
	input.Allowed = allowed

	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate admission policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("unexpected admission policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	denies := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			denies = append(denies, s)
		}
	}
	slices.Sort(denies)
	return denies, nil
}

// inspect walks the syntax tree and collects calls, bindings and loads
func inspect(f *syntax.File) admissionInput {
	var (
		input   admissionInput
		calls   = map[string]struct{}{}
		defined = map[string]struct{}{}
		idents  = map[string]struct{}{}
	)

	bind := func(e syntax.Expr) {
		syntax.Walk(e, func(n syntax.Node) bool {
			if id, ok := n.(*syntax.Ident); ok {
				defined[id.Name] = struct{}{}
			}
			return true
		})
	}

	bindParams := func(params []syntax.Expr) {
		for _, p := range params {
			switch p := p.(type) {
			case *syntax.Ident:
				defined[p.Name] = struct{}{}
			case *syntax.BinaryExpr: // name=default
				if id, ok := p.X.(*syntax.Ident); ok {
					defined[id.Name] = struct{}{}
				}
			case *syntax.UnaryExpr: // *args, **kwargs
				if id, ok := p.X.(*syntax.Ident); ok {
					defined[id.Name] = struct{}{}
				}
			}
		}
	}

	syntax.Walk(f, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.LoadStmt:
			input.Loads = append(input.Loads, n.Module.Value.(string))
		case *syntax.DefStmt:
			defined[n.Name.Name] = struct{}{}
			bindParams(n.Params)
		case *syntax.LambdaExpr:
			bindParams(n.Params)
		case *syntax.AssignStmt:
			bind(n.LHS)
		case *syntax.ForStmt:
			bind(n.Vars)
		case *syntax.ForClause:
			bind(n.Vars)
		case *syntax.CallExpr:
			switch fn := n.Fn.(type) {
			case *syntax.Ident:
				calls[fn.Name] = struct{}{}
			case *syntax.DotExpr:
				// methods on values are allowed; only module members are checked
				if x, ok := fn.X.(*syntax.Ident); ok && x.Name == "math" {
					calls["math."+fn.Name.Name] = struct{}{}
				}
			}
		case *syntax.Ident:
			idents[n.Name] = struct{}{}
		case *syntax.DotExpr:
			idents[n.Name.Name] = struct{}{}
		}
		return true
	})

	input.Calls = sortedKeys(calls)
	input.Defined = sortedKeys(defined)
	input.Identifiers = sortedKeys(idents)
	return input
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
