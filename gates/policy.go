package gates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ggoodman/streamrpc-go/rpcservice"
)

// Policy compiles a CEL expression that must evaluate to true for a request
// to proceed. The expression sees:
//
//	method  string  qualified method name
//	args    list    wire arguments
//	session string  session id
//	conn    dyn     connection value, as its JSON form
//
// Compile errors are returned here rather than at request time.
func Policy(expr string) (rpcservice.Middleware, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty policy expression")
	}
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("args", cel.ListType(cel.DynType)),
		cel.Variable("session", cel.StringType),
		cel.Variable("conn", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid policy: %w", iss.Err())
	}
	if out := ast.OutputType(); !out.IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("invalid policy: expression yields %s, want bool", out)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, req *rpcservice.Request) error {
		out, _, err := prog.ContextEval(ctx, map[string]any{
			"method":  req.Method,
			"args":    jsonValue(req.Args, []any{}),
			"session": req.SessionID,
			"conn":    jsonValue(req.Conn, nil),
		})
		if err != nil {
			return errors.Join(ErrPolicyDenied, err)
		}
		if ok, _ := out.Value().(bool); !ok {
			return ErrPolicyDenied
		}
		return nil
	}, nil
}

// jsonValue normalizes v into plain maps, lists and scalars so CEL can
// inspect arbitrary connection and argument values.
func jsonValue(v any, fallback any) any {
	if v == nil {
		return fallback
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return fallback
	}
	return out
}
