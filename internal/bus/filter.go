package bus

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/relaybus/relay/internal/backend"
)

// celFilter wraps a compiled CEL program evaluated per delivery. When
// disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("channel_id", cel.IntType),
		cel.Variable("global_id", cel.IntType),
		cel.Variable("user_id", cel.IntType),
		cel.Variable("has_user", cel.BoolType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression for an identity/message pair.
// Evaluation errors deny delivery.
func (f celFilter) Eval(ident Identity, msg backend.Message) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(msg.Data, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"channel":    msg.Channel,
		"channel_id": int64(msg.ChannelID),
		"global_id":  int64(msg.GlobalID),
		"user_id":    ident.UserID,
		"has_user":   ident.HasUser,
		"text":       string(msg.Data),
		"json":       jsonObj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
