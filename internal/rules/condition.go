// Package rules provides the restricted condition language and the rule
// evaluation engine.
package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Rule conditions are user-authored at runtime and stored as text, so the
// compiler is a security boundary: the expression is parsed into an AST and
// every node is checked against a static allow-list before a program is
// built. Nothing outside the allow-list ever reaches evaluation.

// allowedFunctions is the fixed function set available to rule authors.
var allowedFunctions = map[string]bool{
	"abs":   true,
	"min":   true,
	"max":   true,
	"sum":   true,
	"len":   true,
	"str":   true,
	"int":   true,
	"float": true,
	"bool":  true,
	"list":  true,
	"dict":  true,
	"round": true,
}

// allowedOperators are the expression operators the grammar may use.
// Comprehension-producing macros are cleared from the environment, so no
// looping construct is reachable.
var allowedOperators = map[string]bool{
	operators.LogicalAnd:    true,
	operators.LogicalOr:     true,
	operators.LogicalNot:    true,
	operators.Equals:        true,
	operators.NotEquals:     true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	operators.Add:           true,
	operators.Subtract:      true,
	operators.Multiply:      true,
	operators.Divide:        true,
	operators.Modulo:        true,
	operators.Negate:        true,
	operators.Index:         true,
	operators.Conditional:   true,
	operators.In:            true,
}

// transactionVar is the single record a condition may reference.
const transactionVar = "transaction"

// Compiler parses and validates rule condition text.
type Compiler struct {
	env *cel.Env
}

// CompiledCondition is a validated, executable rule condition.
type CompiledCondition struct {
	Source  string
	program cel.Program
}

// NewCompiler builds the condition environment: one implicit `transaction`
// record plus the allow-listed helper functions.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.ClearMacros(),
		cel.CrossTypeNumericComparisons(true),
		cel.Variable(transactionVar, cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("abs",
			cel.Overload("abs_num", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(absFn))),
		cel.Function("min",
			cel.Overload("min_num_num", []*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(minFn))),
		cel.Function("max",
			cel.Overload("max_num_num", []*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(maxFn))),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DoubleType,
				cel.UnaryBinding(sumFn))),
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(lenFn))),
		cel.Function("str",
			cel.Overload("str_dyn", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(strFn))),
		cel.Function("float",
			cel.Overload("float_dyn", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(floatFn))),
		cel.Function("round",
			cel.Overload("round_num", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(roundFn)),
			cel.Overload("round_num_int", []*cel.Type{cel.DynType, cel.IntType}, cel.DoubleType,
				cel.BinaryBinding(roundDigitsFn))),
		cel.Function("list",
			cel.Overload("list_dyn", []*cel.Type{cel.DynType}, cel.ListType(cel.DynType),
				cel.UnaryBinding(listFn))),
		cel.Function("dict",
			cel.Overload("dict_dyn", []*cel.Type{cel.DynType}, cel.MapType(cel.StringType, cel.DynType),
				cel.UnaryBinding(dictFn))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Validate checks a condition source without building a program. The error
// string is user-facing; Validate never panics past the boundary.
func (c *Compiler) Validate(source string) (bool, string) {
	if _, err := c.Compile(source); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Compile parses, type-checks, and allow-list-verifies a condition, then
// builds an interruptible program for it.
func (c *Compiler) Compile(source string) (*CompiledCondition, error) {
	if source == "" {
		return nil, fmt.Errorf("condition is empty")
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition: %v", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must evaluate to a boolean, got %s", ast.OutputType())
	}

	if err := checkAllowList(ast.NativeRep().Expr()); err != nil {
		return nil, err
	}

	program, err := c.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to build condition program: %w", err)
	}

	return &CompiledCondition{Source: source, program: program}, nil
}

// Eval runs the condition against a flattened transaction record. The
// returned value is the raw evaluation result for the audit trail.
// Evaluation is interruptible via ctx.
func (cc *CompiledCondition) Eval(ctx context.Context, record map[string]interface{}) (interface{}, bool, error) {
	out, _, err := cc.program.ContextEval(ctx, map[string]interface{}{
		transactionVar: record,
	})
	if err != nil {
		return nil, false, err
	}

	b, ok := out.(types.Bool)
	if !ok {
		return out.Value(), false, fmt.Errorf("condition produced non-boolean value")
	}
	return out.Value(), bool(b), nil
}

// checkAllowList walks the checked AST and rejects every construct outside
// the allow-list: free variables other than `transaction`, calls to
// functions outside the fixed set, method/receiver calls, comprehensions,
// and message construction.
func checkAllowList(root celast.Expr) error {
	var violation error
	reject := func(format string, args ...interface{}) {
		if violation == nil {
			violation = fmt.Errorf(format, args...)
		}
	}

	celast.PostOrderVisit(root, celast.NewExprVisitor(func(e celast.Expr) {
		switch e.Kind() {
		case celast.IdentKind:
			if name := e.AsIdent(); name != transactionVar {
				reject("unknown identifier %q: only %q may be referenced", name, transactionVar)
			}
		case celast.CallKind:
			call := e.AsCall()
			if call.IsMemberFunction() {
				reject("method call %q is not allowed", call.FunctionName())
				return
			}
			fn := call.FunctionName()
			if !allowedOperators[fn] && !allowedFunctions[fn] {
				reject("function %q is not allowed", fn)
			}
		case celast.ComprehensionKind:
			reject("comprehensions are not allowed in rule conditions")
		case celast.StructKind:
			reject("message construction is not allowed in rule conditions")
		}
	}))

	return violation
}

// Helper function bindings. Each returns a CEL error value on a bad
// argument; those surface as per-rule evaluation errors, never panics.

func numArg(fn string, v ref.Val) (float64, ref.Val) {
	switch x := v.(type) {
	case types.Double:
		return float64(x), nil
	case types.Int:
		return float64(x), nil
	case types.Uint:
		return float64(x), nil
	default:
		return 0, types.NewErr("%s: numeric argument required, got %s", fn, v.Type().TypeName())
	}
}

func absFn(v ref.Val) ref.Val {
	n, errVal := numArg("abs", v)
	if errVal != nil {
		return errVal
	}
	return types.Double(math.Abs(n))
}

func minFn(a, b ref.Val) ref.Val {
	x, errVal := numArg("min", a)
	if errVal != nil {
		return errVal
	}
	y, errVal := numArg("min", b)
	if errVal != nil {
		return errVal
	}
	return types.Double(math.Min(x, y))
}

func maxFn(a, b ref.Val) ref.Val {
	x, errVal := numArg("max", a)
	if errVal != nil {
		return errVal
	}
	y, errVal := numArg("max", b)
	if errVal != nil {
		return errVal
	}
	return types.Double(math.Max(x, y))
}

func sumFn(v ref.Val) ref.Val {
	lister, ok := v.(traits.Lister)
	if !ok {
		return types.NewErr("sum: list argument required, got %s", v.Type().TypeName())
	}
	var total float64
	it := lister.Iterator()
	for it.HasNext() == types.True {
		n, errVal := numArg("sum", it.Next())
		if errVal != nil {
			return errVal
		}
		total += n
	}
	return types.Double(total)
}

func lenFn(v ref.Val) ref.Val {
	sizer, ok := v.(traits.Sizer)
	if !ok {
		return types.NewErr("len: argument has no length, got %s", v.Type().TypeName())
	}
	return sizer.Size()
}

func strFn(v ref.Val) ref.Val {
	return types.String(fmt.Sprintf("%v", v.Value()))
}

func floatFn(v ref.Val) ref.Val {
	switch x := v.(type) {
	case types.Double:
		return x
	case types.Int:
		return types.Double(x)
	case types.Uint:
		return types.Double(x)
	case types.String:
		var f float64
		if _, err := fmt.Sscanf(string(x), "%g", &f); err != nil {
			return types.NewErr("float: cannot parse %q", string(x))
		}
		return types.Double(f)
	default:
		return types.NewErr("float: cannot convert %s", v.Type().TypeName())
	}
}

func roundFn(v ref.Val) ref.Val {
	n, errVal := numArg("round", v)
	if errVal != nil {
		return errVal
	}
	return types.Double(math.Round(n))
}

func roundDigitsFn(v, digits ref.Val) ref.Val {
	n, errVal := numArg("round", v)
	if errVal != nil {
		return errVal
	}
	d, ok := digits.(types.Int)
	if !ok {
		return types.NewErr("round: digits must be an integer")
	}
	pow := math.Pow(10, float64(d))
	return types.Double(math.Round(n*pow) / pow)
}

func listFn(v ref.Val) ref.Val {
	if _, ok := v.(traits.Lister); ok {
		return v
	}
	return types.DefaultTypeAdapter.NativeToValue([]interface{}{v.Value()})
}

func dictFn(v ref.Val) ref.Val {
	if _, ok := v.(traits.Mapper); ok {
		return v
	}
	return types.NewErr("dict: map argument required, got %s", v.Type().TypeName())
}
