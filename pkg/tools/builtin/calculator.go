// Package builtin provides the tools shipped with the agent: a calculator,
// a clock and workspace information. They are intentionally small; their job
// is to give the model something real to call.
package builtin

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"

	"github.com/nvimtools/copilot-agent/pkg/tools"
)

const ToolNameCalculator = "calculate"

// Only arithmetic: digits, operators, parentheses, exponent notation and
// Math.* calls. Anything else is rejected before it reaches the VM.
var calculatorExprRe = regexp.MustCompile(`^[0-9+\-*/%().,\s eE]*(Math\.[a-zA-Z]+\([0-9+\-*/%().,\s eE]*\)[0-9+\-*/%().,\s eE]*)*$`)

const calculatorTimeout = 2 * time.Second

type CalculatorArgs struct {
	Expression string `json:"expression" jsonschema:"The arithmetic expression to evaluate, e.g. (2+3)*4 or Math.sqrt(16)"`
}

func NewCalculatorTool() tools.Tool {
	return tools.Tool{
		Type:     "function",
		Category: "builtin",
		Function: &tools.FunctionDefinition{
			Name:        ToolNameCalculator,
			Description: "Evaluate an arithmetic expression and return the numeric result.",
			Parameters:  tools.MustSchemaFor[CalculatorArgs](),
		},
		Handler: tools.NewHandler(evaluateExpression),
	}
}

func evaluateExpression(ctx context.Context, args CalculatorArgs) (*tools.ToolCallResult, error) {
	if args.Expression == "" {
		return tools.ResultError("empty expression"), nil
	}
	if !calculatorExprRe.MatchString(args.Expression) {
		return tools.ResultError(fmt.Sprintf("unsupported expression: %q", args.Expression)), nil
	}

	vm := goja.New()

	// Interrupt the VM if the expression runs away or the caller gives up.
	evalCtx, cancel := context.WithTimeout(ctx, calculatorTimeout)
	defer cancel()
	stop := context.AfterFunc(evalCtx, func() {
		vm.Interrupt("expression evaluation timed out")
	})
	defer stop()

	value, err := vm.RunString(args.Expression)
	if err != nil {
		return tools.ResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}

	return tools.ResultSuccess(fmt.Sprintf("%s = %v", args.Expression, value.Export())), nil
}
