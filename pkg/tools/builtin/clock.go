package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/nvimtools/copilot-agent/pkg/tools"
)

const ToolNameClock = "current_time"

type ClockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"Optional IANA timezone name, e.g. Europe/Paris. Defaults to local time."`
}

// NewClockTool reports the current time. now is injectable for tests; pass
// nil for the real clock.
func NewClockTool(now func() time.Time) tools.Tool {
	if now == nil {
		now = time.Now
	}
	return tools.Tool{
		Type:     "function",
		Category: "builtin",
		Function: &tools.FunctionDefinition{
			Name:        ToolNameClock,
			Description: "Get the current date and time, optionally in a specific timezone.",
			Parameters:  tools.MustSchemaFor[ClockArgs](),
		},
		Handler: tools.NewHandler(func(_ context.Context, args ClockArgs) (*tools.ToolCallResult, error) {
			t := now()
			if args.Timezone != "" {
				loc, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return tools.ResultError(fmt.Sprintf("unknown timezone %q", args.Timezone)), nil
				}
				t = t.In(loc)
			}
			return tools.ResultSuccess(t.Format("Monday, 2 January 2006 15:04:05 MST")), nil
		}),
	}
}
