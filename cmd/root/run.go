package root

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvimtools/copilot-agent/pkg/runtime"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var sessionID, participant string

	cmd := &cobra.Command{
		Use:   "run <tool> [input-json]",
		Short: "Execute a tool and let the agent iterate on the result",
		Long: `Execute the named tool with the given JSON input, then hand the output to
the model, which may issue further tool calls until it settles on a final
analysis.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			rt, store, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			call := runtime.AgentCall{
				Tool:        args[0],
				SessionID:   sessionID,
				Participant: participant,
			}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("tool input is not valid JSON: %s", args[1])
				}
				call.Input = json.RawMessage(args[1])
			}

			result, err := rt.ExecuteAutonomously(cmd.Context(), call)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Text())
			if flags.debugMode {
				fmt.Fprintf(cmd.ErrOrStderr(), "stopped=%s iterations=%d actions=%d\n",
					result.Stopped, result.Iterations, len(result.Actions))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID for conversation history")
	cmd.Flags().StringVar(&participant, "participant", "", "Participant name recorded with the request")

	return cmd
}
