package root

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvimtools/copilot-agent/pkg/runtime"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var sessionID, participant string

	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Send a direct chat message without tool execution",
		Args:  cobra.MinimumNArgs(1),
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

			result, err := rt.SendDirectMessage(cmd.Context(), runtime.DirectMessage{
				Content:     strings.Join(args, " "),
				SessionID:   sessionID,
				Participant: participant,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Text())
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID for conversation history")
	cmd.Flags().StringVar(&participant, "participant", "", "Participant name recorded with the request")

	return cmd
}
