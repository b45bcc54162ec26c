package root

import (
	"cmp"

	"github.com/spf13/cobra"

	"github.com/nvimtools/copilot-agent/pkg/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API for the editor plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			rt, store, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			addr := cmp.Or(listenAddr, cfg.Server.Addr)
			return server.New(rt, store).Serve(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (overrides the config file)")

	return cmd
}
