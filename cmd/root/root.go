// Package root wires the copilot-agent CLI: one-shot agent runs, direct
// chat, the local API server and model listing.
package root

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvimtools/copilot-agent/pkg/logging"
)

type rootFlags struct {
	configPath  string
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "copilot-agent",
		Short: "copilot-agent - autonomous Copilot tool runner",
		Long:  "copilot-agent runs editor tool calls through an autonomous Copilot-backed loop",
		Example: `  copilot-agent run current_time
  copilot-agent run calculate '{"expression": "6 * 7"}'
  copilot-agent serve`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			closer, err := logging.Setup(flags.debugMode, flags.logPath())
			if err != nil {
				// Keep going with stderr logging rather than failing the command.
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
				slog.Warn("Failed to set up log file", "error", err)
				return nil
			}
			flags.logFile = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if flags.logFile != nil {
				return flags.logFile.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "Path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Write logs to this file instead of stderr")

	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newChatCmd(&flags))
	cmd.AddCommand(newServeCmd(&flags))
	cmd.AddCommand(newModelsCmd(&flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// logPath resolves where logs go. The --log-file flag wins; the config file
// is consulted lazily by each command, so only the flag matters here.
func (f *rootFlags) logPath() string {
	return f.logFilePath
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "copilot-agent.yaml"
	}
	return filepath.Join(home, ".config", "copilot-agent", "config.yaml")
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	cmd := NewRootCmd()
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
