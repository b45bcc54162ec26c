package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvimtools/copilot-agent/pkg/tools"
)

const ToolNameWorkspace = "workspace_info"

type WorkspaceArgs struct{}

// NewWorkspaceTool describes the workspace the editor is attached to.
func NewWorkspaceTool(root string) tools.Tool {
	return tools.Tool{
		Type:     "function",
		Category: "builtin",
		Function: &tools.FunctionDefinition{
			Name:        ToolNameWorkspace,
			Description: "Get information about the current workspace: root directory, entry count and version control status.",
			Parameters:  tools.MustSchemaFor[WorkspaceArgs](),
		},
		Handler: tools.NewHandler(func(_ context.Context, _ WorkspaceArgs) (*tools.ToolCallResult, error) {
			return describeWorkspace(root)
		}),
	}
}

func describeWorkspace(root string) (*tools.ToolCallResult, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return tools.ResultError(fmt.Sprintf("cannot determine workspace root: %v", err)), nil
		}
		root = wd
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return tools.ResultError(fmt.Sprintf("cannot read workspace %s: %v", root, err)), nil
	}

	var dirs, files int
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		} else {
			files++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workspace: %s\n", root)
	fmt.Fprintf(&sb, "Top-level entries: %d directories, %d files\n", dirs, files)
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		sb.WriteString("Version control: git\n")
	}
	return tools.ResultSuccess(sb.String()), nil
}
