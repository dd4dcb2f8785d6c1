// Package coretools registers the baseline shell and filesystem tools.
// All file access is confined to the workspace root; shell commands go
// through the approval collaborator before they run.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nadhif/lira/pkg/approval"
	"github.com/nadhif/lira/pkg/tool"
)

const defaultReadLimit = 200_000

// Options configures core tool registration
type Options struct {
	WorkspaceRoot string
	Approvals     *approval.Manager
}

// Register adds the exec, read_file, write_file and edit_file tools
func Register(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if opts.WorkspaceRoot == "" {
		return errors.New("workspace root is required")
	}

	tools := []tool.Definition{
		execTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
	}

	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func execTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "exec",
		Description: "Execute a shell command in the workspace. Requires user approval unless the command was previously approved.",
		Parameters: []tool.Parameter{
			{Name: "command", Type: "string", Description: "Shell command to execute", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace", Required: false},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds (default 30)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return &tool.Result{Success: false, Output: "command is required"}, nil
			}

			cwd := opts.WorkspaceRoot
			if raw, ok := args["cwd"].(string); ok && raw != "" {
				resolved, err := resolveInWorkspace(opts.WorkspaceRoot, raw)
				if err != nil {
					return &tool.Result{Success: false, Output: err.Error()}, nil
				}
				cwd = resolved
			}

			if opts.Approvals != nil {
				approved, err := opts.Approvals.Approve(ctx, approval.Request{
					Command: command,
					Cwd:     cwd,
				})
				if err != nil {
					return &tool.Result{
						Success: false,
						Output:  fmt.Sprintf("approval failed: %v", err),
					}, nil
				}
				if !approved {
					return &tool.Result{
						Success: false,
						Output:  "command was not approved by the user",
					}, nil
				}
			}

			timeout := 30 * time.Second
			if raw, ok := args["timeout"].(float64); ok && raw > 0 {
				timeout = time.Duration(raw * float64(time.Second))
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
			cmd.Dir = cwd
			output, err := cmd.CombinedOutput()

			text := strings.TrimRight(string(output), "\n")
			if err != nil {
				if runCtx.Err() == context.DeadlineExceeded {
					return &tool.Result{
						Success: false,
						Output:  fmt.Sprintf("%s\ncommand timed out after %v", text, timeout),
					}, nil
				}
				// Non-zero exit is an expected failure mode, reported
				// through the success flag for the model to react to
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("%s\n%v", text, err),
				}, nil
			}

			return &tool.Result{Success: true, Output: text}, nil
		},
	}
}

func readFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Required: false, Default: defaultReadLimit},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			path, _ := args["path"].(string)
			target, err := resolveInWorkspace(opts.WorkspaceRoot, path)
			if err != nil {
				return &tool.Result{Success: false, Output: err.Error()}, nil
			}

			limit := int64(defaultReadLimit)
			if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to read file: %v", err),
				}, nil
			}

			truncated := false
			if int64(len(data)) > limit {
				data = data[:limit]
				truncated = true
			}

			output := string(data)
			if truncated {
				output += "\n... [file truncated]"
			}
			return &tool.Result{Success: true, Output: output}, nil
		},
	}
}

func writeFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			path, _ := args["path"].(string)
			target, err := resolveInWorkspace(opts.WorkspaceRoot, path)
			if err != nil {
				return &tool.Result{Success: false, Output: err.Error()}, nil
			}

			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to create directory: %v", err),
				}, nil
			}

			flags := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}

			file, err := os.OpenFile(target, flags, 0644)
			if err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to open file: %v", err),
				}, nil
			}
			defer file.Close()

			if _, err := file.WriteString(content); err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to write file: %v", err),
				}, nil
			}

			return &tool.Result{
				Success: true,
				Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
			}, nil
		},
	}
}

func editFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "edit_file",
		Description: "Replace an exact text fragment in a workspace file. The fragment must occur exactly once.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "old_text", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			path, _ := args["path"].(string)
			target, err := resolveInWorkspace(opts.WorkspaceRoot, path)
			if err != nil {
				return &tool.Result{Success: false, Output: err.Error()}, nil
			}

			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			if oldText == "" {
				return &tool.Result{Success: false, Output: "old_text cannot be empty"}, nil
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to read file: %v", err),
				}, nil
			}

			content := string(data)
			count := strings.Count(content, oldText)
			if count == 0 {
				return &tool.Result{Success: false, Output: "old_text not found in file"}, nil
			}
			if count > 1 {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("old_text occurs %d times, it must be unique", count),
				}, nil
			}

			updated := strings.Replace(content, oldText, newText, 1)
			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return &tool.Result{
					Success: false,
					Output:  fmt.Sprintf("failed to write file: %v", err),
				}, nil
			}

			return &tool.Result{Success: true, Output: fmt.Sprintf("edited %s", path)}, nil
		},
	}
}
