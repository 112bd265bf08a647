package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/pkg/models"
)

// maxReadBytes bounds read_file output. The window manager caps folded
// results far lower, so larger reads only waste context.
const maxReadBytes = 64 * 1024

// registerBuiltins installs the built-in capabilities: thin wrappers over
// the local filesystem and shell, one per permission tier, so the gate has
// something real to classify. Anything heavier belongs in its own tool.
func registerBuiltins(r *agent.Registry) error {
	for _, d := range builtinDescriptors() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func builtinDescriptors() []agent.ToolDescriptor {
	return []agent.ToolDescriptor{
		{
			Name:        "read_file",
			Description: "Read a file and return its contents, truncated past 64KiB",
			Tier:        models.TierSafe,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path to read"}
				},
				"required": ["path"]
			}`),
			Execute: execReadFile,
		},
		{
			Name:        "list_dir",
			Description: "List directory entries, one per line, directories suffixed with /",
			Tier:        models.TierSafe,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path, defaults to ."}
				}
			}`),
			Execute: execListDir,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, replacing what is there",
			Tier:        models.TierSensitive,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path to write"},
					"content": {"type": "string", "description": "Full file content"}
				},
				"required": ["path", "content"]
			}`),
			Execute: execWriteFile,
		},
		{
			Name:        "run_command",
			Description: "Run a shell command and return its combined output",
			Tier:        models.TierDangerous,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Command passed to sh -c"}
				},
				"required": ["command"]
			}`),
			Execute: execRunCommand,
		},
	}
}

func execReadFile(_ context.Context, input json.RawMessage) (*agent.ToolOutcome, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(params.Path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n...[truncated]"
	}
	return &agent.ToolOutcome{Content: content}, nil
}

func execListDir(_ context.Context, input json.RawMessage) (*agent.ToolOutcome, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, err
	}
	if params.Path == "" {
		params.Path = "."
	}

	entries, err := os.ReadDir(params.Path)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Name())
		if entry.IsDir() {
			b.WriteString("/")
		}
		b.WriteString("\n")
	}
	return &agent.ToolOutcome{Content: b.String()}, nil
}

func execWriteFile(_ context.Context, input json.RawMessage) (*agent.ToolOutcome, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, err
	}

	if err := os.WriteFile(params.Path, []byte(params.Content), 0o644); err != nil {
		return nil, err
	}
	return &agent.ToolOutcome{
		Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path),
	}, nil
}

func execRunCommand(ctx context.Context, input json.RawMessage) (*agent.ToolOutcome, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, err
	}

	// The executor's per-attempt timeout bounds the command through ctx.
	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return nil, fmt.Errorf("%w: %s", err, trimmed)
		}
		return nil, err
	}
	return &agent.ToolOutcome{Content: string(output)}, nil
}
