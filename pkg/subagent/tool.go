package subagent

import (
	"context"
	"fmt"

	"agentd/pkg/tools"
)

// SpawnTool exposes the supervisor to conversations as a callable tool, so a
// model can delegate bounded sub-tasks.
type SpawnTool struct {
	supervisor *Supervisor
}

var _ tools.Tool = (*SpawnTool)(nil)

// NewSpawnTool creates the spawn tool over a supervisor.
func NewSpawnTool(supervisor *Supervisor) *SpawnTool {
	return &SpawnTool{supervisor: supervisor}
}

// Name implements tools.Tool.
func (t *SpawnTool) Name() string {
	return "spawn_subagent"
}

// Definition implements tools.Tool.
func (t *SpawnTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "spawn_subagent",
		Description: "Run an isolated sub-agent on a self-contained task and return its result. Rejects when too many sub-agents are already running.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"task": {
					Type:        "string",
					Description: "Self-contained task description for the sub-agent",
				},
				"system_prompt": {
					Type:        "string",
					Description: "Optional system prompt override",
				},
			},
			Required: []string{"task"},
		},
	}
}

// Exec implements tools.Tool.
func (t *SpawnTool) Exec(ctx context.Context, args map[string]any) (*tools.Result, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return tools.NewErrorResult("task is required"), nil
	}
	systemPrompt, _ := args["system_prompt"].(string)

	result, err := t.supervisor.Spawn(ctx, Request{
		Task:         task,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.NewErrorResult("%v", err), nil
	}
	if !result.Success {
		return tools.NewErrorResult("sub-agent %s failed: %s", result.SessionID, result.Error), nil
	}
	return tools.NewResult(fmt.Sprintf("sub-agent %s completed:\n%s", result.SessionID, result.Content)), nil
}
