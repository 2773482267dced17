// Package coder implements the Coder Stage: an LLM-driven edit loop against
// one candidate's worktree (spec §4.9 "Coder Stage").
//
// Grounded on maruel-caic/internal/task/runner.go's Start/Kill turn-taking
// shape (launch an agent session, feed it a prompt, let it run to
// completion or budget exhaustion) generalized from a concrete coding-agent
// CLI into the abstracted llmclient.Client + toolserver.Server pair.
package coder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/llmclient"
	"github.com/aurelia-run/aurelia/internal/toolserver"
)

// Argument shapes for the four tools available to every coder turn (spec
// §4.6). Schemas are reflected from these structs rather than hand-written,
// so the documented tags below are the single source of truth for what the
// model is told it may pass.
type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path to the file, relative to the worktree root."`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path to the file, relative to the worktree root."`
	Content string `json:"content" jsonschema:"required,description=The file's new, complete contents."`
}

type runCommandArgs struct {
	Command []string `json:"command" jsonschema:"required,description=Argv to execute inside the sandbox, e.g. [\"go\"\\, \"test\"\\, \"./...\"]."`
}

type finishArgs struct {
	Summary string `json:"summary" jsonschema:"required,description=A short summary of the change made this turn."`
}

func reflectParams(v any) map[string]any {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("coder: reflecting tool schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("coder: decoding reflected tool schema: %v", err))
	}
	return out
}

var toolSchemas = []llmclient.ToolSchema{
	{
		Name:        "read_file",
		Description: "Read a file's contents, given a path relative to the worktree root.",
		Parameters:  reflectParams(&readFileArgs{}),
	},
	{
		Name:        "write_file",
		Description: "Overwrite a file with new contents, given a path relative to the worktree root.",
		Parameters:  reflectParams(&writeFileArgs{}),
	},
	{
		Name:        "run_command",
		Description: "Run a command inside the sandbox, given an argv array.",
		Parameters:  reflectParams(&runCommandArgs{}),
	},
	{
		Name:        "finish",
		Description: "Declare the coding task complete and summarize the change.",
		Parameters:  reflectParams(&finishArgs{}),
	},
}

// Coder drives one candidate's edit loop.
type Coder struct {
	LLM      llmclient.Client
	Tools    *toolserver.Server
	MaxTurns int
}

// Result summarizes how the coding loop ended.
type Result struct {
	Summary string
	Turns   int
}

// Run drives the turn loop until the model calls "finish", replies with no
// tool calls, or MaxTurns is exhausted (spec §4.9 invariant: a coder that never finishes is a
// candidate-scoped failure, not an engine fault).
func (c *Coder) Run(ctx context.Context, systemPrompt, taskPrompt string) (Result, error) {
	messages := []llmclient.Message{
		{Role: llmclient.RoleUser, Content: taskPrompt},
	}
	_ = systemPrompt // folded into the LLM client's own system prompt, kept here for call-site clarity.

	for turn := 1; turn <= c.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return Result{}, errs.Wrap(errs.CoderToolError, "coder loop canceled", ctx.Err())
		default:
		}

		res, err := c.LLM.Chat(ctx, messages, toolSchemas)
		if err != nil {
			return Result{}, errs.Wrap(errs.CoderToolError, "llm chat failed", err)
		}
		c.logLLMCall(res)

		if len(res.ToolCalls) == 0 {
			return Result{Summary: res.Content, Turns: turn}, nil
		}

		messages = append(messages, llmclient.Message{Role: llmclient.RoleAssistant, Content: res.Content})

		for _, tc := range res.ToolCalls {
			if tc.Name == "finish" {
				summary, _ := tc.Args["summary"].(string)
				return Result{Summary: summary, Turns: turn}, nil
			}

			toolRes, err := c.Tools.Dispatch(ctx, toolserver.Call{Name: tc.Name, Args: tc.Args})
			if err != nil {
				return Result{}, errs.Wrap(errs.CoderToolError, fmt.Sprintf("tool %q failed", tc.Name), err)
			}
			messages = append(messages, llmclient.Message{
				Role:     llmclient.RoleTool,
				ToolName: tc.Name,
				Content:  toolRes.Content,
			})
		}
	}

	return Result{}, errs.New(errs.CoderTurnBudget, fmt.Sprintf("coder exceeded %d turns without finishing", c.MaxTurns))
}

// logLLMCall records an llm_call event for one Chat turn (spec §3
// llm_call(tokens_in, tokens_out, cached); §4.7), mirroring how the Tool
// Server faithfully records tool_invoked for every Dispatch call.
func (c *Coder) logLLMCall(res llmclient.Response) {
	if c.Tools == nil || c.Tools.Log == nil {
		return
	}
	cid := c.Tools.CandidateID
	_, err := c.Tools.Log.Append(eventlog.LLMCall, &cid, map[string]any{
		"tokens_in":  res.Usage.TokensIn,
		"tokens_out": res.Usage.TokensOut,
		"cached":     res.Usage.Cached,
	})
	if err != nil {
		slog.Error("coder: failed to record llm_call event", "err", err)
	}
}
