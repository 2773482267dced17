// Package llmclient abstracts the chat capability the Coder Stage drives
// (spec §4.7 "LLM Client": "chat(messages, tools) -> response").
//
// The interface shape is grounded on maruel-caic/internal/agent/backend.go's
// Backend interface (an agent-agnostic capability the rest of the system is
// written against). The real implementation is grounded on
// maruel-caic/internal/server/titlegen.go, the only place in the teacher
// that actually drives github.com/maruel/genai: a genai.Provider obtained
// from providers.All, invoked with GenSync(ctx, genai.Messages, *genai.GenOptionText).
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the speaker of a Message.
type Role string

// Roles in a chat transcript.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation passed to Chat.
type Message struct {
	Role    Role
	Content string
	// ToolName and ToolCallID are set on RoleTool messages reporting a tool
	// result back to the model.
	ToolName   string
	ToolCallID string
}

// ToolSchema describes one tool the model may call (spec §4.6/§4.7).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolCall is a single tool invocation the model requested.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Usage reports the token accounting for one Chat call (spec §3 llm_call
// event: tokens_in, tokens_out, cached). Implementations that cannot
// determine usage leave it zero-valued.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	Cached    bool
}

// Response is the model's reply to one Chat call. Exactly one of Content or
// ToolCalls is meaningful for a given turn: a model either answers in text
// or asks to invoke tools (spec §4.7).
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client is the capability the Coder Stage depends on. Implementations must
// be safe for sequential use within one candidate's coding loop; they need
// not be goroutine-safe (spec §5: one candidate, one goroutine).
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSchema) (Response, error)
}

// toolCallEnvelope is the structured-output shape the prompt asks the model
// to emit when it wants to call a tool, since genai.Provider.GenSync (the
// only genai entry point the teacher exercises) returns plain text rather
// than a native tool-call struct.
type toolCallEnvelope struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

const toolCallPrefix = "TOOL_CALL:"

// buildSystemPrompt appends tool schemas and the structured-output
// convention to a base system prompt.
func buildSystemPrompt(base string, tools []ToolSchema) string {
	if len(tools) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nYou may call the following tools. To call one, reply with a single line of the form:\n")
	b.WriteString(toolCallPrefix)
	b.WriteString(` {"tool":"<name>","args":{...}}`)
	b.WriteString("\nand nothing else. Otherwise, reply normally in plain text.\n\nAvailable tools:\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, params)
	}
	return b.String()
}

// parseResponse splits a raw model reply into plain content or a tool call,
// per the convention buildSystemPrompt establishes.
func parseResponse(raw string) Response {
	trimmed := strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(trimmed, toolCallPrefix)
	if !ok {
		return Response{Content: trimmed}
	}
	var env toolCallEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &env); err != nil {
		// Malformed tool call: surface the raw reply as content. The Coder
		// Stage treats a reply with no tool calls as the end of its loop, so
		// a malformed call ends coding rather than being retried.
		return Response{Content: trimmed}
	}
	return Response{ToolCalls: []ToolCall{{Name: env.Tool, Args: env.Args}}}
}
