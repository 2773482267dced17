package coder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/llmclient"
	"github.com/aurelia-run/aurelia/internal/sandbox"
	"github.com/aurelia-run/aurelia/internal/toolserver"
)

type fakeSandbox struct{}

func (fakeSandbox) Run(context.Context, sandbox.Spec) (sandbox.Result, error) {
	return sandbox.Result{ExitCode: 0, Stdout: "ok"}, nil
}

func newTools(t *testing.T) *toolserver.Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &toolserver.Server{WorktreePath: dir, Sandbox: fakeSandbox{}}
}

func TestRunFinishesOnFinishTool(t *testing.T) {
	llm := llmclient.NewMockClient(
		llmclient.Response{ToolCalls: []llmclient.ToolCall{{Name: "read_file", Args: map[string]any{"path": "a.txt"}}}},
		llmclient.Response{ToolCalls: []llmclient.ToolCall{{Name: "finish", Args: map[string]any{"summary": "done"}}}},
	)
	c := &Coder{LLM: llm, Tools: newTools(t), MaxTurns: 5}
	res, err := c.Run(context.Background(), "sys", "fix the bug")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary != "done" {
		t.Errorf("Summary = %q", res.Summary)
	}
	if res.Turns != 2 {
		t.Errorf("Turns = %d, want 2", res.Turns)
	}
}

func TestRunFinishesOnPlainTextReply(t *testing.T) {
	llm := llmclient.NewMockClient(llmclient.Response{Content: "I believe this is already correct."})
	c := &Coder{LLM: llm, Tools: newTools(t), MaxTurns: 5}
	res, err := c.Run(context.Background(), "sys", "fix the bug")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary != "I believe this is already correct." {
		t.Errorf("Summary = %q", res.Summary)
	}
}

func TestRunRecordsLLMCallEventPerChatTurn(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := eventlog.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = log.Close() })

	tools := newTools(t)
	tools.Log = log
	tools.CandidateID = 7

	llm := llmclient.NewMockClient(
		llmclient.Response{
			ToolCalls: []llmclient.ToolCall{{Name: "finish", Args: map[string]any{"summary": "done"}}},
			Usage:     llmclient.Usage{TokensIn: 100, TokensOut: 20, Cached: true},
		},
	)
	c := &Coder{LLM: llm, Tools: tools, MaxTurns: 5}
	if _, err := c.Run(context.Background(), "sys", "fix the bug"); err != nil {
		t.Fatal(err)
	}

	events, err := log.ScanFrom(0)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range events {
		if e.Kind != eventlog.LLMCall {
			continue
		}
		found = true
		if *e.CandidateID != 7 {
			t.Errorf("candidate_id = %d, want 7", *e.CandidateID)
		}
		if e.Payload["tokens_in"].(float64) != 100 || e.Payload["tokens_out"].(float64) != 20 {
			t.Errorf("unexpected token payload: %+v", e.Payload)
		}
		if e.Payload["cached"] != true {
			t.Errorf("cached = %v, want true", e.Payload["cached"])
		}
	}
	if !found {
		t.Error("expected an llm_call event")
	}
}

func TestRunExceedsTurnBudget(t *testing.T) {
	llm := llmclient.NewMockClient(
		llmclient.Response{ToolCalls: []llmclient.ToolCall{{Name: "read_file", Args: map[string]any{"path": "a.txt"}}}},
	)
	c := &Coder{LLM: llm, Tools: newTools(t), MaxTurns: 2}
	_, err := c.Run(context.Background(), "sys", "fix the bug")
	if err == nil {
		t.Fatal("expected a turn-budget error")
	}
}
