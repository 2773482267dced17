package llmclient

import (
	"context"
	"testing"
)

func TestParseResponsePlainText(t *testing.T) {
	res := parseResponse("Sure, here is the fix.")
	if res.Content != "Sure, here is the fix." {
		t.Errorf("Content = %q", res.Content)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %v", res.ToolCalls)
	}
}

func TestParseResponseToolCall(t *testing.T) {
	raw := `TOOL_CALL: {"tool":"read_file","args":{"path":"main.go"}}`
	res := parseResponse(raw)
	if len(res.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.Name != "read_file" {
		t.Errorf("Name = %q", tc.Name)
	}
	if tc.Args["path"] != "main.go" {
		t.Errorf("Args[path] = %v", tc.Args["path"])
	}
}

func TestParseResponseMalformedToolCallFallsBackToContent(t *testing.T) {
	raw := `TOOL_CALL: {not json}`
	res := parseResponse(raw)
	if len(res.ToolCalls) != 0 {
		t.Errorf("expected no tool calls for malformed JSON, got %v", res.ToolCalls)
	}
	if res.Content == "" {
		t.Error("expected malformed tool call to surface as content")
	}
}

func TestMockClientRepeatsFinalScriptEntry(t *testing.T) {
	m := NewMockClient(Response{Content: "first"}, Response{Content: "second"})
	ctx := context.Background()
	for i, want := range []string{"first", "second", "second", "second"} {
		res, err := m.Chat(ctx, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Content != want {
			t.Errorf("call %d: Content = %q, want %q", i, res.Content, want)
		}
	}
	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
}
