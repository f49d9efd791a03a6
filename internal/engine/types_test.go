package engine

import (
	"encoding/json"
	"testing"
)

func TestMessage_GetResultData(t *testing.T) {
	tests := []struct {
		name     string
		result   json.RawMessage
		wantNil  bool
		wantText string
	}{
		{
			name:    "empty result",
			result:  nil,
			wantNil: true,
		},
		{
			name:    "string result (error)",
			result:  json.RawMessage(`"error message"`),
			wantNil: true, // GetResultData returns nil for strings
		},
		{
			name:     "object result with text",
			result:   json.RawMessage(`{"text":"success message","session_id":"abc123"}`),
			wantNil:  false,
			wantText: "success message",
		},
		{
			name:    "invalid JSON",
			result:  json.RawMessage(`{invalid`),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Result: tt.result}
			got := msg.GetResultData()
			switch {
			case tt.wantNil:
				if got != nil {
					t.Errorf("GetResultData() = %v, want nil", got)
				}
			case got == nil:
				t.Fatalf("GetResultData() = nil, want non-nil")
			case got.Text != tt.wantText:
				t.Errorf("GetResultData().Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestMessage_GetResultString(t *testing.T) {
	tests := []struct {
		name   string
		result json.RawMessage
		want   string
	}{
		{name: "empty result", result: nil, want: ""},
		{name: "string result", result: json.RawMessage(`"error message"`), want: "error message"},
		{name: "object result", result: json.RawMessage(`{"text":"success"}`), want: ""},
		{name: "invalid JSON", result: json.RawMessage(`{invalid`), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Result: tt.result}
			got := msg.GetResultString()
			if got != tt.want {
				t.Errorf("GetResultString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_JSONParsing(t *testing.T) {
	systemJSON := `{"type":"system","session_id":"abc123","session_status":"active","model":"claude-sonnet-4-5","slash_commands":["/compact"]}`
	var systemMsg Message
	if err := json.Unmarshal([]byte(systemJSON), &systemMsg); err != nil {
		t.Fatalf("failed to parse system message: %v", err)
	}
	if systemMsg.Type != MessageTypeSystem {
		t.Errorf("Type = %q, want %q", systemMsg.Type, MessageTypeSystem)
	}
	if systemMsg.SessionID != "abc123" {
		t.Errorf("SessionID = %q, want %q", systemMsg.SessionID, "abc123")
	}
	if systemMsg.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want %q", systemMsg.Model, "claude-sonnet-4-5")
	}

	assistantJSON := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello"}],"model":"claude-3"}}`
	var assistantMsg Message
	if err := json.Unmarshal([]byte(assistantJSON), &assistantMsg); err != nil {
		t.Fatalf("failed to parse assistant message: %v", err)
	}
	if assistantMsg.Type != MessageTypeAssistant {
		t.Errorf("Type = %q, want %q", assistantMsg.Type, MessageTypeAssistant)
	}
	if assistantMsg.Message == nil {
		t.Fatal("Message is nil")
	}
	if assistantMsg.Message.Model != "claude-3" {
		t.Errorf("Message.Model = %q, want %q", assistantMsg.Message.Model, "claude-3")
	}
}

func TestControlRequest_JSONParsing(t *testing.T) {
	jsonStr := `{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls -la"},"tool_use_id":"tool123"}`
	var req ControlRequest
	if err := json.Unmarshal([]byte(jsonStr), &req); err != nil {
		t.Fatalf("failed to parse control request: %v", err)
	}
	if req.Subtype != SubtypeCanUseTool {
		t.Errorf("Subtype = %q, want %q", req.Subtype, SubtypeCanUseTool)
	}
	if req.ToolName != ToolBash {
		t.Errorf("ToolName = %q, want %q", req.ToolName, ToolBash)
	}
	if req.Input["command"] != "ls -la" {
		t.Errorf("Input[command] = %v, want %q", req.Input["command"], "ls -la")
	}
}

func TestChatMessage_GetContentBlocks(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantType  string
	}{
		{
			name:      "array of content blocks",
			content:   `[{"type":"text","text":"Hello"},{"type":"text","text":"World"}]`,
			wantCount: 2,
			wantType:  "text",
		},
		{
			name:      "single content block",
			content:   `[{"type":"thinking","thinking":"Let me think..."}]`,
			wantCount: 1,
			wantType:  "thinking",
		},
		{
			name:      "empty array",
			content:   `[]`,
			wantCount: 0,
		},
		{
			name:      "string content (not blocks)",
			content:   `"This is a string"`,
			wantCount: 0,
		},
		{
			name:      "empty content",
			content:   ``,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &ChatMessage{Content: json.RawMessage(tt.content)}
			blocks := msg.GetContentBlocks()
			if len(blocks) != tt.wantCount {
				t.Errorf("GetContentBlocks() returned %d blocks, want %d", len(blocks), tt.wantCount)
			}
			if tt.wantCount > 0 && blocks[0].Type != tt.wantType {
				t.Errorf("GetContentBlocks()[0].Type = %q, want %q", blocks[0].Type, tt.wantType)
			}
		})
	}
}

func TestChatMessage_GetContentString(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain string content",
			content: `"Hello, World!"`,
			want:    "Hello, World!",
		},
		{
			name:    "string with local-command-stdout tags",
			content: `"<local-command-stdout>Command output here</local-command-stdout>"`,
			want:    "<local-command-stdout>Command output here</local-command-stdout>",
		},
		{
			name:    "array content (not string)",
			content: `[{"type":"text","text":"Hello"}]`,
			want:    "",
		},
		{
			name:    "empty content",
			content: ``,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &ChatMessage{Content: json.RawMessage(tt.content)}
			got := msg.GetContentString()
			if got != tt.want {
				t.Errorf("GetContentString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContentBlock_GetContentString(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			name: "string content",
			json: `{"type":"tool_result","tool_use_id":"t1","content":"hello world"}`,
			want: "hello world",
		},
		{
			name: "array of text blocks",
			json: `{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]}`,
			want: "line 1\nline 2",
		},
		{
			name: "empty content",
			json: `{"type":"tool_result","tool_use_id":"t1"}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var block ContentBlock
			if err := json.Unmarshal([]byte(tt.json), &block); err != nil {
				t.Fatalf("failed to parse: %v", err)
			}
			got := block.GetContentString()
			if got != tt.want {
				t.Errorf("GetContentString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_IsReplay_IsSynthetic(t *testing.T) {
	tests := []struct {
		name          string
		json          string
		wantReplay    bool
		wantSynthetic bool
	}{
		{
			name:       "replay user message",
			json:       `{"type":"user","uuid":"abc","session_id":"sess-1","isReplay":true,"message":{"role":"user","content":"hello"}}`,
			wantReplay: true,
		},
		{
			name:          "synthetic user message",
			json:          `{"type":"user","uuid":"abc","session_id":"sess-1","isSynthetic":true,"message":{"role":"user","content":"checkpoint"}}`,
			wantSynthetic: true,
		},
		{
			name: "neither replay nor synthetic",
			json: `{"type":"user","uuid":"abc","message":{"role":"user","content":"hello"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tt.json), &msg); err != nil {
				t.Fatalf("failed to parse: %v", err)
			}
			if msg.IsReplay != tt.wantReplay {
				t.Errorf("IsReplay = %v, want %v", msg.IsReplay, tt.wantReplay)
			}
			if msg.IsSynthetic != tt.wantSynthetic {
				t.Errorf("IsSynthetic = %v, want %v", msg.IsSynthetic, tt.wantSynthetic)
			}
		})
	}
}

func TestIncomingControlResponse_JSONParsing(t *testing.T) {
	jsonStr := `{
		"subtype": "success",
		"request_id": "req-123",
		"response": {
			"commands": [
				{"name": "cost", "description": "Show cost"},
				{"name": "context", "description": "Show context"}
			],
			"agents": ["Bash", "Explore"]
		}
	}`
	var resp IncomingControlResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if resp.Subtype != "success" {
		t.Errorf("Subtype = %q, want %q", resp.Subtype, "success")
	}
	if resp.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, "req-123")
	}
	if resp.Response == nil {
		t.Fatal("Response is nil")
	}
	if len(resp.Response.Commands) != 2 {
		t.Errorf("Commands count = %d, want %d", len(resp.Response.Commands), 2)
	}
	if resp.Response.Commands[0].Name != "cost" {
		t.Errorf("Commands[0].Name = %q, want %q", resp.Response.Commands[0].Name, "cost")
	}

	errorJSON := `{"subtype": "error", "request_id": "req-456", "error": "Something went wrong"}`
	var errorResp IncomingControlResponse
	if err := json.Unmarshal([]byte(errorJSON), &errorResp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	if errorResp.Subtype != "error" {
		t.Errorf("Subtype = %q, want %q", errorResp.Subtype, "error")
	}
	if errorResp.Error != "Something went wrong" {
		t.Errorf("Error = %q, want %q", errorResp.Error, "Something went wrong")
	}
}

func TestMessage_TotalCostUSD(t *testing.T) {
	jsonStr := `{"type":"result","total_cost_usd":0.123,"session_id":"sess-1"}`
	var msg Message
	if err := json.Unmarshal([]byte(jsonStr), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if msg.CostUSD != 0.123 {
		t.Errorf("CostUSD = %f, want %f", msg.CostUSD, 0.123)
	}
}

func TestSDKControlRequestBody_MaxThinkingTokens(t *testing.T) {
	zero := 0
	body := SDKControlRequestBody{
		Subtype:           SubtypeSetMaxThinkingTokens,
		MaxThinkingTokens: &zero,
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// Explicit zero must survive so the engine clears the budget.
	want := `{"subtype":"set_max_thinking_tokens","max_thinking_tokens":0}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}
