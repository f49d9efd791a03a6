package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kandev/acpbridge/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestClient_SendUserMessage(t *testing.T) {
	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(""), newTestLogger())

	err := client.SendUserMessage("hello")
	if err != nil {
		t.Fatalf("SendUserMessage() error = %v", err)
	}

	var msg UserMessage
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg); err != nil {
		t.Fatalf("failed to parse sent message: %v", err)
	}

	if msg.Type != MessageTypeUser {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeUser)
	}
	if msg.Message.Role != "user" {
		t.Errorf("Message.Role = %q, want %q", msg.Message.Role, "user")
	}
	if msg.Message.Content != "hello" {
		t.Errorf("Message.Content = %v, want %q", msg.Message.Content, "hello")
	}
}

func TestClient_SendUserContent(t *testing.T) {
	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(""), newTestLogger())

	blocks := []ContentBlock{
		{Type: "text", Text: "look at this"},
		{Type: "image", Source: &ImageSource{Type: "base64", MediaType: "image/png", Data: "aGk="}},
	}
	if err := client.SendUserContent(blocks); err != nil {
		t.Fatalf("SendUserContent() error = %v", err)
	}

	var raw struct {
		Type    string `json:"type"`
		Message struct {
			Role    string         `json:"role"`
			Content []ContentBlock `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &raw); err != nil {
		t.Fatalf("failed to parse sent message: %v", err)
	}
	if len(raw.Message.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(raw.Message.Content))
	}
	if raw.Message.Content[1].Source == nil || raw.Message.Content[1].Source.MediaType != "image/png" {
		t.Errorf("image block not preserved: %+v", raw.Message.Content[1])
	}
}

func TestClient_SendControlResponse(t *testing.T) {
	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(""), newTestLogger())

	resp := &ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: "req123",
		Response: &ControlResponse{
			Subtype: "success",
			Result: &PermissionResult{
				Behavior: BehaviorAllow,
			},
		},
	}

	err := client.SendControlResponse(resp)
	if err != nil {
		t.Fatalf("SendControlResponse() error = %v", err)
	}

	var parsed ControlResponseMessage
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &parsed); err != nil {
		t.Fatalf("failed to parse sent message: %v", err)
	}

	if parsed.RequestID != "req123" {
		t.Errorf("RequestID = %q, want %q", parsed.RequestID, "req123")
	}
}

func TestClient_HandleMessages(t *testing.T) {
	messages := []string{
		`{"type":"system","session_id":"sess123","slash_commands":["/compact","/review"]}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello"}]}}`,
	}
	input := strings.Join(messages, "\n") + "\n"

	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(input), newTestLogger())

	var received []Message
	var mu sync.Mutex
	client.SetMessageHandler(func(msg *Message) {
		mu.Lock()
		received = append(received, *msg)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 2 {
		t.Fatalf("received %d messages, want 2", len(received))
	}
	if len(received[0].SlashCommands) != 2 {
		t.Errorf("slash commands = %v, want 2 entries", received[0].SlashCommands)
	}
}

func TestClient_HandleControlRequest(t *testing.T) {
	input := `{"type":"control_request","request_id":"req123","request":{"subtype":"can_use_tool","tool_name":"Bash"}}` + "\n"

	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(input), newTestLogger())

	var receivedReq *ControlRequest
	var receivedID string
	var mu sync.Mutex

	client.SetRequestHandler(func(requestID string, req *ControlRequest) {
		mu.Lock()
		receivedID = requestID
		receivedReq = req
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if receivedID != "req123" {
		t.Errorf("requestID = %q, want %q", receivedID, "req123")
	}
	if receivedReq == nil {
		t.Fatal("receivedReq is nil")
	}
	if receivedReq.Subtype != SubtypeCanUseTool {
		t.Errorf("Subtype = %q, want %q", receivedReq.Subtype, SubtypeCanUseTool)
	}
}

func TestClient_ControlRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var buf syncBuffer
	client := NewClient(&buf, pr, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	<-client.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.SetModel(ctx, "claude-opus-4-6")
	}()

	// Wait for the request to land in stdin, then answer it.
	var req SDKControlRequest
	deadline := time.Now().Add(time.Second)
	for {
		data := bytes.TrimSpace(buf.Bytes())
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err == nil && req.RequestID != "" {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("control request never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if req.Request.Subtype != SubtypeSetModel {
		t.Errorf("Subtype = %q, want %q", req.Request.Subtype, SubtypeSetModel)
	}
	if req.Request.Model != "claude-opus-4-6" {
		t.Errorf("Model = %q, want claude-opus-4-6", req.Request.Model)
	}

	response := `{"type":"control_response","response":{"request_id":"` + req.RequestID + `","subtype":"success"}}` + "\n"
	if _, err := pw.Write([]byte(response)); err != nil {
		t.Fatalf("write response: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("SetModel() error = %v", err)
	}
}

func TestClient_NoHandlerAutoReject(t *testing.T) {
	input := `{"type":"control_request","request_id":"req123","request":{"subtype":"can_use_tool","tool_name":"Bash"}}` + "\n"

	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(input), newTestLogger())

	// No request handler set - should auto-reject

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	data := buf.Bytes()
	if len(data) == 0 {
		t.Fatal("expected error response to be sent")
	}

	var resp ControlResponseMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Response == nil || resp.Response.Subtype != "error" {
		t.Error("expected error response")
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	input := "{invalid json}\n{\"type\":\"system\"}\n"

	var buf syncBuffer
	client := NewClient(&buf, strings.NewReader(input), newTestLogger())

	var count int
	var mu sync.Mutex
	client.SetMessageHandler(func(msg *Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	// Should still process the valid message
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestClient_Stop(t *testing.T) {
	pr, _ := io.Pipe()

	var buf syncBuffer
	client := NewClient(&buf, pr, newTestLogger())

	ctx := context.Background()
	client.Start(ctx)

	// Stop should not panic even if called multiple times
	client.Stop()
	client.Stop()
}
