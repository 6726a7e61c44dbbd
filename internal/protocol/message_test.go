package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessage_RoundTrip(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"event","op":"task.terminal.exit","payload":{"taskId":"t1","exitCode":3}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Op != OpTaskTerminalExit || msg.Type != TypeEvent {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var payload struct {
		TaskID   string `json:"taskId"`
		ExitCode int    `json:"exitCode"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.TaskID != "t1" || payload.ExitCode != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMessage_OmitsEmptyError(t *testing.T) {
	b, err := json.Marshal(Message{ID: "evt_2", Type: TypeEvent, Op: OpTaskDiffChanged, Payload: MustRaw(map[string]any{})})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(b), `"error"`) {
		t.Fatalf("expected error field to be omitted, got %s", b)
	}
}
