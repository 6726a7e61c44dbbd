package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"taskdeck/cli/internal/protocol"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"
)

const wsWriteTimeout = 500 * time.Millisecond

// WSHub broadcasts task events to every connected /ws client. It implements tasks.Sink.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	seq     atomic.Uint64
	logger  *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &WSHub{clients: map[*websocket.Conn]struct{}{}, logger: logger}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", "err", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) Publish(op, taskID string, payload map[string]any) {
	outPayload := map[string]any{}
	if taskID != "" {
		outPayload["taskId"] = taskID
	}
	for k, v := range payload {
		outPayload[k] = v
	}

	evt := protocol.Message{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    protocol.TypeEvent,
		Op:      op,
		Payload: protocol.MustRaw(outPayload),
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
			h.logger.Debug("websocket write failed", "op", op, "err", err)
		}
		cancel()
	}
}

func (h *WSHub) StatusChanged(summary tasks.TaskSummary) {
	h.Publish(protocol.OpTaskStatusChanged, summary.TaskID, map[string]any{"task": summary})
}

func (h *WSHub) TerminalOutput(taskID, data string, kind status.TerminalKind) {
	h.Publish(protocol.OpTaskTerminalOutput, taskID, map[string]any{"kind": kind, "data": data})
}

func (h *WSHub) TerminalExit(taskID string, exitCode int, kind status.TerminalKind) {
	h.Publish(protocol.OpTaskTerminalExit, taskID, map[string]any{"kind": kind, "exitCode": exitCode})
}

func (h *WSHub) DiffChanged(taskID string) {
	h.Publish(protocol.OpTaskDiffChanged, taskID, nil)
}
