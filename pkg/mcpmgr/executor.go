package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// unknownServerLabel replaces the server label of calls naming a server that
// is not in the connection table.
const unknownServerLabel = "unknown"

// ToolCall is one invocation request.
type ToolCall struct {
	ServerID   string `json:"serverId"`
	ToolName   string `json:"toolName"`
	Parameters any    `json:"parameters,omitempty"`
}

// ToolResult is the outcome of one invocation. Runtime failures are
// reported here with Success=false rather than as errors.
type ToolResult struct {
	CallID          string `json:"callId"`
	ServerID        string `json:"serverId"`
	ToolName        string `json:"toolName"`
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	// Err carries the underlying error for errors.Is checks.
	Err error `json:"-"`
}

// ExecuteTool resolves call against the connection table and invokes the
// tool, racing it against the server's timeout. The returned error is
// non-nil only when the manager was never initialized; every other failure
// is described by the result.
//
// A call that loses the race has its context cancelled and its eventual
// result discarded. Work the server already performed is not rolled back.
func (m *Manager) ExecuteTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	start := m.clock.Now()
	res := &ToolResult{
		CallID:   uuid.NewString(),
		ServerID: call.ServerID,
		ToolName: call.ToolName,
	}

	m.mu.RLock()
	if m.lifecycle == lifecycleNew {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	var (
		transport  Transport
		tool       Tool
		timeout    time.Duration
		resolveErr error
	)
	conn, ok := m.conns[call.ServerID]
	switch {
	case !ok:
		resolveErr = fmt.Errorf("%w: %s", ErrServerNotFound, call.ServerID)
	case !conn.connected || conn.transport == nil:
		resolveErr = fmt.Errorf("%w: %s", ErrServerNotConnected, call.ServerID)
	default:
		tool, ok = conn.tools[m.ns.LocalName(call.ServerID, call.ToolName)]
		if !ok {
			resolveErr = fmt.Errorf("%w: %s on server %s", ErrToolNotFound, call.ToolName, call.ServerID)
		}
		transport = conn.transport
		timeout = conn.desc.timeoutOr(m.cfg.DefaultTimeout)
	}
	m.mu.RUnlock()

	if resolveErr != nil {
		return m.finish(res, start, nil, resolveErr), nil
	}
	value, err := m.invoke(ctx, transport, tool.NativeName, call.Parameters, timeout)
	return m.finish(res, start, value, err), nil
}

func (m *Manager) invoke(ctx context.Context, t Transport, name string, params any, timeout time.Duration) (any, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := t.CallTool(callCtx, name, params)
		done <- outcome{v, err}
	}()

	timer := m.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.Chan():
		return nil, ErrExecutionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) finish(res *ToolResult, start time.Time, value any, err error) *ToolResult {
	elapsed := m.clock.Since(start)
	res.ExecutionTimeMs = elapsed.Milliseconds()
	status := "success"
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		status = callStatus(err)
		m.logger.Warn("tool call failed",
			"server", res.ServerID,
			"tool", res.ToolName,
			"call_id", res.CallID,
			"elapsed_ms", res.ExecutionTimeMs,
			"error", err,
		)
	} else {
		res.Success = true
		res.Result = value
		m.logger.Debug("tool call completed",
			"server", res.ServerID,
			"tool", res.ToolName,
			"call_id", res.CallID,
			"elapsed_ms", res.ExecutionTimeMs,
		)
	}
	label := res.ServerID
	if errors.Is(err, ErrServerNotFound) {
		// Caller-supplied ids must not become label values.
		label = unknownServerLabel
	}
	m.metrics.toolCall(label, status, elapsed)
	return res
}

func callStatus(err error) string {
	switch {
	case errors.Is(err, ErrExecutionTimeout):
		return "timeout"
	case errors.Is(err, ErrServerNotFound), errors.Is(err, ErrServerNotConnected), errors.Is(err, ErrToolNotFound):
		return "unresolved"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
