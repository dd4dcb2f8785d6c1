package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Request asks a human whether a command may run
type Request struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Response carries the human's decision. Remember requests that the
// decision be recorded so the same command never asks again.
type Response struct {
	Approved bool   `json:"approved"`
	Remember bool   `json:"remember"`
	Reason   string `json:"reason,omitempty"`
}

// Handler surfaces approval requests to the user. The REPL supplies a
// terminal prompt; tests supply mocks.
type Handler interface {
	RequestApproval(ctx context.Context, req Request) (Response, error)
}

// Manager combines the persistent allowlist with an interactive
// handler. Pre-approved commands skip the prompt entirely.
type Manager struct {
	store   *Store
	handler Handler
	timeout time.Duration
}

// NewManager creates an approval manager. A nil handler means every
// non-pre-approved command is denied.
func NewManager(store *Store, handler Handler) *Manager {
	return &Manager{
		store:   store,
		handler: handler,
		timeout: 60 * time.Second,
	}
}

// SetTimeout bounds how long an interactive decision may take
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// Approve decides whether a command may run. The allowlist is consulted
// first; only unlisted commands reach the interactive handler. When the
// user asks to remember a grant, it is recorded for future turns.
func (m *Manager) Approve(ctx context.Context, req Request) (bool, error) {
	if m.store != nil && m.store.IsPreApproved(req.Command) {
		log.Debug().Str("command", req.Command).Msg("Command pre-approved")
		return true, nil
	}

	if m.handler == nil {
		return false, fmt.Errorf("no approval handler configured")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	responseChan := make(chan Response, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := m.handler.RequestApproval(timeoutCtx, req)
		if err != nil {
			errorChan <- err
			return
		}
		responseChan <- response
	}()

	select {
	case response := <-responseChan:
		if response.Approved {
			log.Info().Str("command", req.Command).Msg("Approval granted")
			if response.Remember && m.store != nil {
				if err := m.store.RecordApproval(req.Command); err != nil {
					log.Warn().Err(err).Msg("Failed to persist approval")
				}
			}
		} else {
			log.Warn().
				Str("command", req.Command).
				Str("reason", response.Reason).
				Msg("Approval denied")
		}
		return response.Approved, nil

	case err := <-errorChan:
		return false, fmt.Errorf("approval request failed: %w", err)

	case <-timeoutCtx.Done():
		return false, fmt.Errorf("approval request timed out after %v", m.timeout)
	}
}

// AutoApproveHandler approves everything. Used when exec approvals are
// disabled in configuration.
type AutoApproveHandler struct{}

// RequestApproval implements Handler
func (AutoApproveHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	return Response{Approved: true, Reason: "approvals disabled"}, nil
}

// MockHandler is a configurable handler for tests
type MockHandler struct {
	Response Response
	Delay    time.Duration
	Err      error
	Calls    int
}

// RequestApproval implements Handler
func (m *MockHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	m.Calls++

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	if m.Err != nil {
		return Response{}, m.Err
	}

	return m.Response, nil
}
