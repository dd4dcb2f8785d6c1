// Package session persists conversations as append-only JSONL files,
// one file per session key. Every message is flushed to disk before the
// turn continues, so a crash can replay exactly what was committed.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nadhif/lira/internal/tracing"
	"github.com/nadhif/lira/pkg/provider"
)

// Message is a single conversation turn as stored on disk
type Message struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []provider.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Entry pairs a message with its session key
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

// Manager persists conversations using one JSONL file per session
type Manager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// New creates a Manager. An empty dir defaults to ~/.lira/sessions.
func New(sessionsDir string) (*Manager, error) {
	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".lira", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &Manager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Debug().Str("dir", sessionsDir).Msg("Session manager initialized")

	return sm, nil
}

// validateSessionKey rejects keys that could escape the sessions dir
func (sm *Manager) validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (sm *Manager) getSessionPath(sessionKey string) string {
	return filepath.Join(sm.sessionsDir, sessionKey+".jsonl")
}

func (sm *Manager) getWriteLock(sessionKey string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if lock, exists := sm.writeLocks[sessionKey]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	sm.writeLocks[sessionKey] = lock
	return lock
}

func (sm *Manager) releaseWriteLock(sessionKey string) {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()
	delete(sm.writeLocks, sessionKey)
}

// Create creates an empty session file if one does not exist
func (sm *Manager) Create(sessionKey string) error {
	return sm.CreateWithContext(context.Background(), sessionKey)
}

// CreateWithContext creates an empty session file with tracing context.
func (sm *Manager) CreateWithContext(ctx context.Context, sessionKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"lira.session",
		"session.create",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := sm.validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	sessionPath := sm.getSessionPath(sessionKey)

	if _, err := os.Stat(sessionPath); err == nil {
		logger.Debug().Str("session_key", sessionKey).Msg("Session already exists")
		return nil
	}

	file, err := os.OpenFile(sessionPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create session file: %w", err)
	}
	file.Close()

	logger.Info().Str("session_key", sessionKey).Msg("Session created")

	return nil
}

// Append appends a message to a session
func (sm *Manager) Append(sessionKey string, message Message) error {
	return sm.AppendWithContext(context.Background(), sessionKey, message)
}

// AppendWithContext appends a message with tracing context. The write
// is fsynced before returning so the durable log never lags behind the
// in-memory conversation.
func (sm *Manager) AppendWithContext(ctx context.Context, sessionKey string, message Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"lira.session",
		"session.append",
		attribute.String("session_key", sessionKey),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := sm.validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	// Assistant messages that only request tools legitimately carry no text
	if message.Content == "" && len(message.ToolCalls) == 0 {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := sm.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := sm.getSessionPath(sessionKey)

	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		if err := sm.CreateWithContext(ctx, sessionKey); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	file, err := os.OpenFile(sessionPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	entry := Entry{
		SessionKey: sessionKey,
		Message:    message,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().
		Str("session_key", sessionKey).
		Str("role", message.Role).
		Msg("Message appended")

	return nil
}

// Load loads all messages from a session
func (sm *Manager) Load(sessionKey string) ([]Entry, error) {
	return sm.LoadWithContext(context.Background(), sessionKey)
}

// LoadWithContext loads all messages from a session with tracing
// context. Corrupted lines are skipped, not fatal; Repair rewrites the
// file without them.
func (sm *Manager) LoadWithContext(ctx context.Context, sessionKey string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"lira.session",
		"session.load",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := sm.validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sessionPath := sm.getSessionPath(sessionKey)

	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		logger.Debug().Str("session_key", sessionKey).Msg("Session does not exist")
		return []Entry{}, nil
	}

	file, err := os.Open(sessionPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if entry.Message.Role == "" ||
			(entry.Message.Content == "" && len(entry.Message.ToolCalls) == 0) {
			logger.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().
		Str("session_key", sessionKey).
		Int("messages", len(entries)).
		Msg("Session loaded")

	return entries, nil
}

// Delete deletes a session file
func (sm *Manager) Delete(sessionKey string) error {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := sm.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := sm.getSessionPath(sessionKey)

	if err := os.Remove(sessionPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	sm.releaseWriteLock(sessionKey)

	log.Info().Str("session_key", sessionKey).Msg("Session deleted")

	return nil
}

// List lists all available session keys
func (sm *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}

	return sessions, nil
}

// Repair rewrites a session file keeping only parseable entries
func (sm *Manager) Repair(sessionKey string) error {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return err
	}

	entries, err := sm.Load(sessionKey)
	if err != nil {
		return err
	}

	lock := sm.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := sm.getSessionPath(sessionKey)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().
		Str("session_key", sessionKey).
		Int("entries", len(entries)).
		Msg("Session repaired")

	return nil
}

// Info returns metadata about a session
func (sm *Manager) Info(sessionKey string) (map[string]interface{}, error) {
	if err := sm.validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	sessionPath := sm.getSessionPath(sessionKey)

	info, err := os.Stat(sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session does not exist")
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := sm.Load(sessionKey)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionKey":   sessionKey,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"messageCount": len(entries),
	}, nil
}

// Close releases all write locks
func (sm *Manager) Close() error {
	sm.locksMu.Lock()
	sm.writeLocks = make(map[string]*sync.Mutex)
	sm.locksMu.Unlock()

	return nil
}

// AsConversation converts stored entries into provider messages in
// their original order
func AsConversation(entries []Entry) []provider.Message {
	messages := make([]provider.Message, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, provider.Message{
			Role:       entry.Message.Role,
			Content:    entry.Message.Content,
			ToolCalls:  entry.Message.ToolCalls,
			ToolCallID: entry.Message.ToolCallID,
		})
	}
	return messages
}
