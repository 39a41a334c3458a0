// Package conversation persists each user's message thread as an
// append-only JSONL file, one entry per line:
//
//	{"message":{"role":"user","content":"hi"},"timestamp":"2026-03-02T09:00:00Z"}
package conversation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aatumaykin/xavier/internal/llm"
	"github.com/aatumaykin/xavier/internal/logger"
)

var ErrEmptyUserID = errors.New("conversation: empty user id")

// Entry is one persisted line.
type Entry struct {
	Message   llm.Message `json:"message"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Store is safe for concurrent use. Reads and writes for different users
// never contend; writes for one user are serialised.
type Store struct {
	dir    string
	logger *logger.Logger
	now    func() time.Time

	locks sync.Map // user id -> *sync.RWMutex
}

func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("conversation directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &Store{dir: dir, logger: log, now: time.Now}, nil
}

func (s *Store) lock(userID string) *sync.RWMutex {
	mu, _ := s.locks.LoadOrStore(userID, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// Path is the file backing userID's thread.
func (s *Store) Path(userID string) string {
	return filepath.Join(s.dir, url.PathEscape(userID)+".jsonl")
}

// Load returns the thread in append order. A missing file is an empty
// thread. Unreadable lines are logged and skipped.
func (s *Store) Load(ctx context.Context, userID string) ([]llm.Message, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	mu := s.lock(userID)
	mu.RLock()
	defer mu.RUnlock()

	path := s.Path(userID)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	defer f.Close()

	messages := []llm.Message{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil || e.Message.Role == "" {
			if err == nil {
				err = errors.New("entry has no role")
			}
			s.logger.ErrorCtx(ctx, "skipping corrupt conversation entry", err,
				logger.Field{Key: "user_id", Value: userID},
				logger.Field{Key: "file", Value: path},
				logger.Field{Key: "line", Value: line})
			continue
		}
		messages = append(messages, e.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	return messages, nil
}

// Append writes msgs as a single batch. Either every message lands or, on
// failure, the file is truncated back to its previous length. A torn last
// line left by a crash is terminated first so it cannot swallow the batch.
func (s *Store) Append(ctx context.Context, userID string, msgs ...llm.Message) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if len(msgs) == 0 {
		return nil
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)
	var buf bytes.Buffer
	for _, m := range msgs {
		data, err := json.Marshal(Entry{Message: m, Timestamp: ts})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	path := s.Path(userID)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat conversation: %w", err)
	}
	size := info.Size()

	data := buf.Bytes()
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("failed to read conversation tail: %w", err)
		}
		if last[0] != '\n' {
			data = append([]byte{'\n'}, data...)
		}
	}

	if _, err := f.Write(data); err != nil {
		return s.rollback(ctx, f, size, userID, fmt.Errorf("failed to write messages: %w", err))
	}
	if err := f.Sync(); err != nil {
		return s.rollback(ctx, f, size, userID, fmt.Errorf("failed to sync conversation: %w", err))
	}

	s.logger.DebugCtx(ctx, "conversation appended",
		logger.Field{Key: "user_id", Value: userID},
		logger.Field{Key: "messages", Value: len(msgs)})
	return nil
}

func (s *Store) rollback(ctx context.Context, f *os.File, size int64, userID string, cause error) error {
	if err := f.Truncate(size); err != nil {
		s.logger.ErrorCtx(ctx, "failed to roll back partial append", err,
			logger.Field{Key: "user_id", Value: userID})
		return errors.Join(cause, err)
	}
	return cause
}
