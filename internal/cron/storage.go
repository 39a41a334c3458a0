package cron

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aatumaykin/xavier/internal/logger"
)

// TasksFilename is the JSONL file holding every task, one per line.
const TasksFilename = "tasks.jsonl"

const maxLineBytes = 16 * 1024 * 1024

// Storage provides persistent storage for tasks.
// The whole file is rewritten on every mutation through a temporary file,
// fsync and rename, so a crash leaves either the old or the new set.
type Storage struct {
	mu       sync.Mutex
	filePath string         // Full path to the storage file
	logger   *logger.Logger // Logger instance for storage operations
}

// NewStorage creates a Storage rooted at dir.
//
// Parameters:
//   - dir: Directory holding the tasks file, created on first write
//   - log: Logger instance for storage operations
func NewStorage(dir string, log *logger.Logger) *Storage {
	return &Storage{
		filePath: filepath.Join(dir, TasksFilename),
		logger:   log,
	}
}

// Path returns the tasks file location.
func (s *Storage) Path() string {
	return s.filePath
}

// GetAll reads every task. A missing or empty file yields an empty map.
// Unreadable lines are logged and skipped.
func (s *Storage) GetAll() (map[string]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Put stores task, replacing a task with the same ID.
func (s *Storage) Put(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	tasks[task.ID] = task
	return s.save(tasks)
}

// Delete removes the task with taskID.
//
// Returns:
//   - ErrTaskNotFound if no such task is stored
func (s *Storage) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(tasks, taskID)
	return s.save(tasks)
}

func (s *Storage) load() (map[string]Task, error) {
	tasks := make(map[string]Task)

	file, err := os.Open(s.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return tasks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var task Task
		if err := json.Unmarshal(line, &task); err != nil || task.ID == "" {
			if err == nil {
				err = errors.New("task has no id")
			}
			s.logger.Error("skipping corrupt task", err,
				logger.Field{Key: "file", Value: s.filePath},
				logger.Field{Key: "line", Value: lineNum})
			continue
		}
		tasks[task.ID] = task
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	return tasks, nil
}

func (s *Storage) save(tasks map[string]Task) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tmpPath := s.filePath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temporary tasks file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, id := range ids {
		data, err := json.Marshal(tasks[id])
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to marshal task %s: %w", id, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tasks: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync tasks: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close tasks file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("failed to replace tasks file: %w", err)
	}

	s.logger.Debug("tasks saved to storage",
		logger.Field{Key: "count", Value: len(tasks)},
		logger.Field{Key: "file", Value: s.filePath})
	return nil
}
