// Package queue provides the durable record of pending deploy tasks.
// The whole queue is one JSON document on disk, rewritten atomically on
// every mutation. Both the HTTP intake layer (append) and the worker
// (promote, clear) operate through an explicit *Store value; there is no
// ambient file-scoped state.
package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sim-publish/buildserver/internal/domain"
)

// Document is the sole persisted state: pending tasks plus the task
// currently being executed, if any.
type Document struct {
	Queue       []domain.Task `json:"queue"`
	CurrentTask *domain.Task  `json:"currentTask"`
}

// Store reads and writes the queue document at a fixed path.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store persisting to path. The parent directory is
// created if needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the queue document. A missing or corrupt file yields a fresh
// empty document — logged as an error but never returned as one, so a bad
// file can never wedge the server.
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Document {
	doc := Document{Queue: []domain.Task{}}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc
	}
	if err != nil {
		log.Printf("[queue] ERROR reading %s: %v (starting with empty queue)", s.path, err)
		return doc
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[queue] ERROR parsing %s: %v (starting with empty queue)", s.path, err)
		return Document{Queue: []domain.Task{}}
	}
	if doc.Queue == nil {
		log.Printf("[queue] ERROR: %s has no task array (starting with empty queue)", s.path)
		doc.Queue = []domain.Task{}
	}
	return doc
}

// Save atomically overwrites the queue document: write to a temp file in
// the same directory, then rename over the target.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) save(doc Document) error {
	if doc.Queue == nil {
		doc.Queue = []domain.Task{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

// Append stamps the task's enqueue time and adds it to the pending list.
// Returns the stamped task as persisted.
func (s *Store) Append(task domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.EnqueueTime = time.Now().UTC()
	doc := s.load()
	doc.Queue = append(doc.Queue, task)
	if err := s.save(doc); err != nil {
		return task, err
	}
	return task, nil
}

// Promote removes the first pending entry matching task's canonical fields
// and installs it as the current task with a stamped start time. The
// stamped task is returned. A task not found in the pending list is still
// promoted; the mismatch is logged for the operator.
func (s *Store) Promote(task domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	key := task.CanonicalKey()
	found := false
	for i := range doc.Queue {
		if doc.Queue[i].CanonicalKey() == key {
			doc.Queue = append(doc.Queue[:i], doc.Queue[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		log.Printf("[queue] WARNING: promoting task %s/%s not present in pending list", task.SimName, task.Version)
	}

	task.StartTime = time.Now().UTC()
	doc.CurrentTask = &task
	if err := s.save(doc); err != nil {
		return task, err
	}
	return task, nil
}

// ClearCurrent empties the current-task slot after a task finishes or
// aborts.
func (s *Store) ClearCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.CurrentTask = nil
	return s.save(doc)
}
