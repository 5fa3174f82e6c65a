// Package postbox implements the Postbox Store component (C3): the
// per-agent (inbox, outbox, task_log) triple that mediates all messaging
// between the orchestrator and the external agent processes.
package postbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archcore/arch/internal/envelope"
)

// Store is a filesystem-backed postbox root. One Store serves every agent's
// inbox/outbox/task_log; callers never touch the directories directly.
type Store struct {
	root string

	// mu serializes enqueue/drain within a process; os.Rename is atomic at
	// the filesystem level, but guarding here avoids two in-process
	// goroutines racing to list-then-remove the same directory.
	mu sync.Mutex
}

// New returns a Store rooted at dir, creating the directory tree for every
// known agent's inbox/outbox/task_log if it does not already exist.
func New(dir string, agents []string) (*Store, error) {
	s := &Store{root: dir}
	for _, agent := range agents {
		for _, sub := range []string{"inbox", "outbox"} {
			if err := os.MkdirAll(s.agentDir(agent, sub), 0o755); err != nil {
				return nil, fmt.Errorf("create %s/%s: %w", agent, sub, err)
			}
		}
	}
	return s, nil
}

func (s *Store) agentDir(agent, stream string) string {
	return filepath.Join(s.root, agent, stream)
}

func (s *Store) taskLogPath(agent string) string {
	return filepath.Join(s.root, agent, "task_log.ndjson")
}

// EnqueueInbox appends e to agent's inbox via write-to-temp-then-rename,
// atomic because the temp file and final name share a directory (and
// therefore a filesystem).
func (s *Store) EnqueueInbox(agent string, e *envelope.Envelope) error {
	return s.enqueue(s.agentDir(agent, "inbox"), e)
}

// EnqueueOutbox appends e to agent's outbox.
func (s *Store) EnqueueOutbox(agent string, e *envelope.Envelope) error {
	return s.enqueue(s.agentDir(agent, "outbox"), e)
}

func (s *Store) enqueue(dir string, e *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), uuid.New().String())
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// DrainInbox atomically returns and removes every envelope currently pending
// in agent's inbox, in write order (filename order, since unix_nano prefixes
// sort chronologically).
func (s *Store) DrainInbox(agent string) ([]*envelope.Envelope, error) {
	return s.drain(s.agentDir(agent, "inbox"))
}

// DrainOutbox drains agent's outbox.
func (s *Store) DrainOutbox(agent string) ([]*envelope.Envelope, error) {
	return s.drain(s.agentDir(agent, "outbox"))
}

func (s *Store) drain(dir string) ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := messageFilenames(dir)
	if err != nil {
		return nil, err
	}

	envelopes := make([]*envelope.Envelope, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// A concurrent drain (or the router) already consumed this
				// file; at-least-once delivery tolerates the race.
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var e envelope.Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove %s: %w", path, err)
		}
		envelopes = append(envelopes, &e)
	}
	return envelopes, nil
}

// PeekOutbox lists the envelopes currently pending in agent's outbox without
// removing them, used by the router to validate before it moves a message.
func (s *Store) PeekOutbox(agent string) ([]*envelope.Envelope, []string, error) {
	dir := s.agentDir(agent, "outbox")
	names, err := messageFilenames(dir)
	if err != nil {
		return nil, nil, err
	}
	envelopes := make([]*envelope.Envelope, 0, len(names))
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		var e envelope.Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", path, err)
		}
		envelopes = append(envelopes, &e)
		paths = append(paths, path)
	}
	return envelopes, paths, nil
}

// RemoveOutboxFile removes a specific outbox message by its full path, used
// by the router once it has successfully delivered or archived it.
func (s *Store) RemoveOutboxFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// messageFilenames lists a postbox directory's message files in creation
// order. Files are named {unix_nano}_{uuid}.json with an unpadded prefix, so
// they are sorted by the numeric value of that prefix rather than
// lexicographically.
func messageFilenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue // in-flight temp file from a concurrent enqueue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return filenameOrdinal(names[i]) < filenameOrdinal(names[j])
	})
	return names, nil
}

func filenameOrdinal(name string) int64 {
	for i, r := range name {
		if r == '_' {
			n, err := strconv.ParseInt(name[:i], 10, 64)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

// AppendTaskLog durably appends entry to agent's task_log.ndjson. Using
// O_APPEND|O_CREATE|O_WRONLY relies on the POSIX guarantee that a single
// write smaller than the filesystem's atomic-append limit (typically far
// larger than one JSON line) cannot interleave with a concurrent writer's.
func (s *Store) AppendTaskLog(agent string, entry any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal task log entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.taskLogPath(agent), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open task log for %s: %w", agent, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append task log for %s: %w", agent, err)
	}
	return nil
}

// Root returns the postbox root directory.
func (s *Store) Root() string { return s.root }
