package session

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"minuteman/app/pkg/types"
)

var ErrNoSession = errors.New("session: no active session")

const shardCount = 16

// Entry is one buffered utterance inside a recording window.
type Entry struct {
	UserID      string
	DisplayName string
	Message     string
	Timestamp   time.Time
}

type meeting struct {
	startTime time.Time
	entries   []Entry
}

type shard struct {
	mu       sync.Mutex
	meetings map[string]*meeting
}

// Recorder holds the per-scope recording windows. State is volatile by
// design; a restart drops every open window. Scope keys are sharded so
// concurrent traffic on different scopes does not contend on one lock.
type Recorder struct {
	shards [shardCount]shard
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	for i := range r.shards {
		r.shards[i].meetings = make(map[string]*meeting)
	}
	return r
}

func (r *Recorder) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.shards[h.Sum32()%shardCount]
}

// Start opens a recording window for the scope, replacing any prior window.
// No nested recording: a second start discards the earlier buffer.
func (r *Recorder) Start(scope types.Scope) {
	key := scope.Key()
	sh := r.shardFor(key)
	sh.mu.Lock()
	sh.meetings[key] = &meeting{startTime: time.Now()}
	sh.mu.Unlock()
}

// Record appends an utterance when the scope is recording; otherwise it is a
// no-op. It must never fail message processing.
func (r *Recorder) Record(scope types.Scope, userID string, displayName string, message string) {
	key := scope.Key()
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.meetings[key]
	if !ok {
		return
	}
	m.entries = append(m.entries, Entry{
		UserID:      userID,
		DisplayName: displayName,
		Message:     message,
		Timestamp:   time.Now(),
	})
}

// Active reports whether the scope currently has a recording window.
func (r *Recorder) Active(scope types.Scope) bool {
	key := scope.Key()
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.meetings[key]
	return ok
}

// End closes the scope's recording window and returns the buffered entries in
// order. An empty buffer is a valid result, distinct from ErrNoSession.
func (r *Recorder) End(scope types.Scope) ([]Entry, error) {
	key := scope.Key()
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.meetings[key]
	if !ok {
		return nil, ErrNoSession
	}
	delete(sh.meetings, key)
	return m.entries, nil
}
