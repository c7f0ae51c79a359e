// Package diagnostics implements the request error pipeline.
//
// Errors returned by request handlers pass two stages. Capture assigns a short
// correlation ID, stores an ErrorRecord in the capped Log and logs the failure.
// Present turns the error into a response body that names the status and points
// at /server/errors/{id} instead of exposing the stack. Clients that prefer HTML
// are left to the router's default delivery.
//
// IDs are drawn from Alphabet, which leaves out characters that are easy to
// confuse when read aloud or copied from a terminal (l, 1).
package diagnostics

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// Alphabet is the set of characters used for correlation IDs.
	Alphabet = "abcdefghijkmnopqrstuvwxyz023456789"
	// IDLength is the length of a correlation ID.
	IDLength = 5
	// DefaultCapacity is the number of records kept in the ephemeral log.
	DefaultCapacity = 1000
)

// Record is a captured request error.
type Record struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log keeps the most recent records, evicting the oldest first once the
// capacity is exceeded. With retention enabled every record is also kept in an
// unbounded list.
type Log struct {
	mu       sync.Mutex
	capacity int
	retain   bool
	records  []Record
	retained []Record
	now      func() time.Time
}

type Option func(*Log)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(capacity int) Option {
	return func(l *Log) {
		if capacity > 0 {
			l.capacity = capacity
		}
	}
}

// WithRetention keeps every record in addition to the capped log.
func WithRetention(retain bool) Option {
	return func(l *Log) {
		l.retain = retain
	}
}

func NewLog(opts ...Option) *Log {
	l := &Log{capacity: DefaultCapacity, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stores a new record with a fresh correlation ID.
func (l *Log) Record(message, stack string) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := NewID()
	for l.contains(id) {
		id = NewID()
	}
	rec := Record{ID: id, Message: message, Stack: stack, Timestamp: l.now()}
	l.append(rec)
	return rec
}

// Append stores rec as is.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(rec)
}

func (l *Log) append(rec Record) {
	l.records = append(l.records, rec)
	if over := len(l.records) - l.capacity; over > 0 {
		l.records = slices.Delete(l.records, 0, over)
	}
	if l.retain {
		l.retained = append(l.retained, rec)
	}
}

func (l *Log) contains(id string) bool {
	return slices.ContainsFunc(l.records, func(r Record) bool { return r.ID == id })
}

// Get returns the record with the given ID from the capped or the retained log.
func (l *Log) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].ID == id {
			return l.records[i], true
		}
	}
	for i := len(l.retained) - 1; i >= 0; i-- {
		if l.retained[i].ID == id {
			return l.retained[i], true
		}
	}
	return Record{}, false
}

// Records returns a copy of the capped log, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Retained returns a copy of the retained log, oldest first.
func (l *Log) Retained() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.retained)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Log) Capacity() int {
	return l.capacity
}

// NewID returns a random correlation ID.
func NewID() string {
	var sb strings.Builder
	sb.Grow(IDLength)
	for range IDLength {
		sb.WriteByte(Alphabet[rand.IntN(len(Alphabet))])
	}
	return sb.String()
}

// ValidID reports whether id has the shape of a correlation ID.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}
