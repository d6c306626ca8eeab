package log

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-foreman/conductor/log"
	"github.com/stretchr/testify/assert"
)

// NewNilLogger records entries in memory instead of printing them, used in tests to assert on logged messages
func NewNilLogger() *TestLogger {
	return &TestLogger{entriesStore: &entriesStore{}}
}

type entriesStore struct {
	mu      sync.Mutex
	entries []Entry
}

// TestLogger is safe for concurrent use, loggers derived with WithFields share the same entries.
type TestLogger struct {
	level        log.Level
	fields       log.Fields
	entriesStore *entriesStore
}

type Entry struct {
	Msg    string
	Level  log.Level
	Fields log.Fields
}

func (n *TestLogger) Log(level log.Level, v ...interface{}) {
	n.add(level, fmt.Sprint(v...))
}

func (n *TestLogger) Logf(level log.Level, template string, args ...interface{}) {
	n.add(level, fmt.Sprintf(template, args...))
}

func (n *TestLogger) SetLevel(level log.Level) {
	n.level = level
}

func (n *TestLogger) WithFields(fields log.Fields) log.Logger {
	mergedFields := make(log.Fields)

	for k, v := range n.fields {
		mergedFields[k] = v
	}

	for k, v := range fields {
		mergedFields[k] = v
	}

	return &TestLogger{
		entriesStore: n.entriesStore,
		level:        n.level,
		fields:       mergedFields,
	}
}

func (n *TestLogger) add(level log.Level, msg string) {
	n.entriesStore.mu.Lock()
	defer n.entriesStore.mu.Unlock()

	n.entriesStore.entries = append(n.entriesStore.entries, Entry{Msg: msg, Level: level, Fields: n.fields})
}

func (n *TestLogger) Entries() []Entry {
	n.entriesStore.mu.Lock()
	defer n.entriesStore.mu.Unlock()

	res := make([]Entry, len(n.entriesStore.entries))
	copy(res, n.entriesStore.entries)

	return res
}

func (n *TestLogger) Messages() []string {
	entries := n.Entries()
	r := make([]string, len(entries))
	for i := range entries {
		r[i] = entries[i].Msg
	}

	return r
}

func (n *TestLogger) LastMessage() string {
	entries := n.Entries()
	if len(entries) > 0 {
		return entries[len(entries)-1].Msg
	}

	return ""
}

func (n *TestLogger) Clear() {
	n.entriesStore.mu.Lock()
	defer n.entriesStore.mu.Unlock()

	n.entriesStore.entries = make([]Entry, 0)
	n.level = log.InfoLevel
	n.fields = nil
}

// AssertContainsSubstr checks that at least one logged message contains substr
func (n *TestLogger) AssertContainsSubstr(t *testing.T, substr string) bool {
	t.Helper()

	for _, msg := range n.Messages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}

	return assert.Fail(t, fmt.Sprintf("no logged message contains %q", substr), "messages: %v", n.Messages())
}
