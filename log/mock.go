package log

import (
	"fmt"
	"log/syslog"
	"regexp"
	"sync"
)

// UseMock sets a mock logger as the default logger, and returns it.
func UseMock() *Mock {
	m := NewMock()
	_ = Set(m)
	return m
}

// NewMock creates a mock logger that stores all log messages in memory
// for inspection by tests.
func NewMock() *Mock {
	return &Mock{impl{newMockWriter()}}
}

// Mock is a logger that stores all log messages in memory to be examined
// by a test.
type Mock struct {
	impl
}

// mockWriter is an internal type used by Mock.
type mockWriter struct {
	logged *[]string
	mu     *sync.Mutex
}

var levelName = map[syslog.Priority]string{
	syslog.LOG_ERR:     "ERR",
	syslog.LOG_WARNING: "WARNING",
	syslog.LOG_INFO:    "INFO",
	syslog.LOG_DEBUG:   "DEBUG",
}

func (w *mockWriter) logAtLevel(level syslog.Priority, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.logged = append(*w.logged, fmt.Sprintf("%s: %s", levelName[level&7], msg))
}

func newMockWriter() *mockWriter {
	logged := []string{}
	return &mockWriter{
		logged: &logged,
		mu:     &sync.Mutex{},
	}
}

// GetAll returns all messages logged since instantiation or the last call
// to Clear().
func (m *Mock) GetAll() []string {
	w := m.w.(*mockWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.logged
}

// GetAllMatching returns all messages logged since instantiation or the
// last Clear() whose text matches the given regexp. The expression is
// matched against the entire message, including the "INFO: " or
// "WARNING: " prefix.
func (m *Mock) GetAllMatching(reString string) []string {
	var matches []string
	w := m.w.(*mockWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	re := regexp.MustCompile(reString)
	for _, logMsg := range *w.logged {
		if re.MatchString(logMsg) {
			matches = append(matches, logMsg)
		}
	}
	return matches
}

// Clear resets the log buffer.
func (m *Mock) Clear() {
	w := m.w.(*mockWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.logged = []string{}
}
