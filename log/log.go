package log

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"
	"time"
)

// A Logger logs messages with explicit priority levels. It is
// implemented by a logging back-end as provided by New() or
// NewMock(). Audit messages are guaranteed to reach the audit stream
// regardless of the configured stdout level.
type Logger interface {
	Err(msg string)
	Warning(msg string)
	Info(msg string)
	Debug(msg string)
	AuditInfo(msg string)
	AuditErr(msg string)
}

// singleton defines the object of a Singleton pattern
type singleton struct {
	once sync.Once
	log  Logger
}

// _Singleton is the single singleton object
var _Singleton singleton

// The constant used to identify audit-specific messages
const auditTag = "[AUDIT]"

// New returns a new Logger that writes to syslog (when w is non-nil) and
// mirrors messages at or below stdoutLogLevel to stdout/stderr.
func New(w *syslog.Writer, stdoutLogLevel int) (Logger, error) {
	return &impl{
		&syslogWriter{
			syslog:      w,
			stdoutLevel: stdoutLogLevel,
			clk:         func() time.Time { return time.Now() },
		},
	}, nil
}

// Set configures the singleton Logger. This method must only be called
// once, and before calling Get the first time.
func Set(logger Logger) (err error) {
	if _Singleton.log != nil {
		err = fmt.Errorf("You may not call Set after it has already been implicitly or explicitly set")
		_Singleton.log = logger
	} else {
		_Singleton.log = logger
	}
	return
}

// Get obtains the singleton Logger. If Set has not been called first, this
// method initializes with basic defaults. It panics if the default
// logger cannot be constructed.
func Get() Logger {
	_Singleton.once.Do(func() {
		if _Singleton.log == nil {
			logger, err := New(nil, int(syslog.LOG_DEBUG))
			if err != nil {
				panic(err)
			}
			_Singleton.log = logger
		}
	})
	return _Singleton.log
}

type impl struct {
	w writer
}

type writer interface {
	logAtLevel(syslog.Priority, string)
}

type syslogWriter struct {
	syslog      *syslog.Writer
	stdoutLevel int
	clk         func() time.Time
}

func (w *syslogWriter) logAtLevel(level syslog.Priority, msg string) {
	if w.syslog != nil {
		switch level {
		case syslog.LOG_ERR:
			_ = w.syslog.Err(msg)
		case syslog.LOG_WARNING:
			_ = w.syslog.Warning(msg)
		case syslog.LOG_INFO:
			_ = w.syslog.Info(msg)
		case syslog.LOG_DEBUG:
			_ = w.syslog.Debug(msg)
		}
	}
	if int(level) > w.stdoutLevel {
		return
	}
	out := os.Stdout
	if level <= syslog.LOG_WARNING {
		out = os.Stderr
	}
	fmt.Fprintf(out, "%s %d %s\n",
		w.clk().UTC().Format("2006-01-02T15:04:05.000000+00:00"),
		int(level), msg)
}

func (log *impl) Err(msg string) {
	log.w.logAtLevel(syslog.LOG_ERR, msg)
}

func (log *impl) Warning(msg string) {
	log.w.logAtLevel(syslog.LOG_WARNING, msg)
}

func (log *impl) Info(msg string) {
	log.w.logAtLevel(syslog.LOG_INFO, msg)
}

func (log *impl) Debug(msg string) {
	log.w.logAtLevel(syslog.LOG_DEBUG, msg)
}

// AuditInfo sends an INFO-severity message that is tagged for automated
// examination of the audit stream.
func (log *impl) AuditInfo(msg string) {
	log.w.logAtLevel(syslog.LOG_INFO, fmt.Sprintf("%s %s", auditTag, msg))
}

// AuditErr can format an error for auditing; it does so at ERR level.
func (log *impl) AuditErr(msg string) {
	log.w.logAtLevel(syslog.LOG_ERR, fmt.Sprintf("%s %s", auditTag, msg))
}
