package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// The level at which this logger logs. Any log messages intended for a higher
	// (more verbose) log level are ignored. Only consulted when pinned is set;
	// otherwise the level follows the current LOGLEVEL directives for Tag.
	Level

	// Tag used to filter and classify log messages.
	Tag string

	pinned bool

	// Destination shared by all derived loggers.
	*sink
}

type sink struct {
	out io.Writer

	// Prevents messages from different goroutines from interleaving.
	mu sync.Mutex
}

// Write to stderr by default.
var DefaultLogger = &Logger{Level: defaultLevel, sink: &sink{out: os.Stderr}}

// Override the destination for this logger and every logger derived from it.
func (log *Logger) SetDestination(out io.Writer) {
	log.mu.Lock()
	log.out = out
	log.mu.Unlock()
}

// Derive a new logger with the given tag. The level is looked up from the tag
// each time a message is logged.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{Level: log.Level, Tag: tag, sink: log.sink}
}

// Derive a new logger pinned to the given level, unless a directive for its
// tag overrides it.
func (log *Logger) WithDefaultLevel(level Level) *Logger {
	return &Logger{
		Level:  determineLevel(log.Tag, level),
		Tag:    log.Tag,
		pinned: true,
		sink:   log.sink,
	}
}

// Enabled reports whether a message at the given level would be written.
func (log *Logger) Enabled(level Level) bool {
	return level <= log.threshold()
}

func (log *Logger) threshold() Level {
	if log.pinned {
		return log.Level
	}
	return determineLevel(log.Tag, currentDefault())
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// A global buffer pool, shared across all loggers.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if !log.Enabled(level) {
		return
	}

	buf := bufPool.Get().(buffer)
	defer func() { bufPool.Put(buf[:0]) }()

	buf = append(buf, timestampColor.Sprint(time.Now().Format(timestampFormat))...)

	// Get the caller of Error()/Warn()/Info()/etc.
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}

	fmt.Fprintf(&buf, " %s", level.color().Sprintf("%c/%s[%s:%d]", level.letter(), log.Tag, filepath.Base(file), line))
	buf.writeByte(' ')
	fmt.Fprintf(&buf, format, a...)

	// Append newline if necessary.
	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.mu.Lock()
	out := log.out
	_, err := out.Write(buf)
	log.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("failed to log to %v: %v", out, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}

// Fatalf logs at Error level and exits the process.
func (log *Logger) Fatalf(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
	os.Exit(1)
}
