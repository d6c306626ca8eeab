package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

const defaultPrefix = "[conductor]"

// DefaultLogger returns a logger on top of the standard library, used when nothing else is specified.
// Writes to stdout when out is nil. Default level is info.
func DefaultLogger(out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}

	l := &defaultLogger{
		internalLogger: log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile),
		level:          new(uint32),
	}
	atomic.StoreUint32(l.level, uint32(InfoLevel))

	return l
}

type defaultLogger struct {
	internalLogger *log.Logger
	level          *uint32
	fields         Fields
}

func (l defaultLogger) Log(level Level, v ...interface{}) {
	msg := l.format(level, fmt.Sprint(v...))

	if level == FatalLevel {
		l.internalLogger.Fatal(msg)
		return
	}

	if level == PanicLevel {
		_ = l.internalLogger.Output(2, msg)
		panic(fmt.Sprint(v...))
	}

	if level <= Level(atomic.LoadUint32(l.level)) {
		if err := l.internalLogger.Output(3, msg); err != nil {
			l.internalLogger.Printf("err logging an entry: %s. %s\n", err, v)
		}
	}
}

func (l defaultLogger) Logf(level Level, template string, args ...interface{}) {
	l.Log(level, fmt.Sprintf(template, args...))
}

func (l *defaultLogger) SetLevel(level Level) {
	atomic.StoreUint32(l.level, uint32(level))
}

func (l *defaultLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))

	for k, v := range l.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &defaultLogger{
		internalLogger: l.internalLogger,
		level:          l.level,
		fields:         merged,
	}
}

func (l defaultLogger) format(level Level, msg string) string {
	var b strings.Builder

	b.WriteString(defaultPrefix)
	b.WriteString(" ")
	b.WriteString(level.String())

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, l.fields[k]))
		}
	}

	b.WriteString(" ")
	b.WriteString(msg)

	return b.String()
}
