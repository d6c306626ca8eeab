package log

// Level of a log entry. Lower value means more severe.
type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// Fields are key-value pairs attached to every entry of a logger
type Fields map[string]interface{}

// Logger is used by all conductor components. Any logging library can be plugged in by implementing it.
type Logger interface {
	Log(level Level, v ...interface{})
	Logf(level Level, template string, args ...interface{})
	SetLevel(level Level)
	// WithFields returns a logger that attaches fields to each entry. Fields of the parent logger are kept.
	WithFields(fields Fields) Logger
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	return "unknown"
}

var levelNames = map[Level]string{
	PanicLevel: "panic",
	FatalLevel: "fatal",
	ErrorLevel: "error",
	WarnLevel:  "warn",
	InfoLevel:  "info",
	DebugLevel: "debug",
	TraceLevel: "trace",
}
