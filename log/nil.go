package log

//NewNilLogger prints nothing
func NewNilLogger() Logger {
	return &nilLogger{}
}

type nilLogger struct {
}

func (n nilLogger) Log(level Level, v ...interface{}) {
}

func (n nilLogger) Logf(level Level, template string, args ...interface{}) {
}

func (n nilLogger) SetLevel(level Level) {
}

func (n *nilLogger) WithFields(fields Fields) Logger {
	return n
}
