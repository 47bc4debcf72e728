package raftsim

import "fmt"

type Logger interface {
	Debug(int, string, ...interface{})
	Info(string, ...interface{})
	Error(string, ...interface{})
}

// nodeLogger tags every line with the node id so that the interleaved output
// of concurrent nodes stays readable.
type nodeLogger struct {
	logger Logger
	prefix string
}

func newNodeLogger(logger Logger, id NodeId) *nodeLogger {
	return &nodeLogger{
		logger: logger,
		prefix: fmt.Sprintf("node %d: ", id),
	}
}

func (l *nodeLogger) Debug(level int, format string, args ...interface{}) {
	l.logger.Debug(level, l.prefix+format, args...)
}

func (l *nodeLogger) Info(format string, args ...interface{}) {
	l.logger.Info(l.prefix+format, args...)
}

func (l *nodeLogger) Error(format string, args ...interface{}) {
	l.logger.Error(l.prefix+format, args...)
}
