package mock

import "p2pmaker/internal/core"

// Logger implements the core.ILogger interface and discards everything.
type Logger struct{}

func NewLogger() *Logger { return &Logger{} }

func (l *Logger) Debug(string, ...interface{})               {}
func (l *Logger) Info(string, ...interface{})                {}
func (l *Logger) Warn(string, ...interface{})                {}
func (l *Logger) Error(string, ...interface{})               {}
func (l *Logger) Fatal(string, ...interface{})               {}
func (l *Logger) WithField(string, interface{}) core.ILogger { return l }
func (l *Logger) WithFields(map[string]interface{}) core.ILogger {
	return l
}
