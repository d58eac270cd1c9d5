//go:generate mockgen -package=mocks -destination=../../mocks/mock_logger.go github.com/prepolicy/prepolicy/pkg/logging Logger

package logging

// Logger defines a common interface for logging.
// Components depend on this instead of zap directly so tests can swap it out.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
}
