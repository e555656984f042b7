package i

// Logger is a named component logger.
type Logger interface {
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}
