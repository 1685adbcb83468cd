package polodb

// Logger receives the engine's diagnostic events: recovery, checkpoints,
// disabled handles. The method shapes follow log/slog, with alternating
// key/value args, so most structured loggers adapt in a few lines; the
// logger subpackage ships logrus and zap adapters.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger drops every event. It is the default.
type DiscardLogger struct{}

func (d DiscardLogger) Error(string, ...any) {}

func (d DiscardLogger) Warn(string, ...any) {}

func (d DiscardLogger) Info(string, ...any) {}
