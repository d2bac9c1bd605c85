package models

// LogStream identifies which container output channel a line came from
type LogStream string

const (
	LogStreamStdout LogStream = "stdout"
	LogStreamStderr LogStream = "stderr"
)

// LogEntry is one decoded line of container output. Never persisted.
type LogEntry struct {
	Timestamp string    `json:"timestamp"`
	Message   string    `json:"message"`
	Stream    LogStream `json:"stream"`
}
