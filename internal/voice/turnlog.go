package voice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TurnEvent is one NDJSON record in the turn audit log.
type TurnEvent struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Status    string `json:"status"`
}

// TurnLogger records conversation turns for audit. Events are queued and
// written by a background goroutine; a full queue drops the event rather
// than blocking the request path.
type TurnLogger interface {
	Log(event TurnEvent)
	Close() error
}

// TurnLogConfig configures the NDJSON turn logger.
type TurnLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopTurnLogger struct{}

func (noopTurnLogger) Log(TurnEvent) {}
func (noopTurnLogger) Close() error  { return nil }

type fileTurnLogger struct {
	dir    string
	queue  chan TurnEvent
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

// NewTurnLogger creates a turn logger. Disabled config yields a no-op.
func NewTurnLogger(cfg TurnLogConfig, logger *slog.Logger) (TurnLogger, error) {
	if !cfg.Enabled {
		return noopTurnLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create turn log directory: %w", err)
	}

	l := &fileTurnLogger{
		dir:    cfg.Dir,
		queue:  make(chan TurnEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log enqueues an event, dropping it if the queue is full.
func (l *fileTurnLogger) Log(event TurnEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("turn log queue full, dropping event", "session_id", event.SessionID)
	}
}

// Close drains the queue and stops the writer.
func (l *fileTurnLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *fileTurnLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write turn log event",
				"session_id", event.SessionID, "error", err)
		}
	}
}

func (l *fileTurnLogger) write(event TurnEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	path := filepath.Join(l.dir, event.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
