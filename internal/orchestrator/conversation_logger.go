package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ConversationLogConfig controls where turn records are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON record. The log is an audit trail; it
// is never read back to rebuild a session.
type ConversationLogEvent struct {
	Timestamp   time.Time `json:"ts"`
	ClientID    string    `json:"client_id,omitempty"`
	SessionID   string    `json:"session_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Direction   string    `json:"direction"`
	EventType   string    `json:"event_type"`
	AgentType   string    `json:"agent_type,omitempty"`
	Focus       string    `json:"focus,omitempty"`
	Action      string    `json:"action,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	IsError     bool      `json:"is_error,omitempty"`
	UpdatedKeys []string  `json:"updated_keys,omitempty"`
	Content     string    `json:"content"`
	ContentRaw  string    `json:"content_raw,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(ev ConversationLogEvent)
}

// NopConversationLogger discards everything.
type NopConversationLogger struct{}

// Log implements ConversationLogger.
func (NopConversationLogger) Log(ConversationLogEvent) {}

// FileConversationLogger writes events asynchronously to one file per
// project and session, plus an optional global file. When the queue is full
// events are dropped rather than blocking a turn.
type FileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

// NewConversationLogger starts the writer goroutine. A disabled config
// returns a logger whose Log is a no-op.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (*FileConversationLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	l := &FileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues ev without blocking.
func (l *FileConversationLogger) Log(ev ConversationLogEvent) {
	if !l.cfg.Enabled {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ContentRaw == "" {
		ev.ContentRaw = ev.Content
	}
	ev.Content = cleanForReadability(ev.ContentRaw)

	select {
	case l.queue <- ev:
	default:
		l.mu.Lock()
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		if n == 1 || n%100 == 0 {
			l.logger.Warn("conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Close drains the queue and stops the writer.
func (l *FileConversationLogger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}

func (l *FileConversationLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *FileConversationLogger) write(ev ConversationLogEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("failed to encode conversation log event", "error", err)
		return
	}
	line = append(line, '\n')

	owner := ev.ProjectID
	if owner == "" {
		owner = ev.ClientID
	}
	path := filepath.Join(l.cfg.Dir, safeSegment(owner), safeSegment(ev.SessionID)+".ndjson")
	if err := appendLine(path, line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
	if l.cfg.GlobalEnabled {
		if err := appendLine(l.cfg.GlobalPath, line); err != nil {
			l.logger.Warn("failed to write global conversation log", "error", err)
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeSegment(s string) string {
	s = unsafePath.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiSequence.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
