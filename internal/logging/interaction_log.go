package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogsDirName is the reserved folder inside the scribe folder holding the
// daily interaction logs. It is never indexed for templates.
const LogsDirName = "logs"

// InteractionLog appends rendered prompts and replies to a markdown file per
// day under <scribe>/logs/YYYY-MM-DD.md.
type InteractionLog struct {
	dir     string
	enabled bool
	now     func() time.Time
	mutex   sync.Mutex
}

// NewInteractionLog creates a log rooted at the scribe folder. A disabled log
// accepts writes and discards them.
func NewInteractionLog(scribeFolder string, enabled bool) *InteractionLog {
	return &InteractionLog{
		dir:     filepath.Join(scribeFolder, LogsDirName),
		enabled: enabled,
		now:     time.Now,
	}
}

// Enabled reports whether entries are written.
func (l *InteractionLog) Enabled() bool {
	return l != nil && l.enabled
}

// FilePath returns the path of today's log file.
func (l *InteractionLog) FilePath() string {
	date := l.now().UTC().Format("2006-01-02")
	return filepath.Join(l.dir, date+".md")
}

// Log appends "[timestamp] message" to today's file and returns a
// file://path#line reference to the line the entry starts on.
func (l *InteractionLog) Log(message string) (string, error) {
	if !l.Enabled() {
		return "", nil
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := l.FilePath()
	lines := 0
	if data, err := os.ReadFile(path); err == nil {
		lines = bytes.Count(data, []byte("\n")) + 1
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	timestamp := l.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	if _, err := fmt.Fprintf(f, "[%s] %s\n", timestamp, message); err != nil {
		return "", fmt.Errorf("failed to write log entry: %w", err)
	}

	ref := fmt.Sprintf("file://%s#%d", path, lines)
	log.Debug().Str("ref", ref).Msg("Interaction logged")
	return ref, nil
}
