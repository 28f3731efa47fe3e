// Package trace holds the bridge's logging: a named commonlog logger for
// warnings and errors, and the five nested diagnostic trace levels.
package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

// Name is the commonlog name used by every bridge package.
const Name = "jitbridge"

// MaxLevel is the most verbose trace level.
const MaxLevel = 5

var (
	loggerMu sync.RWMutex
	logger   commonlog.Logger = commonlog.GetLogger(Name)
)

// Logger returns the bridge logger. Until a backend is configured, messages
// are dropped.
func Logger() commonlog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the bridge logger. Tests use it to capture warnings.
func SetLogger(l commonlog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = commonlog.MockLogger{}
	}
	logger = l
}

// Configure sets the verbosity of the configured commonlog backend.
func Configure(verbosity int) {
	commonlog.Configure(verbosity, nil)
}

// ---------------------------------------------------------------------------
// Tracer
// ---------------------------------------------------------------------------

// Tracer writes diagnostic trace output gated by a level between 0 (off)
// and MaxLevel. Output at level N appears whenever the configured level is
// at least N, so each level is a superset of the ones below it.
type Tracer struct {
	mu    sync.Mutex
	level int
	w     io.Writer
}

// NewTracer creates a tracer. A nil writer selects standard output. Levels
// outside [0, MaxLevel] are clamped.
func NewTracer(level int, w io.Writer) *Tracer {
	if w == nil {
		w = os.Stdout
	}
	return &Tracer{level: clamp(level), w: w}
}

func clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > MaxLevel:
		return MaxLevel
	}
	return level
}

// Level returns the configured level.
func (t *Tracer) Level() int {
	if t == nil {
		return 0
	}
	return t.level
}

// Enabled reports whether output at level n is produced.
func (t *Tracer) Enabled(n int) bool {
	return t != nil && n >= 1 && n <= t.level
}

// Prefix returns the line prefix for level n: three spaces of indentation
// per level beyond the first, then "JVMCITrace-N: ".
func Prefix(n int) string {
	return strings.Repeat(" ", 3*(n-1)) + fmt.Sprintf("JVMCITrace-%d: ", n)
}

// Printf writes one line at level n.
func (t *Tracer) Printf(n int, format string, args ...any) {
	if !t.Enabled(n) {
		return
	}
	line := Prefix(n) + fmt.Sprintf(format, args...)
	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.w, line+"\n")
}
