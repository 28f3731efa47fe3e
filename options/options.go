// Package options buffers compiler configuration captured at process start
// until the bridge is initialized: the compiler selection, compiler option
// records, properties ingested from configuration files and the trivial
// method prefixes.
package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chazu/jitbridge/trace"
)

const (
	// CompilerKey selects the compiler. The last value saved wins.
	CompilerKey = "jvmci.compiler"

	// OptionPrefix marks properties that carry compiler options.
	OptionPrefix = "jvmci.option."
)

var (
	ErrHandedOff  = errors.New("options already handed off")
	ErrConfigDir  = errors.New("configuration directory unavailable")
	ErrEmptyValue = errors.New("empty compiler name")
)

// Origin says where an option record came from.
type Origin uint8

const (
	// FromProperty records a process property that was not an option.
	FromProperty Origin = iota
	// FromOption records an option whose prefix was stripped.
	FromOption
)

func (o Origin) String() string {
	if o == FromOption {
		return "option"
	}
	return "property"
}

// Property is one process property.
type Property struct {
	Key   string
	Value string
}

// Record is a buffered compiler option. Ordinal gives the capture order and
// is unique within a pipeline.
type Record struct {
	Key     string
	Value   string
	Origin  Origin
	Ordinal int
}

// Snapshot is the immutable result of Handoff.
type Snapshot struct {
	Compiler        string
	HasCompiler     bool
	Options         []Record
	Properties      []Property
	TrivialPrefixes []string
}

// Option returns the value of the last record with key.
func (s *Snapshot) Option(key string) (string, bool) {
	for i := len(s.Options) - 1; i >= 0; i-- {
		if s.Options[i].Key == key {
			return s.Options[i].Value, true
		}
	}
	return "", false
}

// Pipeline collects configuration before initialization. It is safe for
// concurrent use; after Handoff it rejects further writes.
type Pipeline struct {
	mu sync.Mutex

	compiler    string
	hasCompiler bool
	options     []Record
	properties  []Property
	trivial     []string
	ordinal     int
	warnings    []string
	handedOff   bool
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// SaveCompilerSelection stores name as the selected compiler, replacing
// any earlier selection.
func (p *Pipeline) SaveCompilerSelection(name string) error {
	if name == "" {
		return ErrEmptyValue
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handedOff {
		return ErrHandedOff
	}
	p.compiler = name
	p.hasCompiler = true
	return nil
}

// CompilerSelection returns the current selection.
func (p *Pipeline) CompilerSelection() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compiler, p.hasCompiler
}

// SaveOptions buffers every property whose key starts with OptionPrefix,
// with the prefix stripped. Other properties are ignored. It returns the
// number of records saved.
func (p *Pipeline) SaveOptions(props []Property) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handedOff {
		return 0, ErrHandedOff
	}
	return p.saveOptionsLocked(props), nil
}

func (p *Pipeline) saveOptionsLocked(props []Property) int {
	saved := 0
	for _, prop := range props {
		name, ok := strings.CutPrefix(prop.Key, OptionPrefix)
		if !ok || name == "" {
			continue
		}
		p.options = append(p.options, Record{
			Key:     name,
			Value:   prop.Value,
			Origin:  FromOption,
			Ordinal: p.ordinal,
		})
		p.ordinal++
		saved++
	}
	return saved
}

// SaveProperties records props as process properties, applies any
// CompilerKey entries (in order, so the last one wins) and buffers the
// option entries.
func (p *Pipeline) SaveProperties(props []Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handedOff {
		return ErrHandedOff
	}
	for _, prop := range props {
		if prop.Key == CompilerKey && prop.Value != "" {
			p.compiler = prop.Value
			p.hasCompiler = true
		}
	}
	p.properties = append(p.properties, props...)
	p.saveOptionsLocked(props)
	return nil
}

// Options returns a copy of the buffered option records.
func (p *Pipeline) Options() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.options...)
}

// Properties returns a copy of the recorded process properties.
func (p *Pipeline) Properties() []Property {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Property(nil), p.properties...)
}

// PrintFlagsRequested reports whether a PrintFlags option with a true value
// was captured.
func (p *Pipeline) PrintFlagsRequested() bool { return p.flagSet("PrintFlags") }

// ShowFlagsRequested reports whether a ShowFlags option with a true value
// was captured.
func (p *Pipeline) ShowFlagsRequested() bool { return p.flagSet("ShowFlags") }

func (p *Pipeline) flagSet(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.options {
		if r.Key != name {
			continue
		}
		if v, err := strconv.ParseBool(r.Value); err == nil && v {
			return true
		}
	}
	return false
}

// Handoff returns the buffered configuration exactly once. Later calls, and
// any later save, fail with ErrHandedOff.
func (p *Pipeline) Handoff() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handedOff {
		return nil, ErrHandedOff
	}
	p.handedOff = true
	snap := &Snapshot{
		Compiler:        p.compiler,
		HasCompiler:     p.hasCompiler,
		Options:         p.options,
		Properties:      p.properties,
		TrivialPrefixes: p.trivial,
	}
	p.options = nil
	p.properties = nil
	return snap, nil
}

// HandedOff reports whether Handoff has been called.
func (p *Pipeline) HandedOff() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handedOff
}

// Warnings returns the configuration warnings reported so far.
func (p *Pipeline) Warnings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.warnings...)
}

func (p *Pipeline) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	trace.Logger().Warning(msg)
	p.mu.Lock()
	p.warnings = append(p.warnings, msg)
	p.mu.Unlock()
}
