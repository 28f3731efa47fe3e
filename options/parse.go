package options

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LineParser consumes a configuration file one line at a time. Returning a
// non-nil error stops parsing of the current file; the error text becomes
// a warning.
type LineParser interface {
	ParseLine(text string) error
}

// LineParserFunc adapts a function to LineParser.
type LineParserFunc func(text string) error

// ParseLine implements LineParser.
func (f LineParserFunc) ParseLine(text string) error { return f(text) }

// ParseLines feeds each line of the file at path to parser. It reports
// whether the whole file was consumed. A file that cannot be opened is
// warned about only when warnStatFailure is set.
func (p *Pipeline) ParseLines(path string, parser LineParser, warnStatFailure bool) bool {
	f, err := os.Open(path)
	if err != nil {
		if warnStatFailure {
			p.warn("Could not open file %s: %v", path, err)
		}
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if err := parser.ParseLine(line); err != nil {
			p.warn("Error at line %d while parsing %s: %v", lineNo, path, err)
			return false
		}
	}
	if err := scanner.Err(); err != nil {
		p.warn("Error at line %d while parsing %s: %v", lineNo+1, path, err)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// *.properties files
// ---------------------------------------------------------------------------

var (
	errNoSeparator = errors.New("expected key=value")
	errEmptyKey    = errors.New("empty key")
)

// propertiesParser collects key=value lines. Blank lines and lines starting
// with '#' or '!' are skipped.
type propertiesParser struct {
	props []Property
}

func (pp *propertiesParser) ParseLine(text string) error {
	line := strings.TrimSpace(text)
	if line == "" || line[0] == '#' || line[0] == '!' {
		return nil
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("%w in %q", errNoSeparator, line)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptyKey
	}
	pp.props = append(pp.props, Property{Key: key, Value: strings.TrimSpace(value)})
	return nil
}

// ParseProperties reads a single properties file. Lines before a malformed
// line are kept; the rest of the file is skipped.
func (p *Pipeline) ParseProperties(path string) []Property {
	pp := &propertiesParser{}
	p.ParseLines(path, pp, true)
	return pp.props
}

// InitSystemProperties ingests every *.properties file in dir, in name
// order, as process properties. A missing or unreadable directory is a
// warning, or an ErrConfigDir error when strict is set.
func (p *Pipeline) InitSystemProperties(dir string, strict bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if strict {
			return fmt.Errorf("%w: %s: %w", ErrConfigDir, dir, err)
		}
		p.warn("Could not read configuration directory %s: %v", dir, err)
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".properties" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	for _, path := range files {
		if err := p.SaveProperties(p.ParseProperties(path)); err != nil {
			return err
		}
	}
	return nil
}

// ConfigDir returns the fixed configuration directory below a home
// directory.
func ConfigDir(home string) string {
	return filepath.Join(home, "lib", "jvmci")
}
