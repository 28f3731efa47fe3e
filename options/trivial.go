package options

import (
	"strings"
)

// trivialParser reads one method-name prefix per line. Blank lines and
// '#' comments are skipped.
type trivialParser struct {
	p *Pipeline
}

func (tp trivialParser) ParseLine(text string) error {
	line := strings.TrimSpace(text)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	return tp.p.AddTrivialPrefix(line)
}

// LoadTrivialPrefixes adds the prefixes listed in the file at path. A
// missing file is not an error.
func (p *Pipeline) LoadTrivialPrefixes(path string) bool {
	return p.ParseLines(path, trivialParser{p}, false)
}

// AddTrivialPrefix appends prefix to the ordered prefix set. Slashes are
// normalized to dots and duplicates are ignored.
func (p *Pipeline) AddTrivialPrefix(prefix string) error {
	prefix = strings.ReplaceAll(prefix, "/", ".")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handedOff {
		return ErrHandedOff
	}
	for _, existing := range p.trivial {
		if existing == prefix {
			return nil
		}
	}
	p.trivial = append(p.trivial, prefix)
	return nil
}

// TrivialPrefixes returns a copy of the prefix set.
func (p *Pipeline) TrivialPrefixes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.trivial...)
}
