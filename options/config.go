package options

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the name of the bridge configuration file.
const ConfigFile = "bridge.toml"

// Config represents a bridge.toml configuration.
type Config struct {
	Compiler CompilerConfig `toml:"compiler"`
	Paths    PathsConfig    `toml:"paths"`
	Heap     HeapConfig     `toml:"heap"`

	// Properties holds the [properties] table in file order.
	Properties []Property `toml:"-"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// CompilerConfig selects and traces the compiler.
type CompilerConfig struct {
	Name       string `toml:"name"`
	TraceLevel int    `toml:"trace-level"`
}

// PathsConfig locates configuration inputs.
type PathsConfig struct {
	Home            string `toml:"home"`
	TrivialPrefixes string `toml:"trivial-prefixes"`
	Strict          bool   `toml:"strict"`
}

// HeapConfig sizes the managed heap.
type HeapConfig struct {
	Capacity   int           `toml:"capacity"`
	Verify     bool          `toml:"verify"`
	GCInterval time.Duration `toml:"gc-interval"`
}

// DefaultHeapCapacity is the heap size, in words, used when none is configured.
const DefaultHeapCapacity = 1 << 20

type rawConfig struct {
	Config
	Properties map[string]any `toml:"properties"`
}

// ParseConfig decodes bridge configuration from TOML text.
func ParseConfig(data string) (*Config, error) {
	var raw rawConfig
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, err
	}
	c := raw.Config

	// MetaData.Keys preserves file order, which fixes option ordinals.
	for _, key := range md.Keys() {
		if len(key) < 2 || key[0] != "properties" {
			continue
		}
		v, ok := lookupLeaf(raw.Properties, key[1:])
		if !ok {
			continue
		}
		c.Properties = append(c.Properties, Property{
			Key:   strings.Join(key[1:], "."),
			Value: fmt.Sprint(v),
		})
	}

	if c.Heap.Capacity <= 0 {
		c.Heap.Capacity = DefaultHeapCapacity
	}
	return &c, nil
}

// lookupLeaf walks nested tables and returns a non-table value.
func lookupLeaf(table map[string]any, path []string) (any, bool) {
	var cur any = table
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if _, isTable := cur.(map[string]any); isTable {
		return nil, false
	}
	return cur, true
}

// LoadConfig parses the bridge configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := ParseConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindConfig walks up from startDir looking for bridge.toml and loads the
// first one found. It returns nil, nil when there is none.
func FindConfig(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// HomeDir returns the configured home, resolved against the config's
// directory.
func (c *Config) HomeDir() string {
	return c.resolve(c.Paths.Home)
}

// TrivialPrefixesPath returns the configured trivial-prefix file, resolved
// against the config's directory, or "".
func (c *Config) TrivialPrefixesPath() string {
	return c.resolve(c.Paths.TrivialPrefixes)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Apply feeds the configuration into p: system properties from the home
// directory, then the [properties] table, then the compiler name, then the
// trivial prefix file. Later sources override earlier compiler selections.
func (c *Config) Apply(p *Pipeline) error {
	if home := c.HomeDir(); home != "" {
		if err := p.InitSystemProperties(ConfigDir(home), c.Paths.Strict); err != nil {
			return err
		}
	}
	if err := p.SaveProperties(c.Properties); err != nil {
		return err
	}
	if c.Compiler.Name != "" {
		if err := p.SaveCompilerSelection(c.Compiler.Name); err != nil {
			return err
		}
	}
	if path := c.TrivialPrefixesPath(); path != "" {
		p.LoadTrivialPrefixes(path)
	}
	return nil
}
