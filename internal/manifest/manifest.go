// Package manifest loads batch files that describe several verifications.
//
// A manifest is YAML. It is decoded strictly (unknown keys are rejected),
// checked against an embedded CUE schema, then checked for rules the schema
// cannot express: unique names, unique outputs and driver requirements.
//
// Example:
//
//	name: nightly
//	defaults:
//	  headless: true
//	  timeout: 30s
//	verifications:
//	  - name: electron-shell
//	    executable: ./node_modules/.bin/electron
//	    args: ["."]
//	    output: artifacts/shell.png
//	  - name: preview
//	    driver: browser
//	    url: http://localhost:4173
//	    output: artifacts/preview.png
//	    full_page: true
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/appshot/internal/harness"
)

// Driver names.
const (
	DriverApp     = "app"
	DriverBrowser = "browser"
	DriverDisplay = "display"
)

// Manifest is a decoded batch file.
type Manifest struct {
	// Name identifies the batch in reports.
	Name string `yaml:"name"`

	// Defaults apply to every verification that does not override them.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Verifications run in order.
	Verifications []Verification `yaml:"verifications"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-"`
}

// Defaults holds batch-wide settings.
type Defaults struct {
	Headless *bool    `yaml:"headless,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Driver   string   `yaml:"driver,omitempty"`
	Viewport string   `yaml:"viewport,omitempty"`
	Settle   Duration `yaml:"settle,omitempty"`
}

// Verification is one entry of a manifest.
type Verification struct {
	Name       string   `yaml:"name"`
	Driver     string   `yaml:"driver,omitempty"`
	Executable string   `yaml:"executable,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	URL        string   `yaml:"url,omitempty"`
	Output     string   `yaml:"output"`
	Headless   *bool    `yaml:"headless,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
	FullPage   bool     `yaml:"full_page,omitempty"`
	Viewport   string   `yaml:"viewport,omitempty"`
	Settle     Duration `yaml:"settle,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if v < 0 {
		return fmt.Errorf("line %d: duration must not be negative", node.Line)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Item is a verification with defaults applied and paths resolved.
type Item struct {
	Name     string
	Driver   string
	Request  harness.Request
	URL      string
	Timeout  time.Duration
	FullPage bool
	Viewport string
	Settle   time.Duration
}

// Load reads, validates and returns the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes and validates manifest data. filename is used in error
// positions and to resolve relative paths.
func Parse(filename string, data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("failed to parse YAML: manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	m.Path = filename

	if err := checkSchema(filename, data); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if err := validate(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Dir is the directory relative paths are resolved against.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return "."
	}
	return filepath.Dir(m.Path)
}

// Items returns every verification with defaults applied, in manifest order.
func (m *Manifest) Items() []Item {
	items := make([]Item, 0, len(m.Verifications))
	for _, v := range m.Verifications {
		items = append(items, m.resolve(v))
	}
	return items
}

// Filter returns the items whose name matches pattern (path.Match syntax).
// An empty pattern matches everything.
func (m *Manifest) Filter(pattern string) ([]Item, error) {
	items := m.Items()
	if pattern == "" {
		return items, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}

	var out []Item
	for _, it := range items {
		if ok, _ := path.Match(pattern, it.Name); ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Manifest) resolve(v Verification) Item {
	d := m.Defaults
	it := Item{
		Name:     v.Name,
		Driver:   first(v.Driver, d.Driver, DriverApp),
		URL:      v.URL,
		FullPage: v.FullPage,
		Viewport: first(v.Viewport, d.Viewport),
		Timeout:  v.Timeout.Std(),
		Settle:   v.Settle.Std(),
	}
	if it.Timeout == 0 {
		it.Timeout = d.Timeout.Std()
	}
	if it.Settle == 0 {
		it.Settle = d.Settle.Std()
	}

	headless := true
	if d.Headless != nil {
		headless = *d.Headless
	}
	if v.Headless != nil {
		headless = *v.Headless
	}

	it.Request = harness.Request{
		Executable: m.resolveExecutable(v.Executable),
		Args:       v.Args,
		Output:     m.resolvePath(v.Output),
		Headless:   headless,
	}
	return it
}

// resolvePath anchors a relative path at the manifest directory.
func (m *Manifest) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir(), p)
}

// resolveExecutable anchors executables given as relative paths; bare
// command names are left for PATH lookup.
func (m *Manifest) resolveExecutable(p string) string {
	if !strings.ContainsRune(p, '/') && !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return m.resolvePath(p)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate checks the rules the schema does not cover.
func validate(m *Manifest) error {
	names := make(map[string]int, len(m.Verifications))
	outputs := make(map[string]string, len(m.Verifications))

	for i, v := range m.Verifications {
		if prev, dup := names[v.Name]; dup {
			return fmt.Errorf("verifications[%d]: name %q already used by verifications[%d]", i, v.Name, prev)
		}
		names[v.Name] = i

		out := filepath.Clean(m.resolvePath(v.Output))
		if prev, dup := outputs[out]; dup {
			return fmt.Errorf("verification %q: output %s already written by %q", v.Name, v.Output, prev)
		}
		outputs[out] = v.Name

		switch first(v.Driver, m.Defaults.Driver, DriverApp) {
		case DriverBrowser:
			if v.URL == "" {
				return fmt.Errorf("verification %q: url is required for the browser driver", v.Name)
			}
		default:
			if v.Executable == "" {
				return fmt.Errorf("verification %q: executable is required", v.Name)
			}
			if v.URL != "" {
				return fmt.Errorf("verification %q: url is only used by the browser driver", v.Name)
			}
		}
	}
	return nil
}
