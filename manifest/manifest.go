// Package manifest parses and validates extension manifests.
package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// Command modes.
const (
	ModeView   = "view"
	ModeNoView = "no-view"
)

// Manifest describes an installed extension and the commands it provides.
type Manifest struct {
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	Author      string       `json:"author,omitempty"`
	Version     string       `json:"version,omitempty"`
	Commands    []Command    `json:"commands"`
	Preferences []Preference `json:"preferences,omitempty"`
}

type Command struct {
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Description string       `json:"description,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	Mode        string       `json:"mode"`
	Entrypoint  string       `json:"entrypoint,omitempty"`
	Arguments   []Argument   `json:"arguments,omitempty"`
	Preferences []Preference `json:"preferences,omitempty"`
}

type Argument struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type Preference struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ValidationError lists every schema violation found in a manifest.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest:\n  - " + strings.Join(e.Details, "\n  - ")
}

var compiled = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Validate checks raw JSON against the manifest schema.
func Validate(raw []byte) error {
	schema, err := compiled()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, desc := range result.Errors() {
		verr.Details = append(verr.Details, desc.String())
	}
	return verr
}

// Parse validates raw and decodes it. Command names must be unique.
func Parse(raw []byte) (*Manifest, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Commands))
	for _, c := range m.Commands {
		if seen[c.Name] {
			return nil, &ValidationError{Details: []string{fmt.Sprintf("commands: duplicate command %q", c.Name)}}
		}
		seen[c.Name] = true
	}
	return &m, nil
}

// Command returns the command called name.
func (m *Manifest) Command(name string) (Command, bool) {
	for _, c := range m.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// EntrypointFor returns the script path of c relative to the extension
// directory. Commands without an explicit entrypoint use dist/<name>.js.
func (c Command) EntrypointFor() string {
	if c.Entrypoint != "" {
		return c.Entrypoint
	}
	return path.Join("dist", c.Name+".js")
}

// Defaults returns the default values of the extension and command
// preferences; command preferences win.
func (m *Manifest) Defaults(command string) map[string]string {
	out := make(map[string]string)
	add := func(prefs []Preference) {
		for _, p := range prefs {
			if p.Default != nil {
				out[p.Name] = fmt.Sprint(p.Default)
			}
		}
	}
	add(m.Preferences)
	if c, ok := m.Command(command); ok {
		add(c.Preferences)
	}
	return out
}
