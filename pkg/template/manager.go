// Package template loads named property bags and applies them to new
// objects. A template file is an array of single-key objects:
//
//	[{"Archer": {"Speed": 1.5, "Active": true, "Tags": ["ranged"]}}]
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"objectcore/pkg/objects"
)

var (
	// ErrNotFound is returned by Get for unknown template names.
	ErrNotFound = errors.New("template not found")
	// ErrInvalidTemplate is returned when a document does not have the
	// template array shape.
	ErrInvalidTemplate = errors.New("invalid template document")
)

// Template is a named property bag. Numbers are float64, lists are []any of
// one scalar kind.
type Template map[string]any

// Manager holds the templates of the last successful load.
type Manager struct {
	templates map[string]Template
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{templates: make(map[string]Template)}
}

// LoadFile loads a .json, .yaml or .yml template file.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loading object template from %q failed: %w", path, err)
	}
	switch ext := filepath.Ext(path); ext {
	case ".json":
		return m.LoadJSON(data)
	case ".yaml", ".yml":
		return m.LoadYAML(data)
	default:
		return fmt.Errorf("unsupported template format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

// LoadJSON replaces the loaded templates with those in data.
func (m *Manager) LoadJSON(data []byte) error {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return m.load(root)
}

// LoadYAML replaces the loaded templates with those in data.
func (m *Manager) LoadYAML(data []byte) error {
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return m.load(root)
}

func (m *Manager) load(root any) error {
	items, ok := root.([]any)
	if !ok {
		return fmt.Errorf("%w: root node is not an array", ErrInvalidTemplate)
	}
	loaded := make(map[string]Template)
	for i, item := range items {
		entry, ok := asMap(item)
		if !ok || len(entry) != 1 {
			return fmt.Errorf("%w: array item %d is not a single-key object", ErrInvalidTemplate, i)
		}
		for name, body := range entry {
			props, ok := asMap(body)
			if !ok {
				return fmt.Errorf("%w: template %s is not an object", ErrInvalidTemplate, name)
			}
			tmpl, exists := loaded[name]
			if !exists {
				tmpl = make(Template, len(props))
				loaded[name] = tmpl
			}
			for key, raw := range props {
				if _, dup := tmpl[key]; dup {
					return fmt.Errorf("%w: template %s repeats property %s", ErrInvalidTemplate, name, key)
				}
				v, err := normalize(raw)
				if err != nil {
					return fmt.Errorf("template %s property %s: %w", name, key, err)
				}
				tmpl[key] = v
			}
		}
	}
	m.templates = loaded
	return nil
}

// Get returns the named template.
func (m *Manager) Get(name string) (Template, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return nil, fmt.Errorf("getting object template %q failed: %w", name, ErrNotFound)
	}
	return tmpl, nil
}

// Names returns the loaded template names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateFromTemplate creates an object of type t from args, assigns the
// template's values to its settable properties by name and, when the object
// implements objects.TemplateTarget, calls SetupFromTemplate. A failed
// assignment removes the object again.
func CreateFromTemplate(store *objects.Store, m *Manager, t objects.TypeKey, name string, args ...any) (objects.Handle, error) {
	tmpl, err := m.Get(name)
	if err != nil {
		return objects.Handle{}, err
	}
	h, err := store.Create(t, args...)
	if err != nil {
		return objects.Handle{}, err
	}
	obj, _ := store.Lookup(h)
	if err := store.Registry().SetProperties(obj, tmpl); err != nil {
		store.Remove(h)
		return objects.Handle{}, fmt.Errorf("apply template %s to %s: %w", name, h, err)
	}
	if target, ok := obj.(objects.TemplateTarget); ok {
		target.SetupFromTemplate(name, tmpl)
	}
	return h, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

func normalize(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		var kind string
		for i, item := range x {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			if _, nested := nv.([]any); nested {
				return nil, fmt.Errorf("%w: nested list", objects.ErrUnsupportedValueType)
			}
			k := fmt.Sprintf("%T", nv)
			if kind != "" && k != kind {
				return nil, fmt.Errorf("%w: mixed list of %s and %s", objects.ErrUnsupportedValueType, kind, k)
			}
			kind = k
			out[i] = nv
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v (%T)", objects.ErrUnsupportedValueType, v, v)
}
