// Package models holds the table of selectable models and their input
// capabilities.
package models

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityVision Capability = "vision"
)

//go:embed models.yaml
var defaultTable []byte

type Model struct {
	ID    string     `yaml:"id" json:"id"`
	Name  string     `yaml:"name" json:"name"`
	Type  Capability `yaml:"type" json:"type"`
	Label string     `yaml:"label" json:"label"`
}

type table struct {
	Models []Model `yaml:"models"`
}

// Registry is immutable once built and safe for concurrent use.
type Registry struct {
	models []Model
	byID   map[string]Model
}

func NewRegistry(list []Model) (*Registry, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("model table is empty")
	}

	r := &Registry{
		models: make([]Model, 0, len(list)),
		byID:   make(map[string]Model, len(list)),
	}
	for i, m := range list {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("model %d: id is required", i)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate id", m.ID)
		}
		switch m.Type {
		case CapabilityText, CapabilityVision:
		case "":
			m.Type = CapabilityText
		default:
			return nil, fmt.Errorf("model %q: unknown type %q", m.ID, m.Type)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		r.models = append(r.models, m)
		r.byID[m.ID] = m
	}
	return r, nil
}

// Parse builds a registry from a YAML document with a top-level "models" list.
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse model table: %w", err)
	}
	return NewRegistry(t.Models)
}

// Load reads the table at path, or the built-in table when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model table %s: %w", path, err)
	}
	return Parse(data)
}

func Default() (*Registry, error) {
	return Parse(defaultTable)
}

// All returns a copy of the table in declaration order.
func (r *Registry) All() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

func (r *Registry) Lookup(id string) (Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

func (r *Registry) IsVision(id string) bool {
	m, ok := r.byID[id]
	return ok && m.Type == CapabilityVision
}
