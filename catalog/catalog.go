// Package catalog holds the registry of variable names a formula may reference.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/formulas/expr"
)

//go:embed inputs.yaml
var defaultTable []byte

// Input describes one known variable
type Input struct {
	Name        string `yaml:"name" json:"name"`
	Label       string `yaml:"label" json:"label"`
	Category    string `yaml:"category" json:"category"`
	Unit        string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type table struct {
	Inputs []Input `yaml:"inputs"`
}

// Catalog is an immutable lookup table of inputs. Safe for concurrent use.
type Catalog struct {
	inputs []Input
	byName map[string]Input
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("built-in input catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes a YAML catalog and validates every entry
func Load(r io.Reader) (*Catalog, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	return New(t.Inputs)
}

// New builds a catalog from inputs, preserving their order
func New(inputs []Input) (*Catalog, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one input")
	}

	c := &Catalog{
		inputs: make([]Input, 0, len(inputs)),
		byName: make(map[string]Input, len(inputs)),
	}
	for i, in := range inputs {
		if err := expr.ValidateIdentifier(in.Name); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if in.Category == "" {
			return nil, fmt.Errorf("input %q has no category", in.Name)
		}
		if _, dup := c.byName[in.Name]; dup {
			return nil, fmt.Errorf("input %q is listed more than once", in.Name)
		}
		if in.Label == "" {
			in.Label = in.Name
		}
		c.inputs = append(c.inputs, in)
		c.byName[in.Name] = in
	}
	return c, nil
}

// ListInputs returns every input keyed by name
func (c *Catalog) ListInputs() map[string]Input {
	out := make(map[string]Input, len(c.byName))
	for k, v := range c.byName {
		out[k] = v
	}
	return out
}

// ListInputsByCategory groups inputs by category in table order
func (c *Catalog) ListInputsByCategory() map[string][]Input {
	out := make(map[string][]Input)
	for _, in := range c.inputs {
		out[in.Category] = append(out[in.Category], in)
	}
	return out
}

// Lookup returns the input called name
func (c *Catalog) Lookup(name string) (Input, bool) {
	in, ok := c.byName[name]
	return in, ok
}

// Names returns every input name in table order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.inputs))
	for i, in := range c.inputs {
		names[i] = in.Name
	}
	return names
}

// Categories returns the distinct categories sorted alphabetically
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for _, in := range c.inputs {
		if !seen[in.Category] {
			seen[in.Category] = true
			cats = append(cats, in.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// Len returns the number of inputs
func (c *Catalog) Len() int {
	return len(c.inputs)
}
