package presets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a predefined instruction offered as a shortcut for the prompt.
type Preset struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
	Text  string `json:"text" yaml:"text"`
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
}

var builtin = []Preset{
	{
		Key:   "retro",
		Label: "Retro Style",
		Text:  "Apply a retro 80s aesthetic filter with grain",
		Icon:  "📺",
		Color: "bg-orange-100 text-orange-600",
	},
	{
		Key:   "sketch",
		Label: "Sketch",
		Text:  "Convert this image into a pencil sketch style",
		Icon:  "✏️",
		Color: "bg-gray-100 text-gray-600",
	},
	{
		Key:   "pastel-workflow",
		Label: "Pastel Workflow",
		Text:  "Redraw this diagram in a cute pastel style with rounded shapes and mint/pink colors, like a modern workflow slide.",
		Icon:  "🍡",
		Color: "bg-green-100 text-green-600",
	},
	{
		Key:   "cyberpunk",
		Label: "Cyberpunk",
		Text:  "Make it look cyberpunk with neon lights",
		Icon:  "🤖",
		Color: "bg-purple-100 text-purple-600",
	},
}

// Catalog is an ordered, read-only preset list.
type Catalog struct {
	items []Preset
	byKey map[string]int
}

func Default() *Catalog {
	c, err := newCatalog(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a YAML preset list. An empty path yields the built-in list.
//
//	presets:
//	  - key: sketch
//	    label: Sketch
//	    text: Convert this image into a pencil sketch style
//	    icon: "✏️"
//	    color: bg-gray-100 text-gray-600
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return newCatalog(doc.Presets)
}

func newCatalog(items []Preset) (*Catalog, error) {
	if len(items) == 0 {
		return nil, errors.New("preset list is empty")
	}

	c := &Catalog{
		items: make([]Preset, 0, len(items)),
		byKey: make(map[string]int, len(items)),
	}
	for i, p := range items {
		p.Key = strings.TrimSpace(p.Key)
		p.Label = strings.TrimSpace(p.Label)
		p.Text = strings.TrimSpace(p.Text)

		if p.Key == "" {
			p.Key = keyFromLabel(p.Label)
		}
		switch {
		case p.Key == "":
			return nil, fmt.Errorf("preset #%d: key or label is required", i+1)
		case p.Text == "":
			return nil, fmt.Errorf("preset %q: text is required", p.Key)
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("preset %q: duplicate key", p.Key)
		}
		if p.Label == "" {
			p.Label = p.Key
		}

		c.byKey[p.Key] = len(c.items)
		c.items = append(c.items, p)
	}
	return c, nil
}

// All returns a copy of the presets in display order.
func (c *Catalog) All() []Preset {
	out := make([]Preset, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Lookup(key string) (Preset, bool) {
	idx, ok := c.byKey[strings.TrimSpace(key)]
	if !ok {
		return Preset{}, false
	}
	return c.items[idx], true
}

func keyFromLabel(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	return strings.Join(fields, "-")
}
