package presets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	all := c.All()
	if len(all) != 4 {
		t.Fatalf("len(All()) = %d, want 4", len(all))
	}

	wantOrder := []string{"Retro Style", "Sketch", "Pastel Workflow", "Cyberpunk"}
	for i, label := range wantOrder {
		if all[i].Label != label {
			t.Fatalf("All()[%d].Label = %q, want %q", i, all[i].Label, label)
		}
	}

	p, ok := c.Lookup("sketch")
	if !ok || p.Text != "Convert this image into a pencil sketch style" {
		t.Fatalf("Lookup(sketch) = %+v, %v", p, ok)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("Lookup(missing) succeeded")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	c := Default()
	all := c.All()
	all[0].Text = "changed"

	if p, _ := c.Lookup("retro"); p.Text == "changed" {
		t.Fatal("catalog mutated through All()")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		wantKey string
	}{
		{
			name: "valid",
			yaml: `
presets:
  - key: watercolor
    label: Watercolor
    text: Make it look like a watercolor painting
    icon: "🎨"
    color: bg-blue-100 text-blue-600
`,
			wantKey: "watercolor",
		},
		{
			name: "key derived from label",
			yaml: `
presets:
  - label: Futuristic Glow
    text: Add a futuristic glow
`,
			wantKey: "futuristic-glow",
		},
		{
			name:    "empty list",
			yaml:    "presets: []\n",
			wantErr: "preset list is empty",
		},
		{
			name: "missing text",
			yaml: `
presets:
  - key: a
    label: A
`,
			wantErr: `preset "a": text is required`,
		},
		{
			name: "duplicate key",
			yaml: `
presets:
  - {key: a, text: one}
  - {key: a, text: two}
`,
			wantErr: `preset "a": duplicate key`,
		},
		{
			name:    "malformed",
			yaml:    "presets: [",
			wantErr: "decode presets",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse([]byte(tc.yaml))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Parse() error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if _, ok := c.Lookup(tc.wantKey); !ok {
				t.Fatalf("Lookup(%q) failed", tc.wantKey)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	if err != nil || len(c.All()) != 4 {
		t.Fatalf("Load(\"\") = %v, %v", c, err)
	}

	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, []byte("presets:\n  - {key: mono, text: Make it black and white}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p, ok := c.Lookup("mono"); !ok || p.Label != "mono" {
		t.Fatalf("Lookup(mono) = %+v, %v", p, ok)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load(missing) succeeded")
	}
}
