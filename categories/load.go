package categories

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/garbedge/waste-classifier/models"
)

const maxRegistryFileSize = 1 << 20

// File is the JSON form of a registry definition.
//
//	{
//	  "categories": [
//	    {"name": "compost", "color": "#00b400", "description": "...", "legend": "...", "labels": ["Wood"]}
//	  ],
//	  "rationales": {"Wood": "Untreated wood is biodegradable."}
//	}
type File struct {
	Categories []FileCategory    `json:"categories"`
	Rationales map[string]string `json:"rationales,omitempty"`
}

type FileCategory struct {
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	Description string   `json:"description"`
	Legend      string   `json:"legend,omitempty"`
	Labels      []string `json:"labels"`
}

// LoadRegistry reads a JSON registry file and builds a Registry from it.
func LoadRegistry(path string) (*Registry, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("registry file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat registry file: %w", err)
	}
	if info.Size() > maxRegistryFileSize {
		return nil, fmt.Errorf("registry file too large: %d bytes (max %d)", info.Size(), maxRegistryFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	return ParseRegistry(data)
}

// ParseRegistry builds a Registry from the JSON form in data.
func ParseRegistry(data []byte) (*Registry, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry JSON: %w", err)
	}

	def, err := f.Definition()
	if err != nil {
		return nil, err
	}

	r, err := NewRegistry(def)
	if err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	return r, nil
}

// Definition converts the file form, parsing hex colors.
func (f File) Definition() (Definition, error) {
	def := Definition{
		Categories: make([]CategoryInfo, 0, len(f.Categories)),
		Rationales: f.Rationales,
	}
	for _, c := range f.Categories {
		rgba, err := ParseColor(c.Color)
		if err != nil {
			return Definition{}, fmt.Errorf("category %q: %w", c.Name, err)
		}
		def.Categories = append(def.Categories, CategoryInfo{
			Name:        models.Category(c.Name),
			Color:       rgba,
			Labels:      c.Labels,
			Description: c.Description,
			Legend:      c.Legend,
		})
	}
	return def, nil
}

// ParseColor parses a "#rrggbb" string into an opaque color.
func ParseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// HexColor renders c as "#rrggbb".
func HexColor(c color.RGBA) string {
	cf, _ := colorful.MakeColor(color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
	return cf.Hex()
}
