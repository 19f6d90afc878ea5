// Package results turns a published detection set into a render model that
// any presentation layer (HTML panel, JSON API, terminal table) can draw.
package results

import (
	"fmt"
	"strings"

	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/models"
)

// EmptyMessage is shown when nothing is published.
const EmptyMessage = "Point your camera at waste items to classify them"

// RenderModel is the presentation-agnostic form of one published result set.
type RenderModel struct {
	Empty   bool                    `json:"empty"`
	Message string                  `json:"message,omitempty"`
	Total   int                     `json:"total"`
	Counts  map[models.Category]int `json:"counts"`
	Summary []CategorySummary       `json:"summary"`
	Items   []Item                  `json:"items"`
}

// CategorySummary is one bar of the summary view.
type CategorySummary struct {
	Category models.Category `json:"category"`
	Display  string          `json:"display"`
	Color    string          `json:"color"`
	Count    int             `json:"count"`
	// Percentage is Count / Total * 100, or 0 when Total is 0.
	Percentage float64 `json:"percentage"`
}

// Item is one numbered row of the detected items list.
type Item struct {
	Index          int             `json:"index"`
	Label          string          `json:"label"`
	Category       models.Category `json:"category"`
	Display        string          `json:"display"`
	Color          string          `json:"color"`
	Confidence     float64         `json:"confidence"`
	ConfidenceText string          `json:"confidence_text"`
	Reasoning      string          `json:"reasoning"`
	BBox           [4]float64      `json:"bounding_box"`
}

// Formatter renders result sets against a registry's category order and colors.
type Formatter struct {
	registry *categories.Registry
}

// NewFormatter returns a formatter for r. A nil registry selects the default.
func NewFormatter(r *categories.Registry) *Formatter {
	if r == nil {
		r = categories.Default()
	}
	return &Formatter{registry: r}
}

// Format builds the render model for published. It reads but never retains
// or modifies published.
func (f *Formatter) Format(published []models.ClassifiedDetection) RenderModel {
	names := f.registry.Names()
	counts := make(map[models.Category]int, len(names))
	for _, name := range names {
		counts[name] = 0
	}
	for _, d := range published {
		counts[d.Category]++
	}

	total := len(published)
	model := RenderModel{
		Empty:   total == 0,
		Total:   total,
		Counts:  counts,
		Summary: make([]CategorySummary, 0, len(counts)),
		Items:   make([]Item, 0, total),
	}
	if model.Empty {
		model.Message = EmptyMessage
	}

	for _, name := range names {
		model.Summary = append(model.Summary, f.summary(name, counts[name], total))
	}
	// Categories outside the registry only arrive from hand-built input; they
	// still get a bar after the registry ones.
	for _, d := range published {
		if _, known := f.registry.Category(d.Category); known || containsSummary(model.Summary, d.Category) {
			continue
		}
		model.Summary = append(model.Summary, f.summary(d.Category, counts[d.Category], total))
	}

	for i, d := range published {
		model.Items = append(model.Items, Item{
			Index:          i + 1,
			Label:          d.Label,
			Category:       d.Category,
			Display:        DisplayName(d.Category),
			Color:          categories.HexColor(f.registry.Color(d.Category)),
			Confidence:     d.Confidence,
			ConfidenceText: Percent(d.Confidence),
			Reasoning:      d.Reasoning,
			BBox:           d.BBox,
		})
	}

	return model
}

func (f *Formatter) summary(cat models.Category, count, total int) CategorySummary {
	pct := 0.0
	if total > 0 {
		pct = float64(count) / float64(total) * 100
	}
	return CategorySummary{
		Category:   cat,
		Display:    DisplayName(cat),
		Color:      categories.HexColor(f.registry.Color(cat)),
		Count:      count,
		Percentage: pct,
	}
}

func containsSummary(summary []CategorySummary, cat models.Category) bool {
	for _, s := range summary {
		if s.Category == cat {
			return true
		}
	}
	return false
}

// DisplayName is the upper-cased category name used in captions.
func DisplayName(cat models.Category) string {
	return strings.ToUpper(string(cat))
}

// Percent formats a [0,1] confidence with one decimal place, e.g. "93.1%".
func Percent(confidence float64) string {
	return fmt.Sprintf("%.1f%%", confidence*100)
}
