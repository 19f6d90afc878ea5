// Package categories maps detector labels to disposal categories and explains why.
package categories

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/garbedge/waste-classifier/models"
)

// FallbackReasoning is the reasoning given to any label the registry does not know.
const FallbackReasoning = "Unclassified items should be disposed of as garbage."

// CategoryInfo describes one disposal category.
type CategoryInfo struct {
	Name models.Category
	// Color is the display color used for boxes, bars and legends.
	Color color.RGBA
	// Labels is the ordered membership list.
	Labels []string
	// Description is the general justification appended to every item rationale.
	Description string
	// Legend is the short text shown next to the category in a legend.
	Legend string
}

// Definition is the input to NewRegistry.
type Definition struct {
	Categories []CategoryInfo
	// Rationales holds item specific reasoning keyed by label. An empty
	// string means no specific rationale.
	Rationales map[string]string
}

// Entry is the result of a registry lookup.
type Entry struct {
	Category    models.Category
	Description string
	Rationale   string
}

// Registry is the immutable label to category table. It is safe for
// concurrent use because nothing mutates it after NewRegistry returns.
type Registry struct {
	categories []CategoryInfo
	index      map[models.Category]int
	labels     map[string]models.Category
	rationales map[string]string
}

// NewRegistry validates def and builds a registry from it. Every label must
// belong to exactly one category and a garbage category must be present.
func NewRegistry(def Definition) (*Registry, error) {
	if len(def.Categories) == 0 {
		return nil, errors.New("registry has no categories")
	}

	r := &Registry{
		categories: make([]CategoryInfo, 0, len(def.Categories)),
		index:      make(map[models.Category]int, len(def.Categories)),
		labels:     make(map[string]models.Category),
		rationales: make(map[string]string, len(def.Rationales)),
	}

	for _, info := range def.Categories {
		if info.Name == "" {
			return nil, errors.New("category with empty name")
		}
		if _, dup := r.index[info.Name]; dup {
			return nil, fmt.Errorf("category %q defined twice", info.Name)
		}
		if strings.TrimSpace(info.Description) == "" {
			return nil, fmt.Errorf("category %q has no description", info.Name)
		}

		labels := make([]string, len(info.Labels))
		for i, label := range info.Labels {
			if label == "" {
				return nil, fmt.Errorf("category %q has an empty label", info.Name)
			}
			if owner, dup := r.labels[label]; dup {
				return nil, fmt.Errorf("label %q listed in both %q and %q", label, owner, info.Name)
			}
			r.labels[label] = info.Name
			labels[i] = label
		}
		info.Labels = labels

		r.index[info.Name] = len(r.categories)
		r.categories = append(r.categories, info)
	}

	if _, ok := r.index[models.Garbage]; !ok {
		return nil, fmt.Errorf("registry must define the %q category", models.Garbage)
	}

	for label, rationale := range def.Rationales {
		if _, ok := r.labels[label]; !ok {
			return nil, fmt.Errorf("rationale for unknown label %q", label)
		}
		// Blank rationales are dropped so they behave exactly like absent ones.
		if strings.TrimSpace(rationale) == "" {
			continue
		}
		r.rationales[label] = rationale
	}

	return r, nil
}

// Lookup returns the category, general description and specific rationale
// for label. The rationale is empty when the label has none. ok is false for
// labels outside the registry.
func (r *Registry) Lookup(label string) (Entry, bool) {
	cat, ok := r.labels[label]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Category:    cat,
		Description: r.categories[r.index[cat]].Description,
		Rationale:   r.rationales[label],
	}, true
}

// Color returns the display color of a category. Unknown categories get the
// garbage color.
func (r *Registry) Color(cat models.Category) color.RGBA {
	if i, ok := r.index[cat]; ok {
		return r.categories[i].Color
	}
	return r.categories[r.index[models.Garbage]].Color
}

// Category returns a copy of the category's definition.
func (r *Registry) Category(cat models.Category) (CategoryInfo, bool) {
	i, ok := r.index[cat]
	if !ok {
		return CategoryInfo{}, false
	}
	return cloneInfo(r.categories[i]), true
}

// Categories returns every category in registry order.
func (r *Registry) Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(r.categories))
	for i, info := range r.categories {
		out[i] = cloneInfo(info)
	}
	return out
}

// Names returns the category names in registry order.
func (r *Registry) Names() []models.Category {
	out := make([]models.Category, len(r.categories))
	for i, info := range r.categories {
		out[i] = info.Name
	}
	return out
}

// Labels returns every known label, category by category in registry order.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.labels))
	for _, info := range r.categories {
		out = append(out, info.Labels...)
	}
	return out
}

func cloneInfo(info CategoryInfo) CategoryInfo {
	info.Labels = append([]string(nil), info.Labels...)
	return info
}
