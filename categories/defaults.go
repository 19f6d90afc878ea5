package categories

import (
	"image/color"
	"sync"

	"github.com/garbedge/waste-classifier/models"
)

// DefaultDefinition is the built-in waste table for the garbage
// classification dataset vocabulary.
func DefaultDefinition() Definition {
	return Definition{
		Categories: []CategoryInfo{
			{
				Name:        models.Compost,
				Color:       color.RGBA{R: 0, G: 180, B: 0, A: 255},
				Labels:      []string{"Organic", "Wood", "Paper", "Paper bag", "Paper cups", "Cellulose"},
				Description: "This item is biodegradable and can be broken down naturally into compost.",
				Legend:      "Biodegradable items that break down naturally",
			},
			{
				Name:  models.Recyclable,
				Color: color.RGBA{R: 0, G: 0, B: 255, A: 255},
				Labels: []string{
					"Cardboard", "Glass bottle", "Aluminum can", "Plastic bottle", "Plastic bag",
					"Plastic cup", "Plastic caps", "Scrap metal", "Tetra pack",
					"Aluminum caps", "Milk bottle",
				},
				Description: "This item can be processed and reused to make new products.",
				Legend:      "Items that can be processed and reused",
			},
			{
				Name:  models.Garbage,
				Color: color.RGBA{R: 255, G: 0, B: 0, A: 255},
				Labels: []string{
					"Aerosols", "Ceramic", "Combined plastic", "Container for household chemicals",
					"Disposable tableware", "Electronics", "Foil", "Furniture", "Iron utensils",
					"Liquid", "Metal shavings", "Paper shavings", "Papier mache", "Plastic can",
					"Plastic canister", "Plastic shaker", "Plastic shavings", "Plastic toys",
					"Postal packaging", "Printing industry", "Stretch film", "Textile", "Tin",
					"Unknown plastic", "Zip plastic bag",
				},
				Description: "This item cannot be composted or recycled in standard facilities.",
				Legend:      "Items that cannot be composted or recycled in standard facilities",
			},
		},
		Rationales: map[string]string{
			"Organic":    "Natural food waste and plant material breaks down easily in compost.",
			"Wood":       "Untreated wood is biodegradable and suitable for composting.",
			"Paper":      "Clean paper products are biodegradable and can be composted.",
			"Paper bag":  "Paper bags are biodegradable and compostable when not contaminated.",
			"Paper cups": "Paper cups without plastic lining can be composted.",
			"Cellulose":  "Natural cellulose materials break down in compost environments.",

			"Cardboard":      "Cardboard is made from paper fibers that can be recycled into new paper products.",
			"Glass bottle":   "Glass can be melted down and reformed multiple times without quality degradation.",
			"Aluminum can":   "Aluminum is infinitely recyclable and uses less energy than producing new aluminum.",
			"Plastic bottle": "Many plastic bottles (PET/HDPE) can be recycled into new plastic products.",
			"Plastic bag":    "Clean plastic bags can be recycled at specialized facilities.",
			"Plastic cup":    "Some plastic cups marked with recycle symbols can be processed at recycling centers.",
			"Plastic caps":   "Hard plastic caps are often recyclable as #2, #4, or #5 plastics.",
			"Scrap metal":    "Metal can be melted down and reused without losing quality.",
			"Tetra pack":     "Multi-layer packaging that can be recycled through specialized processes.",
			"Aluminum caps":  "Metal caps are recyclable similar to aluminum cans.",
			"Milk bottle":    "Plastic milk bottles are typically HDPE (#2) which is widely recyclable.",

			"Aerosols":                          "Pressurized containers can be hazardous if not properly handled.",
			"Ceramic":                           "Ceramic doesn't break down and can contaminate recycling streams.",
			"Combined plastic":                  "Mixed plastic types are difficult to separate for recycling.",
			"Container for household chemicals": "May contain residual chemicals that contaminate recycling.",
			"Electronics":                       "Contains multiple materials and may require special e-waste processing.",
			"Foil":                              "Often contaminated with food waste making it unsuitable for standard recycling.",
		},
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared registry built from DefaultDefinition.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(DefaultDefinition())
		if err != nil {
			panic("categories: invalid built-in table: " + err.Error())
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
