package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/config"
	"github.com/garbedge/waste-classifier/models"
	"github.com/garbedge/waste-classifier/results"
)

const (
	flagRegistry  = "registry"
	flagThreshold = "threshold"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "wastectl",
		Usage: "classify detected waste items into compost, recyclable and garbage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagRegistry,
				Usage:   "JSON category registry to use instead of the built-in table",
				EnvVars: []string{"REGISTRY_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "classify",
				Usage:     "print the category and reasoning for each label",
				ArgsUsage: "LABEL...",
				Action:    classifyAction,
			},
			{
				Name:      "format",
				Usage:     "classify a JSON array of detections and print the summary",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagThreshold,
						Value: config.DefaultConfThreshold,
						Usage: "drop detections below this confidence",
					},
				},
				Action: formatAction,
			},
			{
				Name:   "categories",
				Usage:  "print the category legend",
				Action: categoriesAction,
			},
		},
	}
}

func registryFrom(c *cli.Context) (*categories.Registry, error) {
	path := c.String(flagRegistry)
	if path == "" {
		return categories.Default(), nil
	}
	return categories.LoadRegistry(path)
}

func classifyAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("classify needs at least one label", 2)
	}
	reg, err := registryFrom(c)
	if err != nil {
		return err
	}
	classifier := categories.NewClassifier(reg)
	fmt.Fprint(c.App.Writer, renderClassifications(classifier, c.Args().Slice()))
	return nil
}

func formatAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("format needs exactly one FILE", 2)
	}
	threshold := c.Float64(flagThreshold)
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return cli.Exit(fmt.Sprintf("threshold must be between 0 and 1, got %g", threshold), 2)
	}
	reg, err := registryFrom(c)
	if err != nil {
		return err
	}

	dets, err := readDetections(c.Args().First())
	if err != nil {
		return err
	}
	classified, err := categories.NewClassifier(reg).ClassifyFrame(dets)
	for _, rejected := range categories.Rejected(err) {
		fmt.Fprintf(c.App.ErrWriter, "skipped %v\n", rejected)
	}

	model := results.NewFormatter(reg).Format(categories.AboveThreshold(classified, threshold))
	fmt.Fprint(c.App.Writer, renderModel(model))
	return nil
}

func categoriesAction(c *cli.Context) error {
	reg, err := registryFrom(c)
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, renderCategories(reg))
	return nil
}

// readDetections loads a JSON array of detections from path.
func readDetections(path string) ([]models.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}
	var entries []models.DetectionInput
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse detections: %w", err)
	}

	out := make([]models.Detection, len(entries))
	for i, e := range entries {
		out[i] = e.Detection()
	}
	return out, nil
}
