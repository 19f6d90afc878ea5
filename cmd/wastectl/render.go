package main

import (
	"fmt"
	"image/color"
	"strings"

	fcolor "github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/models"
	"github.com/garbedge/waste-classifier/results"
)

// paint renders s in c. fatih/color drops the escape codes when output is
// not a terminal.
func paint(c color.RGBA, s string) string {
	return fcolor.RGB(int(c.R), int(c.G), int(c.B)).Sprint(s)
}

func paintHex(hex, s string) string {
	c, err := categories.ParseColor(hex)
	if err != nil {
		return s
	}
	return paint(c, s)
}

func renderClassifications(c *categories.Classifier, labels []string) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Label", "Category", "Reasoning"})
	for _, label := range labels {
		cl := c.Classify(label)
		t.AppendRow(table.Row{label, paint(cl.Color, results.DisplayName(cl.Category)), cl.Reasoning})
	}
	return t.Render() + "\n"
}

func renderModel(m results.RenderModel) string {
	if m.Empty {
		return m.Message + "\n"
	}

	var b strings.Builder
	summary := table.NewWriter()
	summary.SetTitle("Summary (%d items)", m.Total)
	summary.AppendHeader(table.Row{"Category", "Count", "Share"})
	for _, s := range m.Summary {
		summary.AppendRow(table.Row{paintHex(s.Color, s.Display), s.Count, fmt.Sprintf("%.1f%%", s.Percentage)})
	}
	b.WriteString(summary.Render())
	b.WriteString("\n\n")

	items := table.NewWriter()
	items.SetTitle("Detected items")
	items.AppendHeader(table.Row{"#", "Label", "Category", "Confidence", "Reasoning"})
	for _, it := range m.Items {
		items.AppendRow(table.Row{it.Index, it.Label, paintHex(it.Color, it.Display), it.ConfidenceText, it.Reasoning})
	}
	b.WriteString(items.Render())
	b.WriteString("\n")
	return b.String()
}

func renderCategories(reg *categories.Registry) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Category", "Color", "Legend", "Labels"})
	for _, info := range reg.Categories() {
		t.AppendRow(table.Row{
			paint(info.Color, results.DisplayName(info.Name)),
			categories.HexColor(info.Color),
			info.Legend,
			len(info.Labels),
		})
	}
	t.AppendFooter(table.Row{"", "", "Unlisted labels", models.Garbage})
	return t.Render() + "\n"
}
