package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionInput_Detection(t *testing.T) {
	var in []DetectionInput
	require.NoError(t, json.Unmarshal([]byte(`[
		{"label": "Wood", "confidence": 0.8, "bounding_box": [1, 2, 3, 4]},
		{"label": "Tin", "confidence": 0, "bounding_box": [1, 2, 3, 4]},
		{"label": "Foil", "bounding_box": [1, 2, 3, 4]},
		{"label": "Textile", "confidence": 0.5, "bounding_box": [1, 2]},
		{"label": "Ceramic", "confidence": 0.5}
	]`), &in))
	require.Len(t, in, 5)

	assert.Equal(t, Detection{Label: "Wood", Confidence: 0.8, BBox: [4]float64{1, 2, 3, 4}}, in[0].Detection())
	assert.Equal(t, 0.0, in[1].Detection().Confidence, "explicit zero is kept")
	assert.True(t, math.IsNaN(in[2].Detection().Confidence))

	for _, i := range []int{3, 4} {
		for _, v := range in[i].Detection().BBox {
			assert.True(t, math.IsNaN(v), in[i].Label)
		}
	}
}
