package detections

// nonMaxSuppression keeps the best box of each overlapping group of the same
// class. candidates must already be sorted best first.
func nonMaxSuppression(candidates []candidate, iouThreshold float32) []candidate {
	kept := make([]candidate, 0, len(candidates))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] || candidates[j].Class != candidates[i].Class {
				continue
			}
			if calculateIOU(candidates[i].BBox, candidates[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIOU(box1, box2 [4]float32) float32 {
	x1 := max(box1[0], box2[0])
	y1 := max(box1[1], box2[1])
	x2 := min(box1[2], box2[2])
	y2 := min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection

	return intersection / union
}
