package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/garbedge/waste-classifier/models"
)

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// candidate is one raw prediction above the model floor, in original image
// pixel coordinates.
type candidate struct {
	BBox       [4]float32
	Confidence float32
	Class      int
}

// ProcessImage runs the model on img and returns its detections scoring at
// least conf, best first within each class after NMS. Inference is retried
// with a growing delay.
func ProcessImage(ctx context.Context, img image.Image, model *ModelSession, conf float64, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			dets, err := processImageInternal(img, model, float32(conf), timings)
			if err == nil {
				return dets, nil
			}
			lastErr = err

			if attempt < RetryAttempts {
				time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
				continue
			}
		}
	}

	if lastErr != nil {
		return nil, &ProcessingError{Message: fmt.Sprintf("inference failed after %d attempts", RetryAttempts), Cause: lastErr}
	}
	return nil, errors.New("unknown error")
}

func processImageInternal(img image.Image, model *ModelSession, conf float32, timings *models.ProcessingTimings) ([]models.Detection, error) {
	cfg := model.Config
	size := cfg.inputSize()

	resizeStart := time.Now()
	resized := imaging.Resize(img, size, size, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	model.preprocessor.Process(resized, model.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := model.Session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	candidates, err := processPredictions(
		model.Output.GetData(),
		len(cfg.Labels),
		cfg.NumPredictions(),
		size,
		img.Bounds().Dx(),
		img.Bounds().Dy(),
		conf,
	)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)

	nmsStart := time.Now()
	kept := nonMaxSuppression(candidates, cfg.iouThreshold())
	timings.NMS = time.Since(nmsStart)

	return toDetections(kept, cfg.Labels), nil
}

// processPredictions decodes a [4+classes, n] channel-major YOLOv8 output.
// Boxes are center x, center y, width and height in model input pixels.
// Predictions whose best class score is below threshold are dropped.
func processPredictions(predictions []float32, numClasses, numPredictions, inputSize, originalWidth, originalHeight int, threshold float32) ([]candidate, error) {
	expectedSize := (4 + numClasses) * numPredictions
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	n := numPredictions
	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []candidate, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]candidate, 0, 64)

			for start := range jobs {
				end := start + chunkSize
				if end > n {
					end = n
				}

				for i := start; i < end; i++ {
					best, class := float32(0), -1
					for c := 0; c < numClasses; c++ {
						if score := predictions[(4+c)*n+i]; score > best {
							best, class = score, c
						}
					}
					if class < 0 || best < threshold {
						continue
					}
					local = append(local, candidate{
						BBox: calculateBBox(
							[]float32{
								predictions[i],
								predictions[n+i],
								predictions[2*n+i],
								predictions[3*n+i],
							},
							float32(inputSize),
							float32(originalWidth),
							float32(originalHeight),
						),
						Confidence: best,
						Class:      class,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < n; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	candidates := make([]candidate, 0, 100)
	for chunk := range results {
		candidates = append(candidates, chunk...)
	}

	sortByConfidence(candidates)
	return candidates, nil
}

func calculateBBox(coords []float32, inputSize, origWidth, origHeight float32) [4]float32 {
	scaleX := origWidth / inputSize
	scaleY := origHeight / inputSize

	centerX, centerY := coords[0], coords[1]
	width, height := coords[2], coords[3]

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return [4]float32{
		clamp(x1, 0, origWidth),
		clamp(y1, 0, origHeight),
		clamp(x2, 0, origWidth),
		clamp(y2, 0, origHeight),
	}
}

// sortByConfidence orders best first, breaking ties by class and position so
// worker scheduling never changes the result.
func sortByConfidence(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		if c[i].Class != c[j].Class {
			return c[i].Class < c[j].Class
		}
		return c[i].BBox[0] < c[j].BBox[0] || (c[i].BBox[0] == c[j].BBox[0] && c[i].BBox[1] < c[j].BBox[1])
	})
}

func toDetections(kept []candidate, labels []string) []models.Detection {
	out := make([]models.Detection, 0, len(kept))
	for _, c := range kept {
		if c.Class >= len(labels) {
			continue
		}
		out = append(out, models.Detection{
			Label:      labels[c.Class],
			Confidence: float64(c.Confidence),
			BBox: [4]float64{
				float64(c.BBox[0]),
				float64(c.BBox[1]),
				float64(c.BBox[2]),
				float64(c.BBox[3]),
			},
		})
	}
	return out
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
