package detections

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts a model-sized image into a planar RGB float buffer
// scaled to [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		width:      size,
		height:     size,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, size*size*3)
				return &buf
			},
		},
	}
}

// Process fills dst, which must hold width*height*3 values, from img.
func (p *Preprocessor) Process(img image.Image, dst []float32) {
	bufPtr := p.bufferPool.Get().(*[]float32)
	defer p.bufferPool.Put(bufPtr)

	buffer := *bufPtr
	p.processParallel(img, buffer)
	copy(dst, buffer)
}

func (p *Preprocessor) processParallel(img image.Image, buffer []float32) {
	channelSize := p.width * p.height
	workers := p.numWorkers
	if workers > p.height {
		workers = p.height
	}
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := p.height / workers
	bounds := img.Bounds()

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
					buffer[i] = float32(r>>8) / 255.0
					buffer[channelSize+i] = float32(g>>8) / 255.0
					buffer[channelSize*2+i] = float32(b>>8) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
