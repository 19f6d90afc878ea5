package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelConfig describes a YOLOv8 detection export.
type ModelConfig struct {
	Path string
	// InputSize is the square input edge in pixels.
	InputSize int
	// Labels is the class vocabulary in model output order.
	Labels []string
	// IouThreshold is the overlap above which NMS suppresses a box.
	IouThreshold float32
}

func (c ModelConfig) inputSize() int {
	if c.InputSize <= 0 {
		return DefaultInputSize
	}
	return c.InputSize
}

func (c ModelConfig) iouThreshold() float32 {
	if c.IouThreshold <= 0 {
		return IouThreshold
	}
	return c.IouThreshold
}

// NumPredictions is the anchor count of a YOLOv8 head with strides 8, 16
// and 32, e.g. 8400 for a 640 input.
func (c ModelConfig) NumPredictions() int {
	s := c.inputSize()
	return (s/8)*(s/8) + (s/16)*(s/16) + (s/32)*(s/32)
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
	Config  ModelConfig

	preprocessor *Preprocessor
}

// NewModelSession creates an inference session with its own input and
// output tensors. The ONNX Runtime environment must already be initialized.
func NewModelSession(cfg ModelConfig) (*ModelSession, error) {
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model %s: empty label vocabulary", cfg.Path)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	size := int64(cfg.inputSize())
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, int64(4+len(cfg.Labels)), int64(cfg.NumPredictions()))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.Path,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:      session,
		Input:        inputTensor,
		Output:       outputTensor,
		Config:       cfg,
		preprocessor: NewPreprocessor(cfg.inputSize()),
	}, nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}
