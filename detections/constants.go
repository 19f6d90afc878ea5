package detections

const (
	DefaultInputSize = 640
	IouThreshold     = 0.45
	RetryAttempts    = 3
	RetryDelayMs     = 100
)
