package whisperx

import "time"

// Config captures runtime settings for WhisperX operations.
type Config struct {
	// Model is the WhisperX model to use (e.g., "large-v3").
	Model string
	// Device selects the compute device ("cpu" or "cuda").
	Device string
	// ComputeType is passed to WhisperX for CPU inference (e.g., "int8").
	ComputeType string
	// Diarize enables speaker diarization. Requires HFToken.
	Diarize bool
	// HFToken is the Hugging Face token for pyannote models.
	HFToken string
	// Timeout bounds a single transcription run. Zero means no client-side
	// timeout.
	Timeout time.Duration
}

// WhisperX configuration constants.
const (
	DefaultModel       = "large-v3"
	BatchSize          = "4"
	OutputFormat       = "json"
	CPUDevice          = "cpu"
	CUDADevice         = "cuda"
	PypiIndexURL       = "https://pypi.org/simple"
	CUDAIndexURL       = "https://download.pytorch.org/whl/cu128"
	DefaultComputeType = "int8"
)

// UVXCommand launches WhisperX through uv's tool runner so no permanent
// install is needed.
const UVXCommand = "uvx"
