package whisperx

// Config captures runtime settings for WhisperX operations.
type Config struct {
	// Model is the WhisperX model to use (e.g., "medium", "large-v3").
	Model string
	// Device is "cpu" or "cuda".
	Device string
	// ComputeType overrides the CPU compute type.
	ComputeType string
	// VADMethod selects the voice activity detection method ("silero",
	// "pyannote", or "none").
	VADMethod string
	// HFToken is the Hugging Face token required for diarization and pyannote VAD.
	HFToken string
	// CacheDir is passed to WhisperX as its model directory.
	CacheDir string
	// MinSpeakers and MaxSpeakers bound diarization when positive.
	MinSpeakers int
	MaxSpeakers int
}

// WhisperX invocation constants.
const (
	DefaultModel      = "medium"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "8"
	BeamSize          = "5"
	Temperature       = "0.0"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
	// VADMethodNone keeps every frame as speech: silero runs with thresholds
	// low enough that nothing is filtered out.
	VADMethodNone = "none"
	// PermissiveVADThreshold is the onset and offset used by VADMethodNone.
	PermissiveVADThreshold = "0.01"
	UVXCommand             = "uvx"
)
